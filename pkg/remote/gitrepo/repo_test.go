package gitrepo

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	butil "github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	cachefs "github.com/oneconcern/catsync/pkg/cache/fs"
	"github.com/oneconcern/catsync/pkg/engine"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	"github.com/oneconcern/catsync/pkg/remote/mocks"
	"github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIdentity = "git.example.com/acme/catalog"
	testBranch   = "master" // go-git init default
)

func testRepo(t *testing.T) (*gogit.Worktree, *Repo) {
	repo, err := gogit.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return wt, New(testIdentity, repo, Logger(mocks.TestLogger()))
}

func sig() *object.Signature {
	return &object.Signature{
		Name:  "fixture",
		Email: "fixture@example.com",
		When:  time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func commitFiles(t *testing.T, wt *gogit.Worktree, msg string, files map[string]string) string {
	for pth, body := range files {
		require.NoError(t, butil.WriteFile(wt.Filesystem, pth, []byte(body), 0644))
		_, err := wt.Add(pth)
		require.NoError(t, err)
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: sig()})
	require.NoError(t, err)
	return hash.String()
}

func TestHeadCommit(t *testing.T) {
	wt, r := testRepo(t)
	commitFiles(t, wt, "seed", map[string]string{"records/a.yaml": "id: a\n"})
	c2 := commitFiles(t, wt, "more", map[string]string{"records/b.yaml": "id: b\n"})

	head, err := r.HeadCommit(context.Background(), testBranch)
	require.NoError(t, err)
	assert.Equal(t, c2, head.ID)
	assert.Equal(t, testBranch, head.Branch)
	assert.Equal(t, "fixture", head.Author.Name)

	_, err = r.HeadCommit(context.Background(), "no-such-branch")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestCommitsSince(t *testing.T) {
	wt, r := testRepo(t)
	c1 := commitFiles(t, wt, "one", map[string]string{"records/a.yaml": "id: a\n"})
	c2 := commitFiles(t, wt, "two", map[string]string{"records/a.yaml": "id: a\nv: 2\n"})
	c3 := commitFiles(t, wt, "three", map[string]string{"records/b.yaml": "id: b\n"})

	commits, err := r.CommitsSince(context.Background(), c1, testBranch)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, c2, commits[0].ID, "oldest first")
	assert.Equal(t, c3, commits[1].ID)

	commits, err = r.CommitsSince(context.Background(), c3, testBranch)
	require.NoError(t, err)
	assert.Empty(t, commits)

	all, err := r.CommitsSince(context.Background(), "", testBranch)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = r.CommitsSince(context.Background(), "f000000000000000000000000000000000000000", testBranch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrUnknownCommit))
}

func TestChangedPaths(t *testing.T) {
	wt, r := testRepo(t)
	c1 := commitFiles(t, wt, "seed", map[string]string{
		"records/a.yaml": "id: a\n",
		"records/b.yaml": "id: b\n",
	})
	c2 := commitFiles(t, wt, "edit", map[string]string{"records/a.yaml": "id: a\nv: 2\n"})

	changes, err := r.ChangedPaths(context.Background(), c1, c2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "records/a.yaml", changes[0].Path)
	assert.Equal(t, model.ChangeModified, changes[0].Kind)

	// delete
	_, err = wt.Remove("records/b.yaml")
	require.NoError(t, err)
	hash, err := wt.Commit("drop b", &gogit.CommitOptions{Author: sig()})
	require.NoError(t, err)
	changes, err = r.ChangedPaths(context.Background(), c2, hash.String())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "records/b.yaml", changes[0].Path)
	assert.Equal(t, model.ChangeDeleted, changes[0].Kind)

	// rename with identical content
	c3 := hash.String()
	_, err = wt.Move("records/a.yaml", "records/renamed.yaml")
	require.NoError(t, err)
	hash, err = wt.Commit("rename a", &gogit.CommitOptions{Author: sig()})
	require.NoError(t, err)
	changes, err = r.ChangedPaths(context.Background(), c3, hash.String())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeRenamed, changes[0].Kind)
	assert.Equal(t, "records/renamed.yaml", changes[0].Path)
	assert.Equal(t, "records/a.yaml", changes[0].PrevPath)
}

func TestFileAt(t *testing.T) {
	wt, r := testRepo(t)
	c1 := commitFiles(t, wt, "seed", map[string]string{"records/a.yaml": "id: a\n"})
	c2 := commitFiles(t, wt, "edit", map[string]string{"records/a.yaml": "id: a\nv: 2\n"})

	body, err := r.FileAt(context.Background(), c1, "records/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: a\n", string(body), "content as of the requested commit")

	body, err = r.FileAt(context.Background(), c2, "records/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: a\nv: 2\n", string(body))

	_, err = r.FileAt(context.Background(), c2, "records/nope.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestSnapshotArchive(t *testing.T) {
	wt, r := testRepo(t)
	c1 := commitFiles(t, wt, "seed", map[string]string{
		"records/a.yaml": "id: a\n",
		"records/b.yaml": "id: b\n",
		"README.md":      "docs\n",
	})

	it, err := r.SnapshotArchive(context.Background(), c1)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	out := make(map[string]string)
	for it.Next() {
		f := it.File()
		out[f.Path] = string(f.Body)
	}
	require.NoError(t, it.Err())
	assert.Len(t, out, 3)
	assert.Equal(t, "id: a\n", out["records/a.yaml"])
}

func TestCreateCommit(t *testing.T) {
	wt, r := testRepo(t)
	commitFiles(t, wt, "seed", map[string]string{"records/a.yaml": "id: a\n"})

	ref, err := r.CreateCommit(context.Background(), remote.CommitInput{
		Branch:  testBranch,
		Title:   "add b",
		Message: "details",
		Author:  model.Contributor{Name: "pusher", Email: "pusher@example.com"},
		Files:   []remote.File{{Path: "records/b.yaml", Body: []byte("id: b\n")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "add b\n\ndetails", ref.Message)
	assert.Equal(t, "pusher", ref.Author.Name)

	head, err := r.HeadCommit(context.Background(), testBranch)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, head.ID)

	body, err := r.FileAt(context.Background(), ref.ID, "records/b.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: b\n", string(body))

	_, err = r.CreateCommit(context.Background(), remote.CommitInput{Branch: testBranch, Title: "empty"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrEmptyChangeset))
}

// TestSyncAgainstGitRepo exercises the sync engine against a real git
// history: populate, incremental catch-up, then a deletion forcing a
// full rebuild.
func TestSyncAgainstGitRepo(t *testing.T) {
	wt, r := testRepo(t)
	commitFiles(t, wt, "seed", map[string]string{
		"records/a.yaml": "id: a\n",
		"records/b.yaml": "id: b\n",
	})

	store := cachefs.New(afero.NewMemMapFs())
	defer func() { require.NoError(t, store.Close()) }()
	eng := engine.New(r, store,
		engine.Branch(testBranch),
		engine.Logger(mocks.TestLogger()),
	)

	require.NoError(t, eng.EnsureFresh(context.Background()))
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Hashes, 2)

	// incremental pass over two commits
	commitFiles(t, wt, "edit a", map[string]string{"records/a.yaml": "id: a\nv: 2\n"})
	c4 := commitFiles(t, wt, "add c", map[string]string{"records/c.yaml": "id: c\n"})
	require.NoError(t, eng.EnsureFresh(context.Background()))
	snap, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c4, snap.Head.CommitID)
	assert.Len(t, snap.Hashes, 3)
	assert.Equal(t, model.MustFingerprint([]byte("id: a\nv: 2\n")), snap.Hashes["a"])

	// deletion: the incremental path must give way to a rebuild that
	// drops the entry
	_, err = wt.Remove("records/b.yaml")
	require.NoError(t, err)
	_, err = wt.Commit("drop b", &gogit.CommitOptions{Author: sig()})
	require.NoError(t, err)
	require.NoError(t, eng.EnsureFresh(context.Background()))
	snap, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Hashes, 2)
	assert.NotContains(t, snap.Hashes, "b")
}

func TestOpenMissingRepository(t *testing.T) {
	_, err := Open(t.TempDir(), testIdentity)
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	_, r := testRepo(t)
	assert.Equal(t, testIdentity, r.Identity())
}

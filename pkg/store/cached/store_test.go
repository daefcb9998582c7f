package cached

import (
	"context"
	"fmt"
	"os"
	"testing"

	jsoniter "github.com/json-iterator/go"
	cachefs "github.com/oneconcern/catsync/pkg/cache/fs"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote/mocks"
	remotestatus "github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIdentity = "fake.example.com/acme/catalog"

func testConfig() store.Config {
	return store.Config{CacheDir: "unused", Branch: "main"}
}

func testSetup(t *testing.T) (*mocks.Repo, afero.Fs, *Store) {
	repo := mocks.NewRepo(testIdentity)
	cfs := afero.NewMemMapFs()
	s, err := New(testConfig(), repo,
		WithCache(cachefs.New(cfs)),
		Logger(mocks.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return repo, cfs, s
}

func frozenOver(t *testing.T, cfs afero.Fs) *Store {
	s, err := NewFrozen(testConfig(),
		WithCache(cachefs.New(cfs)),
		Logger(mocks.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func body(id string, version int) []byte {
	return []byte(fmt.Sprintf("kind: site\nid: %s\nversion: %d\n", id, version))
}

func recordPath(id string) string {
	return model.PathForRecord(model.DefaultRecordPrefix, id)
}

func collect(t *testing.T, s store.Store, filters ...store.Filter) map[string]model.RecordRevision {
	it, err := s.Select(context.Background(), filters...)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	out := make(map[string]model.RecordRevision)
	for it.Next() {
		rev := it.Revision()
		out[rev.Record.ID] = rev
	}
	require.NoError(t, it.Err())
	return out
}

// fsDump captures the full cache layout, byte for byte: the three
// metadata files plus every record body the hash map tracks.
func fsDump(t *testing.T, cfs afero.Fs) map[string]string {
	out := make(map[string]string)
	read := func(pth string) {
		payload, err := afero.ReadFile(cfs, pth)
		if err != nil {
			require.True(t, os.IsNotExist(err))
			return
		}
		out[pth] = string(payload)
	}
	read(model.GetPathToHeadMarker())
	read(model.GetPathToHashes())
	read(model.GetPathToCommits())
	read(model.GetPathToSyncLock())
	var hashes map[string]string
	if payload, ok := out[model.GetPathToHashes()]; ok {
		require.NoError(t, jsoniter.UnmarshalFromString(payload, &hashes))
	}
	for id := range hashes {
		read(model.GetPathToRecord(id))
	}
	return out
}

func TestSelectRefreshesThenStreams(t *testing.T) {
	repo, _, s := testSetup(t)
	c1 := repo.Apply("seed",
		mocks.Put(recordPath("site-a"), body("site-a", 1)),
		mocks.Put(recordPath("site-b"), body("site-b", 1)),
		mocks.Put("README.md", []byte("not a record")),
	)

	revs := collect(t, s)
	require.Len(t, revs, 2)
	assert.Equal(t, c1.ID, revs["site-a"].CommitID)
	assert.Equal(t, model.MustFingerprint(body("site-b", 1)), revs["site-b"].Hash)
	assert.Equal(t, recordPath("site-a"), revs["site-a"].Record.Path)
	assert.Equal(t, 1, repo.Calls().SnapshotArchive)

	// filters compose on the same stream
	only := collect(t, s, store.ByIDs("site-b"))
	require.Len(t, only, 1)
	assert.Contains(t, only, "site-b")
}

func TestSelectServesStaleWhenRemoteIsDown(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	require.Len(t, collect(t, s), 1)

	repo.SetErr(remotestatus.ErrUnavailable)

	revs := collect(t, s)
	require.Len(t, revs, 1, "reads degrade to the cached snapshot")

	_, err := s.SelectOne(context.Background(), "site-a")
	assert.NoError(t, err)
}

func TestSelectFailsWhenRemoteDownAndCacheEmpty(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	repo.SetErr(remotestatus.ErrUnavailable)

	_, err := s.Select(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, remotestatus.ErrUnavailable))
}

func TestSelectOne(t *testing.T) {
	repo, _, s := testSetup(t)
	c1 := repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))

	rev, err := s.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, rev.CommitID)
	assert.Equal(t, body("site-a", 1), rev.Record.Body)

	// second read of the same head comes from the hot cache
	again, err := s.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, rev, again)

	_, err = s.SelectOne(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRecordNotFound))
}

func TestPushThenIncrementalPickup(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	require.Len(t, collect(t, s), 1)
	repo.ResetCalls()

	res, err := s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "site-b", Body: body("site-b", 1)}},
		Title:   "add site-b",
		Author:  model.Contributor{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, repo.Head().ID, res.CommitID)

	revs := collect(t, s)
	require.Len(t, revs, 2)
	assert.Equal(t, res.CommitID, revs["site-b"].CommitID)

	calls := repo.Calls()
	assert.Equal(t, 1, calls.CreateCommit)
	assert.Zero(t, calls.SnapshotArchive, "a pushed commit is picked up incrementally")
	assert.Equal(t, 1, calls.FileAt)
}

func TestPushValidation(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	author := model.Contributor{Name: "tester", Email: "tester@example.com"}

	_, err := s.Push(context.Background(), model.Changeset{Title: "empty", Author: author})
	assert.True(t, errors.Is(err, status.ErrEmptyChangeset))

	_, err = s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "../escape", Body: []byte("x")}},
		Title:   "bad id", Author: author,
	})
	assert.True(t, errors.Is(err, status.ErrInvalidRecord))

	huge := make([]byte, store.DefaultMaxRecordSize+1)
	_, err = s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "big", Body: huge}},
		Title:   "big", Author: author,
	})
	assert.True(t, errors.Is(err, status.ErrRecordTooLarge))
}

func TestPushNeverDegradesToStale(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	require.Len(t, collect(t, s), 1)
	repo.SetErr(remotestatus.ErrUnavailable)

	_, err := s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "site-b", Body: body("site-b", 1)}},
		Title:   "add site-b",
		Author:  model.Contributor{Name: "tester", Email: "tester@example.com"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remotestatus.ErrUnavailable))
}

func TestFrozenIsolation(t *testing.T) {
	repo, cfs, s := testSetup(t)
	c1 := repo.Apply("seed",
		mocks.Put(recordPath("site-a"), body("site-a", 1)),
		mocks.Put(recordPath("site-b"), body("site-b", 1)),
	)
	require.NoError(t, s.Sync(context.Background()))
	repo.ResetCalls()

	frozen := frozenOver(t, cfs)
	assert.True(t, frozen.Frozen())
	before := fsDump(t, cfs)

	revs := collect(t, frozen)
	require.Len(t, revs, 2)
	assert.Equal(t, c1.ID, revs["site-a"].CommitID)

	rev, err := frozen.SelectOne(context.Background(), "site-b")
	require.NoError(t, err)
	assert.Equal(t, body("site-b", 1), rev.Record.Body)

	_, err = frozen.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "site-c", Body: body("site-c", 1)}},
		Title:   "denied",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrFrozenViolation))
	assert.True(t, errors.Is(frozen.Sync(context.Background()), status.ErrFrozenViolation))

	assert.Equal(t, before, fsDump(t, cfs), "frozen access leaves the cache byte-identical")
	assert.Equal(t, mocks.Calls{}, repo.Calls(), "frozen access performs no remote call")
}

func TestFrozenKeepsItsSnapshot(t *testing.T) {
	repo, cfs, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	require.NoError(t, s.Sync(context.Background()))

	frozen := frozenOver(t, cfs)

	// the cache advances underneath: the frozen handle keeps serving
	// its construction-time state, bodies included
	repo.Apply("edit", mocks.Put(recordPath("site-a"), body("site-a", 2)))
	require.NoError(t, s.Sync(context.Background()))

	rev, err := frozen.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, body("site-a", 1), rev.Record.Body)
	assert.Equal(t, model.MustFingerprint(body("site-a", 1)), rev.Hash)

	it, err := frozen.Select(context.Background())
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, body("site-a", 1), it.Revision().Record.Body)
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	// even a purge of the directory does not reach a frozen reader
	require.NoError(t, s.Purge(context.Background()))
	rev, err = frozen.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, body("site-a", 1), rev.Record.Body)
}

func TestFrozenOverEmptyCacheFails(t *testing.T) {
	_, err := NewFrozen(testConfig(),
		WithCache(cachefs.New(afero.NewMemMapFs())),
		Logger(mocks.TestLogger()),
	)
	require.Error(t, err, "freezing an unpopulated cache is refused")
}

func TestPurge(t *testing.T) {
	repo, cfs, s := testSetup(t)
	repo.Apply("seed", mocks.Put(recordPath("site-a"), body("site-a", 1)))
	require.Len(t, collect(t, s), 1)

	require.NoError(t, s.Purge(context.Background()))
	exists, err := afero.Exists(cfs, model.GetPathToHeadMarker())
	require.NoError(t, err)
	assert.False(t, exists)

	// next access repopulates
	require.Len(t, collect(t, s), 1)
}

func TestIDs(t *testing.T) {
	repo, _, s := testSetup(t)
	repo.Apply("seed",
		mocks.Put(recordPath("site-b"), body("site-b", 1)),
		mocks.Put(recordPath("site-a"), body("site-a", 1)),
	)
	require.NoError(t, s.Sync(context.Background()))

	ids, err := s.IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"site-a", "site-b"}, ids)
}

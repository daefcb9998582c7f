// Package mocks provides an in-memory scripted implementation of the
// remote repository contract, used by sync and store tests to assert
// exactly which remote calls a scenario performs.
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	"github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/segmentio/ksuid"
)

// Calls counts remote operations by name.
type Calls struct {
	HeadCommit      int
	SnapshotArchive int
	CommitsSince    int
	ChangedPaths    int
	FileAt          int
	CreateCommit    int
}

type commitState struct {
	ref     model.CommitRef
	tree    map[string][]byte
	changes []model.PathChange
}

// Repo is a fake remote with a single branch and a linear history.
//
// Histories are seeded with Apply and file operations:
//
//	r := mocks.NewRepo("fake.example.com/acme/catalog")
//	r.Apply("seed", mocks.Put("records/a.yaml", body))
//	r.Apply("edit", mocks.Put("records/a.yaml", body2), mocks.Delete("records/b.yaml"))
//
// All methods are safe for concurrent use.
type Repo struct {
	mu       sync.Mutex
	identity string
	branch   string
	commits  []commitState
	calls    Calls
	failWith error
	clock    time.Time
}

// Option tunes a mock repo.
type Option func(*Repo)

// Branch sets the branch name served by the mock, "main" by default.
func Branch(name string) Option {
	return func(r *Repo) {
		r.branch = name
	}
}

// NewRepo builds an empty fake remote with the given instance identity.
func NewRepo(identity string, opts ...Option) *Repo {
	r := &Repo{
		identity: identity,
		branch:   "main",
		clock:    time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// FileOp mutates the candidate tree for the next commit.
type FileOp func(tree map[string][]byte, changes *[]model.PathChange)

// Put adds or overwrites a file.
func Put(path string, body []byte) FileOp {
	return func(tree map[string][]byte, changes *[]model.PathChange) {
		tree[path] = append([]byte(nil), body...)
		*changes = append(*changes, model.PathChange{Path: path, Kind: model.ChangeModified})
	}
}

// Delete removes a file.
func Delete(path string) FileOp {
	return func(tree map[string][]byte, changes *[]model.PathChange) {
		delete(tree, path)
		*changes = append(*changes, model.PathChange{Path: path, Kind: model.ChangeDeleted})
	}
}

// Rename moves a file to a new path, keeping its body.
func Rename(from, to string) FileOp {
	return func(tree map[string][]byte, changes *[]model.PathChange) {
		body := tree[from]
		delete(tree, from)
		tree[to] = body
		*changes = append(*changes, model.PathChange{Path: to, Kind: model.ChangeRenamed, PrevPath: from})
	}
}

// Apply appends one commit built from the previous tree plus the given
// operations, and returns its ref.
func (r *Repo) Apply(message string, ops ...FileOp) model.CommitRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(message, model.Contributor{Name: "fixture", Email: "fixture@example.com"}, ops...)
}

func (r *Repo) applyLocked(message string, author model.Contributor, ops ...FileOp) model.CommitRef {
	tree := make(map[string][]byte)
	if len(r.commits) > 0 {
		for k, v := range r.commits[len(r.commits)-1].tree {
			tree[k] = v
		}
	}
	var changes []model.PathChange
	for _, op := range ops {
		op(tree, &changes)
	}
	r.clock = r.clock.Add(time.Minute)
	ref := model.CommitRef{
		ID:        ksuid.New().String(),
		Branch:    r.branch,
		Message:   message,
		Author:    author,
		Timestamp: r.clock,
	}
	r.commits = append(r.commits, commitState{ref: ref, tree: tree, changes: changes})
	return ref
}

// SetErr makes every subsequent call fail with err until cleared with
// SetErr(nil).
func (r *Repo) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// Calls returns a snapshot of the per-method call counters.
func (r *Repo) Calls() Calls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ResetCalls zeroes the call counters.
func (r *Repo) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = Calls{}
}

// Head returns the newest commit ref, or a zero ref on an empty repo.
func (r *Repo) Head() model.CommitRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commits) == 0 {
		return model.CommitRef{}
	}
	return r.commits[len(r.commits)-1].ref
}

func (r *Repo) indexOfLocked(commitID string) int {
	for i := range r.commits {
		if r.commits[i].ref.ID == commitID {
			return i
		}
	}
	return -1
}

func (r *Repo) guard(ctx context.Context, count *int) error {
	*count++
	if err := ctx.Err(); err != nil {
		return status.ErrUnavailable.Wrap(err)
	}
	return r.failWith
}

// Identity implements remote.Repository.
func (r *Repo) Identity() string {
	return r.identity
}

// HeadCommit implements remote.Repository.
func (r *Repo) HeadCommit(ctx context.Context, branch string) (model.CommitRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.HeadCommit); err != nil {
		return model.CommitRef{}, err
	}
	if branch != r.branch || len(r.commits) == 0 {
		return model.CommitRef{}, status.ErrNotFound
	}
	return r.commits[len(r.commits)-1].ref, nil
}

// SnapshotArchive implements remote.Repository.
func (r *Repo) SnapshotArchive(ctx context.Context, commitID string) (remote.ArchiveIterator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.SnapshotArchive); err != nil {
		return nil, err
	}
	i := r.indexOfLocked(commitID)
	if i < 0 {
		return nil, status.ErrUnknownCommit
	}
	files := make([]remote.File, 0, len(r.commits[i].tree))
	for p, body := range r.commits[i].tree {
		files = append(files, remote.File{Path: p, Body: body})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].Path < files[b].Path })
	return &archiveIterator{files: files, idx: -1}, nil
}

// CommitsSince implements remote.Repository.
func (r *Repo) CommitsSince(ctx context.Context, sinceID, branch string) ([]model.CommitRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.CommitsSince); err != nil {
		return nil, err
	}
	if branch != r.branch {
		return nil, status.ErrNotFound
	}
	from := 0
	if sinceID != "" {
		i := r.indexOfLocked(sinceID)
		if i < 0 {
			return nil, status.ErrUnknownCommit
		}
		from = i + 1
	}
	out := make([]model.CommitRef, 0, len(r.commits)-from)
	for _, c := range r.commits[from:] {
		out = append(out, c.ref)
	}
	return out, nil
}

// ChangedPaths implements remote.Repository.
func (r *Repo) ChangedPaths(ctx context.Context, fromID, toID string) ([]model.PathChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.ChangedPaths); err != nil {
		return nil, err
	}
	i, j := r.indexOfLocked(fromID), r.indexOfLocked(toID)
	if i < 0 || j < 0 || i > j {
		return nil, status.ErrUnknownCommit
	}
	var out []model.PathChange
	for _, c := range r.commits[i+1 : j+1] {
		out = append(out, c.changes...)
	}
	return out, nil
}

// FileAt implements remote.Repository.
func (r *Repo) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.FileAt); err != nil {
		return nil, err
	}
	i := r.indexOfLocked(commitID)
	if i < 0 {
		return nil, status.ErrUnknownCommit
	}
	body, ok := r.commits[i].tree[path]
	if !ok {
		return nil, status.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// CreateCommit implements remote.Repository.
func (r *Repo) CreateCommit(ctx context.Context, in remote.CommitInput) (model.CommitRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard(ctx, &r.calls.CreateCommit); err != nil {
		return model.CommitRef{}, err
	}
	if in.Branch != r.branch {
		return model.CommitRef{}, status.ErrNotFound
	}
	if len(in.Files) == 0 {
		return model.CommitRef{}, status.ErrEmptyChangeset
	}
	ops := make([]FileOp, 0, len(in.Files))
	for _, f := range in.Files {
		ops = append(ops, Put(f.Path, f.Body))
	}
	msg := in.Title
	if in.Message != "" {
		msg = in.Title + "\n\n" + in.Message
	}
	return r.applyLocked(msg, in.Author, ops...), nil
}

type archiveIterator struct {
	files []remote.File
	idx   int
}

func (it *archiveIterator) Next() bool {
	if it.idx+1 >= len(it.files) {
		return false
	}
	it.idx++
	return true
}

func (it *archiveIterator) File() remote.File {
	return it.files[it.idx]
}

func (it *archiveIterator) Err() error { return nil }

func (it *archiveIterator) Close() error { return nil }

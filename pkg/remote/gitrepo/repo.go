// Copyright © 2019 One Concern

// Package gitrepo adapts any git repository reachable through go-git
// to the remote repository contract: a local checkout, a bare mirror
// or an in-memory repository in tests.
//
// The adapter assumes the linear history the sync protocol is designed
// for and walks first-parent chains when listing commits.
package gitrepo

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	"github.com/oneconcern/catsync/pkg/remote/status"
	"go.uber.org/zap"

	butil "github.com/go-git/go-billy/v5/util"
)

var _ remote.Repository = &Repo{}

// Repo serves the remote contract off a go-git repository.
type Repo struct {
	// wmu serializes worktree mutations: CreateCommit checks out and
	// commits on the shared worktree
	wmu      sync.Mutex
	repo     *gogit.Repository
	identity string
	l        *zap.Logger
}

// Option is a functor to build a git adapter with some options
type Option func(*Repo)

// Logger injects a logging facility into the adapter
func Logger(l *zap.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.l = l
		}
	}
}

// New wraps an already opened go-git repository. The identity names
// the remote instance, e.g. "git.example.com/acme/catalog": caches
// populated under one identity are never incrementally updated from
// another.
func New(identity string, repo *gogit.Repository, opts ...Option) *Repo {
	r := &Repo{
		repo:     repo,
		identity: identity,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// Open opens the repository at path. When no identity is given, the
// URL of the origin remote is used.
func Open(path, identity string, opts ...Option) (*Repo, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %q: %w", path, err)
	}
	if identity == "" {
		origin, rerr := repo.Remote("origin")
		if rerr != nil || len(origin.Config().URLs) == 0 {
			return nil, fmt.Errorf("repository %q has no origin remote, an identity is required", path)
		}
		identity = origin.Config().URLs[0]
	}
	return New(identity, repo, opts...), nil
}

// Identity implements remote.Repository.
func (r *Repo) Identity() string {
	return r.identity
}

// HeadCommit implements remote.Repository.
func (r *Repo) HeadCommit(ctx context.Context, branch string) (model.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return model.CommitRef{}, status.ErrUnavailable.Wrap(err)
	}
	commit, err := r.branchTip(branch)
	if err != nil {
		return model.CommitRef{}, err
	}
	return toCommitRef(commit, branch), nil
}

// SnapshotArchive implements remote.Repository.
func (r *Repo) SnapshotArchive(ctx context.Context, commitID string) (remote.ArchiveIterator, error) {
	commit, err := r.commitObject(commitID)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, mapErr(err)
	}
	return &treeIterator{ctx: ctx, files: tree.Files()}, nil
}

// CommitsSince implements remote.Repository, walking the first-parent
// chain from the branch tip back to sinceID.
func (r *Repo) CommitsSince(ctx context.Context, sinceID, branch string) ([]model.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.ErrUnavailable.Wrap(err)
	}
	tip, err := r.branchTip(branch)
	if err != nil {
		return nil, err
	}
	var pending []model.CommitRef
	cur := tip
	found := false
	for {
		if sinceID != "" && cur.Hash.String() == sinceID {
			found = true
			break
		}
		pending = append(pending, toCommitRef(cur, branch))
		if cur.NumParents() == 0 {
			break
		}
		if cur, err = cur.Parent(0); err != nil {
			return nil, mapErr(err)
		}
	}
	if sinceID != "" && !found {
		return nil, status.ErrUnknownCommit.Wrap(
			fmt.Errorf("commit %q is not a first-parent ancestor of %q", sinceID, branch))
	}
	// walked newest first, replayed oldest first
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending, nil
}

// ChangedPaths implements remote.Repository. Renames are detected by
// content, the way git surfaces them.
func (r *Repo) ChangedPaths(ctx context.Context, fromID, toID string) ([]model.PathChange, error) {
	var fromTree *object.Tree
	if fromID != "" {
		fromCommit, err := r.commitObject(fromID)
		if err != nil {
			return nil, err
		}
		if fromTree, err = fromCommit.Tree(); err != nil {
			return nil, mapErr(err)
		}
	}
	toCommit, err := r.commitObject(toID)
	if err != nil {
		return nil, err
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, mapErr(err)
	}

	diff, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.PathChange, 0, len(diff))
	for _, change := range diff {
		action, aerr := change.Action()
		if aerr != nil {
			return nil, aerr
		}
		switch action {
		case merkletrie.Delete:
			out = append(out, model.PathChange{Path: change.From.Name, Kind: model.ChangeDeleted})
		case merkletrie.Insert:
			out = append(out, model.PathChange{Path: change.To.Name, Kind: model.ChangeModified})
		default:
			if change.From.Name != change.To.Name {
				out = append(out, model.PathChange{
					Path:     change.To.Name,
					Kind:     model.ChangeRenamed,
					PrevPath: change.From.Name,
				})
				continue
			}
			out = append(out, model.PathChange{Path: change.To.Name, Kind: model.ChangeModified})
		}
	}
	return out, nil
}

// FileAt implements remote.Repository.
func (r *Repo) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.ErrUnavailable.Wrap(err)
	}
	commit, err := r.commitObject(commitID)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(path)
	if err != nil {
		return nil, mapErr(err)
	}
	rdr, err := file.Blob.Reader()
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() {
		_ = rdr.Close()
	}()
	return io.ReadAll(rdr)
}

// CreateCommit implements remote.Repository: the files are written on
// the branch's worktree and committed as a single commit.
func (r *Repo) CreateCommit(ctx context.Context, in remote.CommitInput) (model.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return model.CommitRef{}, status.ErrUnavailable.Wrap(err)
	}
	if len(in.Files) == 0 {
		return model.CommitRef{}, status.ErrEmptyChangeset
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return model.CommitRef{}, fmt.Errorf("worktree: %w", err)
	}
	if err = r.checkoutLocked(wt, in.Branch); err != nil {
		return model.CommitRef{}, err
	}
	for _, f := range in.Files {
		if err = butil.WriteFile(wt.Filesystem, f.Path, f.Body, 0644); err != nil {
			return model.CommitRef{}, fmt.Errorf("write %q: %w", f.Path, err)
		}
		if _, err = wt.Add(f.Path); err != nil {
			return model.CommitRef{}, fmt.Errorf("stage %q: %w", f.Path, err)
		}
	}

	msg := in.Title
	if in.Message != "" {
		msg = in.Title + "\n\n" + in.Message
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  in.Author.Name,
			Email: in.Author.Email,
			When:  time.Now().UTC(),
		},
	})
	if err != nil {
		return model.CommitRef{}, mapErr(err)
	}
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return model.CommitRef{}, mapErr(err)
	}
	r.l.Info("commit created",
		zap.String("commit", hash.String()),
		zap.String("branch", in.Branch),
		zap.Int("files", len(in.Files)),
	)
	return toCommitRef(commit, in.Branch), nil
}

func (r *Repo) checkoutLocked(wt *gogit.Worktree, branch string) error {
	ref := plumbing.NewBranchReferenceName(branch)
	head, err := r.repo.Head()
	if err == nil && head.Name() == ref {
		return nil
	}
	if err = wt.Checkout(&gogit.CheckoutOptions{Branch: ref}); err != nil {
		return mapErr(fmt.Errorf("checkout %q: %w", branch, err))
	}
	return nil
}

func (r *Repo) branchTip(branch string) (*object.Commit, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, mapErr(fmt.Errorf("branch %q: %w", branch, err))
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, mapErr(err)
	}
	return commit, nil
}

func (r *Repo) commitObject(commitID string) (*object.Commit, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, mapErr(fmt.Errorf("commit %q: %w", commitID, err))
	}
	return commit, nil
}

func toCommitRef(c *object.Commit, branch string) model.CommitRef {
	return model.CommitRef{
		ID:     c.Hash.String(),
		Branch: branch,
		Author: model.Contributor{
			Name:  c.Author.Name,
			Email: c.Author.Email,
		},
		Message:   c.Message,
		Timestamp: c.Author.When.UTC(),
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return status.ErrNotFound.Wrap(err)
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return status.ErrUnknownCommit.Wrap(err)
	case errors.Is(err, object.ErrFileNotFound):
		return status.ErrNotFound.Wrap(err)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return status.ErrAuth.Wrap(err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return status.ErrNotFound.Wrap(err)
	default:
		return err
	}
}

// treeIterator streams the files of one commit tree.
type treeIterator struct {
	ctx   context.Context
	files *object.FileIter
	cur   remote.File
	err   error
	done  bool
}

func (it *treeIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = status.ErrUnavailable.Wrap(err)
		return false
	}
	file, err := it.files.Next()
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		return false
	}
	rdr, err := file.Blob.Reader()
	if err != nil {
		it.err = err
		return false
	}
	body, err := io.ReadAll(rdr)
	cerr := rdr.Close()
	if err != nil {
		it.err = err
		return false
	}
	if cerr != nil {
		it.err = cerr
		return false
	}
	it.cur = remote.File{Path: file.Name, Body: body}
	return true
}

func (it *treeIterator) File() remote.File { return it.cur }

func (it *treeIterator) Err() error { return it.err }

func (it *treeIterator) Close() error {
	it.files.Close()
	return nil
}

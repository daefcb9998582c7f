// Copyright © 2019 One Concern

// Package store defines the record store facade consumed by exporters,
// verifiers and the CLI.
//
// A record store serves record revisions mirrored from a remote
// repository and accepts changesets pushed back to it. Concrete
// variants live in subpackages: cached (the production store, backed by
// the sync engine and a durable cache), direct (no cache, every read
// hits the remote) and ram (in-memory, for consumers' tests).
package store

import (
	"context"

	"github.com/oneconcern/catsync/pkg/model"
)

// CommitResult reports the commit produced by one pushed changeset.
type CommitResult struct {
	CommitID string `json:"commitID" yaml:"commitID"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	_        struct{}
}

// RevisionIterator walks record revisions selected from a store.
//
//	it, err := s.Select(ctx, store.ByPrefix("site-"))
//	...
//	defer it.Close()
//	for it.Next() {
//		rev := it.Revision()
//		...
//	}
//	err = it.Err()
type RevisionIterator interface {
	Next() bool
	Revision() model.RecordRevision
	Err() error
	Close() error
}

// Store is the read/write facade over the record catalogue.
//
// A store is bound to one branch of one remote repository. Frozen
// stores serve reads from the local cache as it existed at construction
// time, perform no network calls and reject Push.
type Store interface {
	// Select streams the records matching every given filter, in
	// lexicographic id order. A store that is not frozen brings its
	// cache up to date first.
	Select(ctx context.Context, filters ...Filter) (RevisionIterator, error)

	// SelectOne fetches a single record by id, or
	// status.ErrRecordNotFound.
	SelectOne(ctx context.Context, id string) (model.RecordRevision, error)

	// Push submits a changeset as exactly one commit on the remote and
	// reports the resulting commit. Push always requires freshness and
	// network availability: it is never served from stale state and
	// never silently no-ops.
	Push(ctx context.Context, change model.Changeset) (CommitResult, error)

	// Frozen reports whether this store is a read-only snapshot handle.
	Frozen() bool

	// Close releases store resources.
	Close() error

	// String identifies the store variant and its backing in logs.
	String() string
}

// revisionSlice iterates over a pre-assembled revision list.
type revisionSlice struct {
	revs []model.RecordRevision
	idx  int
}

// NewRevisionSliceIterator wraps an already assembled revision list as
// a RevisionIterator.
func NewRevisionSliceIterator(revs []model.RecordRevision) RevisionIterator {
	return &revisionSlice{revs: revs, idx: -1}
}

func (it *revisionSlice) Next() bool {
	if it.idx+1 >= len(it.revs) {
		return false
	}
	it.idx++
	return true
}

func (it *revisionSlice) Revision() model.RecordRevision { return it.revs[it.idx] }

func (it *revisionSlice) Err() error { return nil }

func (it *revisionSlice) Close() error { return nil }

// Copyright © 2019 One Concern

// Package ram implements an in-memory record store for consumers'
// tests. It honors the same frozen semantics as the production store
// without any disk or network backing.
package ram

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/status"
	"github.com/segmentio/ksuid"
)

var _ store.Store = &Store{}

// Store keeps records in memory. The zero value is not usable, build
// one with New.
type Store struct {
	mu     sync.Mutex
	revs   map[string]model.RecordRevision
	head   string
	frozen bool
}

// Option is a functor to build a ram store with some options
type Option func(*Store)

// Frozen marks the store read-only: Push fails with
// status.ErrFrozenViolation.
func Frozen(frozen bool) Option {
	return func(s *Store) {
		s.frozen = frozen
	}
}

// New builds an empty in-memory store. Seed it with Put or Push.
func New(opts ...Option) *Store {
	s := &Store{
		revs: make(map[string]model.RecordRevision),
		head: ksuid.New().String(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Put seeds one record without going through Push, bypassing the
// frozen check. The commit id is the current head.
func (s *Store) Put(rec model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(rec, s.head)
}

func (s *Store) putLocked(rec model.Record, commitID string) {
	if rec.Path == "" {
		rec.Path = model.PathForRecord(model.DefaultRecordPrefix, rec.ID)
	}
	s.revs[rec.ID] = model.RecordRevision{
		Record:   rec,
		CommitID: commitID,
		Hash:     model.MustFingerprint(rec.Body),
		Updated:  model.GetRecordTimeStamp(),
	}
}

// Head returns the current fake head commit id.
func (s *Store) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Select implements store.Store.
func (s *Store) Select(_ context.Context, filters ...store.Filter) (store.RevisionIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.revs))
	for id := range s.revs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.RecordRevision, 0, len(ids))
	for _, id := range ids {
		rev := s.revs[id]
		if store.Matches(rev.Record, filters) {
			out = append(out, rev)
		}
	}
	return store.NewRevisionSliceIterator(out), nil
}

// SelectOne implements store.Store.
func (s *Store) SelectOne(_ context.Context, id string) (model.RecordRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revs[id]
	if !ok {
		return model.RecordRevision{}, status.ErrRecordNotFound.Wrap(fmt.Errorf("record %q", id))
	}
	return rev, nil
}

// Push implements store.Store.
func (s *Store) Push(_ context.Context, change model.Changeset) (store.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return store.CommitResult{}, status.ErrFrozenViolation
	}
	if len(change.Records) == 0 {
		return store.CommitResult{}, status.ErrEmptyChangeset
	}
	for _, rec := range change.Records {
		if err := model.ValidateRecordID(rec.ID); err != nil {
			return store.CommitResult{}, status.ErrInvalidRecord.Wrap(err)
		}
	}
	commitID := ksuid.New().String()
	for _, rec := range change.Records {
		s.putLocked(rec, commitID)
	}
	s.head = commitID
	return store.CommitResult{CommitID: commitID}, nil
}

// Frozen implements store.Store.
func (s *Store) Frozen() bool {
	return s.frozen
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) String() string {
	return "ram-store"
}

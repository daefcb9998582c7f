// Copyright © 2019 One Concern

// Package cache defines the durable record cache consumed by the sync
// engine and the cached record store.
//
// A cache holds one serialized body per record, a content hash and a
// last-known commit id for each record, and a single head marker
// telling which remote state the whole cache mirrors. Backends live in
// the fs and kv subpackages.
package cache

import (
	"context"
	"sort"

	"github.com/oneconcern/catsync/pkg/model"
)

// Snapshot is the cache metadata as of one point in time: the head
// marker plus the id to hash and id to commit maps. Bodies are not
// loaded, use Get or Iterate for those.
type Snapshot struct {
	Head    model.HeadMarker
	Hashes  map[string]string
	Commits map[string]string
}

// IDs returns the cached record ids in lexicographic order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Hashes))
	for id := range s.Hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entry assembles the metadata-only cache entry for one record.
func (s *Snapshot) Entry(id string) (model.CacheEntry, bool) {
	h, ok := s.Hashes[id]
	if !ok {
		return model.CacheEntry{}, false
	}
	return model.CacheEntry{ID: id, Hash: h, CommitID: s.Commits[id]}, true
}

// Iterator walks cache entries with their bodies, in lexicographic id
// order. Iteration is restartable by calling Iterate again.
//
//	it, err := store.Iterate(ctx)
//	...
//	defer it.Close()
//	for it.Next() {
//		entry := it.Entry()
//		...
//	}
//	err = it.Err()
type Iterator interface {
	Next() bool
	Entry() model.CacheEntry
	Err() error
	Close() error
}

// Store is a durable record cache.
//
// Exactly one writer may mutate a cache directory at a time, guarded by
// Lock. Readers never take the lock: a frozen record store reads the
// snapshot as it exists on disk without blocking a concurrent refresh
// from another process.
type Store interface {
	// Load reads the cache metadata. An unpopulated cache yields
	// status.ErrCacheEmpty, unreadable metadata status.ErrCacheCorrupt.
	Load(ctx context.Context) (*Snapshot, error)

	// Head reads the head marker only.
	Head(ctx context.Context) (model.HeadMarker, error)

	// Get reads one full entry and verifies its body against the
	// recorded content hash. A mismatch or an unreadable body yields
	// status.ErrCacheCorrupt.
	Get(ctx context.Context, id string) (model.CacheEntry, error)

	// PutAll upserts the given entries and replaces the head marker as
	// one unit. The head marker becomes visible only after every body
	// and the metadata maps are durably written: a cache never claims a
	// freshness it does not have.
	PutAll(ctx context.Context, entries []model.CacheEntry, head model.HeadMarker) error

	// Purge deletes all entries and the head marker, returning the
	// store to the unpopulated state.
	Purge(ctx context.Context) error

	// Iterate walks all entries with their bodies.
	Iterate(ctx context.Context) (Iterator, error)

	// Lock takes the advisory refresh lock, waiting until it is
	// acquired or ctx expires. Locks abandoned by a dead process are
	// taken over after a staleness deadline.
	Lock(ctx context.Context) error

	// Unlock releases the advisory refresh lock.
	Unlock() error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error

	// String identifies the backend and its location in logs.
	String() string
}

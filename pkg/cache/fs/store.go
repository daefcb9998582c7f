// Copyright © 2019 One Concern

// Package fs implements the record cache on a plain directory tree.
//
// The layout is the operational contract consumed by tooling:
//
//	records/            one serialized body per record id
//	hashes.json         {record_id: content_hash}
//	commits.json        {record_id: last_commit_id}
//	head_commit.json    head marker, written last
//	.sync-lock          advisory refresh lock
//
// All writes are staged under .put-stage and renamed into place, so a
// reader never observes a half-written file. The head marker is renamed
// last: a crash mid-swap leaves a cache that either reports the
// previous head or fails hash verification, both of which resolve into
// a rebuild rather than silent staleness.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/catsync/pkg/cache"
	"github.com/oneconcern/catsync/pkg/cache/status"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const putStageName = ".put-stage"

// New creates a filesystem backed record cache. A nil fs selects
// .catsync/cache under the working directory.
func New(pfs afero.Fs, opts ...Option) cache.Store {
	if pfs == nil {
		pfs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".catsync", "cache"))
	}
	s := &fsCache{
		fs: pfs,
		l:  zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	s.lock = cache.NewFlock(pfs, model.GetPathToSyncLock(), s.lockStaleAfter)
	return s
}

type fsCache struct {
	mu             sync.Mutex
	fs             afero.Fs
	lock           *cache.Flock
	l              *zap.Logger
	lockStaleAfter time.Duration
	closed         bool

	// meta mirrors the metadata files as last seen by this instance.
	// Reloaded on Load, kept in step by PutAll and Purge.
	meta *cache.Snapshot
}

func (s *fsCache) Load(_ context.Context) (*cache.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, status.ErrClosed
	}
	snap, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return copySnapshot(snap), nil
}

func (s *fsCache) Head(_ context.Context) (model.HeadMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.HeadMarker{}, status.ErrClosed
	}
	return s.readHeadLocked()
}

func (s *fsCache) Get(_ context.Context, id string) (model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.CacheEntry{}, status.ErrClosed
	}
	snap := s.meta
	if snap == nil {
		var err error
		snap, err = s.loadLocked()
		if err != nil {
			return model.CacheEntry{}, err
		}
	}
	entry, ok := snap.Entry(id)
	if !ok {
		return model.CacheEntry{}, status.ErrEntryNotFound
	}
	return s.readEntryLocked(entry)
}

func (s *fsCache) readEntryLocked(entry model.CacheEntry) (model.CacheEntry, error) {
	body, err := afero.ReadFile(s.fs, model.GetPathToRecord(entry.ID))
	if err != nil {
		if os.IsNotExist(err) {
			// tracked by the metadata maps but body gone
			return model.CacheEntry{}, status.ErrCacheCorrupt.Wrap(
				fmt.Errorf("record %q has no body file", entry.ID))
		}
		return model.CacheEntry{}, fmt.Errorf("read record %q: %w", entry.ID, err)
	}
	hash, err := model.Fingerprint(body)
	if err != nil {
		return model.CacheEntry{}, err
	}
	if hash != entry.Hash {
		return model.CacheEntry{}, status.ErrCacheCorrupt.Wrap(
			fmt.Errorf("record %q: body hash %.12s does not match recorded %.12s", entry.ID, hash, entry.Hash))
	}
	entry.Body = body
	return entry, nil
}

func (s *fsCache) PutAll(_ context.Context, entries []model.CacheEntry, head model.HeadMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.ErrClosed
	}
	if head.CommitID == "" {
		return fmt.Errorf("refusing to write an empty head marker")
	}

	snap, err := s.loadLocked()
	if err != nil {
		if !errors.Is(err, status.ErrCacheEmpty) {
			return err
		}
		snap = &cache.Snapshot{Hashes: map[string]string{}, Commits: map[string]string{}}
	}

	staged := make([]model.CacheEntry, len(entries))
	copy(staged, entries)
	sort.Slice(staged, func(i, j int) bool { return staged[i].ID < staged[j].ID })

	for _, entry := range staged {
		if err = model.ValidateRecordID(entry.ID); err != nil {
			return err
		}
		if err = s.writeStagedLocked(model.GetPathToRecord(entry.ID), entry.Body); err != nil {
			return err
		}
		snap.Hashes[entry.ID] = entry.Hash
		snap.Commits[entry.ID] = entry.CommitID
	}

	if err = s.writeJSONLocked(model.GetPathToHashes(), snap.Hashes); err != nil {
		return err
	}
	if err = s.writeJSONLocked(model.GetPathToCommits(), snap.Commits); err != nil {
		return err
	}
	// the head marker goes last: its rename flips the cache to the new state
	if err = s.writeJSONLocked(model.GetPathToHeadMarker(), head); err != nil {
		return err
	}
	snap.Head = head
	s.meta = snap

	s.l.Debug("cache swap complete",
		zap.String("head", head.CommitID),
		zap.Int("entries", len(staged)),
		zap.Int("total", len(snap.Hashes)),
	)
	return nil
}

func (s *fsCache) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.ErrClosed
	}
	s.meta = nil
	// the lock file survives a purge: purging happens inside the
	// refresh critical section
	for _, pth := range []string{
		model.GetPathToHeadMarker(),
		model.GetPathToHashes(),
		model.GetPathToCommits(),
	} {
		if err := s.fs.Remove(pth); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge %q: %w", pth, err)
		}
	}
	for _, dir := range []string{"records", putStageName} {
		if err := s.fs.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge %q: %w", dir, err)
		}
	}
	return nil
}

func (s *fsCache) Iterate(ctx context.Context) (cache.Iterator, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &fsIterator{store: s, ids: snap.IDs(), snap: snap, idx: -1}, nil
}

func (s *fsCache) Lock(ctx context.Context) error {
	return s.lock.Lock(ctx)
}

func (s *fsCache) Unlock() error {
	return s.lock.Unlock()
}

func (s *fsCache) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.meta = nil
	return nil
}

func (s *fsCache) String() string {
	const name = "cache-fs"
	switch pfs := s.fs.(type) {
	case *afero.BasePathFs:
		pp, err := pfs.RealPath("")
		if err != nil {
			return name
		}
		return name + "@" + pp
	default:
		return name
	}
}

func (s *fsCache) loadLocked() (*cache.Snapshot, error) {
	head, err := s.readHeadLocked()
	if err != nil {
		return nil, err
	}
	snap := &cache.Snapshot{Head: head}
	if err = s.readJSONLocked(model.GetPathToHashes(), &snap.Hashes); err != nil {
		return nil, err
	}
	if err = s.readJSONLocked(model.GetPathToCommits(), &snap.Commits); err != nil {
		return nil, err
	}
	if len(snap.Hashes) != len(snap.Commits) {
		return nil, status.ErrCacheCorrupt.Wrap(
			fmt.Errorf("metadata maps disagree: %d hashes, %d commits", len(snap.Hashes), len(snap.Commits)))
	}
	s.meta = snap
	return snap, nil
}

func (s *fsCache) readHeadLocked() (model.HeadMarker, error) {
	payload, err := afero.ReadFile(s.fs, model.GetPathToHeadMarker())
	if err != nil {
		if os.IsNotExist(err) {
			return model.HeadMarker{}, status.ErrCacheEmpty
		}
		return model.HeadMarker{}, fmt.Errorf("read head marker: %w", err)
	}
	var head model.HeadMarker
	if err = jsoniter.Unmarshal(payload, &head); err != nil {
		return model.HeadMarker{}, status.ErrCacheCorrupt.Wrap(fmt.Errorf("head marker: %w", err))
	}
	if head.IsEmpty() {
		return model.HeadMarker{}, status.ErrCacheCorrupt.Wrap(fmt.Errorf("head marker has no commit id"))
	}
	if head.Version != model.CurrentCacheVersion {
		// a cache written by another layout version is repopulated, not read
		s.l.Info("cache version drift, treating cache as empty",
			zap.Uint64("cache_version", head.Version),
			zap.Uint64("current_version", model.CurrentCacheVersion),
		)
		return model.HeadMarker{}, status.ErrCacheEmpty
	}
	return head, nil
}

func (s *fsCache) readJSONLocked(pth string, target interface{}) error {
	payload, err := afero.ReadFile(s.fs, pth)
	if err != nil {
		if os.IsNotExist(err) {
			// head marker present but maps missing: a half-deleted cache
			return status.ErrCacheCorrupt.Wrap(fmt.Errorf("missing %q", pth))
		}
		return fmt.Errorf("read %q: %w", pth, err)
	}
	if err = jsoniter.Unmarshal(payload, target); err != nil {
		return status.ErrCacheCorrupt.Wrap(fmt.Errorf("unmarshal %q: %w", pth, err))
	}
	return nil
}

func (s *fsCache) writeJSONLocked(pth string, source interface{}) error {
	payload, err := jsoniter.Marshal(source)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", pth, err)
	}
	return s.writeStagedLocked(pth, payload)
}

// writeStagedLocked writes under the staging area, then renames into
// place. Rename is atomic on the filesystems we care about.
func (s *fsCache) writeStagedLocked(key string, data []byte) error {
	stageKey := filepath.Join(putStageName, key)
	if err := s.fs.MkdirAll(filepath.Dir(stageKey), 0700); err != nil {
		return fmt.Errorf("ensuring directories for %q: %w", stageKey, err)
	}
	target, err := s.fs.OpenFile(stageKey, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("create staged %q: %w", stageKey, err)
	}
	if _, err = target.Write(data); err != nil {
		_ = target.Close()
		return fmt.Errorf("write staged %q: %w", stageKey, err)
	}
	if err = target.Close(); err != nil {
		return err
	}
	if dir := filepath.Dir(key); dir != "." {
		if err = s.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", key, err)
		}
	}
	return s.fs.Rename(stageKey, key)
}

type fsIterator struct {
	store *fsCache
	snap  *cache.Snapshot
	ids   []string
	idx   int
	cur   model.CacheEntry
	err   error
}

func (it *fsIterator) Next() bool {
	if it.err != nil || it.idx+1 >= len(it.ids) {
		return false
	}
	it.idx++
	id := it.ids[it.idx]
	entry, _ := it.snap.Entry(id)
	it.store.mu.Lock()
	full, err := it.store.readEntryLocked(entry)
	it.store.mu.Unlock()
	if err != nil {
		it.err = err
		return false
	}
	it.cur = full
	return true
}

func (it *fsIterator) Entry() model.CacheEntry { return it.cur }

func (it *fsIterator) Err() error { return it.err }

func (it *fsIterator) Close() error { return nil }

func copySnapshot(snap *cache.Snapshot) *cache.Snapshot {
	out := &cache.Snapshot{
		Head:    snap.Head,
		Hashes:  make(map[string]string, len(snap.Hashes)),
		Commits: make(map[string]string, len(snap.Commits)),
	}
	for k, v := range snap.Hashes {
		out.Hashes[k] = v
	}
	for k, v := range snap.Commits {
		out.Commits[k] = v
	}
	return out
}

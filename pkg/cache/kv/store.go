// Copyright © 2019 One Concern

// Package kv implements the record cache on a badger key/value store.
//
// Logical content matches the fs backend: per-record bodies, per-record
// metadata envelopes and a single head marker, stored under distinct
// key prefixes. The head key is only written after all entry keys of a
// pass are committed, preserving the same crash behavior as the fs
// backend's rename ordering.
//
// The kv backend trades the operational transparency of flat files for
// faster lookups on large catalogues.
package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/catsync/pkg/cache"
	"github.com/oneconcern/catsync/pkg/cache/status"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	dbDirName = "kv"

	bodyPrefix = "body/"
	metaPrefix = "meta/"
	headKey    = "head"

	setRetryInterval = 10 * time.Millisecond
)

// metaEnvelope is the versioned serialized form of one entry's
// bookkeeping data.
type metaEnvelope struct {
	V      uint64 `json:"v"`
	ID     string `json:"id"`
	Hash   string `json:"hash"`
	Commit string `json:"commit"`
}

// New opens a badger backed record cache rooted at dir.
//
// A read-only instance never creates or mutates the database: opening a
// cache that was never populated fails with status.ErrCacheEmpty.
func New(dir string, opts ...Option) (cache.Store, error) {
	s := &kvCache{
		dir: dir,
		l:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}

	var lockFs afero.Fs
	switch {
	case s.inMem:
		lockFs = afero.NewMemMapFs()
	default:
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("makeKV: mkdir: %w", err)
		}
		lockFs = afero.NewBasePathFs(afero.NewOsFs(), dir)
	}
	s.lock = cache.NewFlock(lockFs, model.GetPathToSyncLock(), s.lockStaleAfter)

	bopts := badger.DefaultOptions(filepath.Join(dir, dbDirName)).
		WithLoggingLevel(badger.WARNING)
	if s.inMem {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	if s.readOnly {
		if s.inMem {
			return nil, fmt.Errorf("in-memory kv cache cannot be read-only")
		}
		// a read-only open of a never-populated cache has no manifest to read
		if _, err := os.Stat(filepath.Join(dir, dbDirName, "MANIFEST")); err != nil {
			if os.IsNotExist(err) {
				return nil, status.ErrCacheEmpty.Wrap(err)
			}
			return nil, err
		}
		bopts = bopts.WithReadOnly(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open KV: %w", err)
	}
	s.db = db
	return s, nil
}

type kvCache struct {
	dir            string
	db             *badger.DB
	lock           *cache.Flock
	l              *zap.Logger
	lockStaleAfter time.Duration
	readOnly       bool
	inMem          bool
	closeOnce      sync.Once
}

func (s *kvCache) Load(_ context.Context) (*cache.Snapshot, error) {
	if s.db.IsClosed() {
		return nil, status.ErrClosed
	}
	snap := &cache.Snapshot{
		Hashes:  map[string]string{},
		Commits: map[string]string{},
	}
	verr := s.db.View(func(txn *badger.Txn) error {
		head, err := s.readHead(txn)
		if err != nil {
			return err
		}
		snap.Head = head

		opts := badger.DefaultIteratorOptions
		opts.Prefix = model.UnsafeStringToBytes(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var env metaEnvelope
			if err = jsoniter.Unmarshal(payload, &env); err != nil {
				return status.ErrCacheCorrupt.Wrap(fmt.Errorf("meta envelope: %w", err))
			}
			snap.Hashes[env.ID] = env.Hash
			snap.Commits[env.ID] = env.Commit
		}
		return nil
	})
	if verr != nil {
		return nil, verr
	}
	return snap, nil
}

func (s *kvCache) Head(_ context.Context) (model.HeadMarker, error) {
	if s.db.IsClosed() {
		return model.HeadMarker{}, status.ErrClosed
	}
	var head model.HeadMarker
	verr := s.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = s.readHead(txn)
		return err
	})
	return head, verr
}

func (s *kvCache) readHead(txn *badger.Txn) (model.HeadMarker, error) {
	item, err := txn.Get(model.UnsafeStringToBytes(headKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.HeadMarker{}, status.ErrCacheEmpty
		}
		return model.HeadMarker{}, err
	}
	payload, err := item.ValueCopy(nil)
	if err != nil {
		return model.HeadMarker{}, err
	}
	var head model.HeadMarker
	if err = jsoniter.Unmarshal(payload, &head); err != nil {
		return model.HeadMarker{}, status.ErrCacheCorrupt.Wrap(fmt.Errorf("head marker: %w", err))
	}
	if head.IsEmpty() {
		return model.HeadMarker{}, status.ErrCacheCorrupt.Wrap(fmt.Errorf("head marker has no commit id"))
	}
	if head.Version != model.CurrentCacheVersion {
		s.l.Info("cache version drift, treating cache as empty",
			zap.Uint64("cache_version", head.Version),
			zap.Uint64("current_version", model.CurrentCacheVersion),
		)
		return model.HeadMarker{}, status.ErrCacheEmpty
	}
	return head, nil
}

func (s *kvCache) Get(_ context.Context, id string) (model.CacheEntry, error) {
	if s.db.IsClosed() {
		return model.CacheEntry{}, status.ErrClosed
	}
	var entry model.CacheEntry
	verr := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(model.UnsafeStringToBytes(metaPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return status.ErrEntryNotFound
			}
			return err
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var env metaEnvelope
		if err = jsoniter.Unmarshal(payload, &env); err != nil {
			return status.ErrCacheCorrupt.Wrap(fmt.Errorf("meta envelope %q: %w", id, err))
		}

		item, err = txn.Get(model.UnsafeStringToBytes(bodyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return status.ErrCacheCorrupt.Wrap(fmt.Errorf("record %q has no body key", id))
			}
			return err
		}
		body, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		hash, err := model.Fingerprint(body)
		if err != nil {
			return err
		}
		if hash != env.Hash {
			return status.ErrCacheCorrupt.Wrap(
				fmt.Errorf("record %q: body hash %.12s does not match recorded %.12s", id, hash, env.Hash))
		}
		entry = model.CacheEntry{ID: id, Hash: env.Hash, CommitID: env.Commit, Body: body}
		return nil
	})
	if verr != nil {
		return model.CacheEntry{}, verr
	}
	return entry, nil
}

func (s *kvCache) PutAll(_ context.Context, entries []model.CacheEntry, head model.HeadMarker) error {
	if s.db.IsClosed() {
		return status.ErrClosed
	}
	if s.readOnly {
		return fmt.Errorf("cache opened read-only")
	}
	if head.CommitID == "" {
		return fmt.Errorf("refusing to write an empty head marker")
	}

	staged := make([]model.CacheEntry, len(entries))
	copy(staged, entries)
	sort.Slice(staged, func(i, j int) bool { return staged[i].ID < staged[j].ID })

	// entry keys first, committing as the transaction fills up
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()
	for _, entry := range staged {
		if err := model.ValidateRecordID(entry.ID); err != nil {
			return err
		}
		env, err := jsoniter.Marshal(metaEnvelope{
			V:      model.CurrentCacheVersion,
			ID:     entry.ID,
			Hash:   entry.Hash,
			Commit: entry.CommitID,
		})
		if err != nil {
			return err
		}
		if err = s.setInTxn(&txn, model.UnsafeStringToBytes(bodyPrefix+entry.ID), entry.Body); err != nil {
			return err
		}
		if err = s.setInTxn(&txn, model.UnsafeStringToBytes(metaPrefix+entry.ID), env); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit entries: %w", err)
	}

	// the head key goes last, once every entry is durable
	payload, err := jsoniter.Marshal(head)
	if err != nil {
		return err
	}
	if err = s.set(model.UnsafeStringToBytes(headKey), payload); err != nil {
		return fmt.Errorf("advance head: %w", err)
	}

	s.l.Debug("cache swap complete",
		zap.String("head", head.CommitID),
		zap.Int("entries", len(staged)),
	)
	return nil
}

// setInTxn adds one key to the pending transaction, committing and
// starting a new one when badger reports the transaction is full.
func (s *kvCache) setInTxn(txn **badger.Txn, key, value []byte) error {
	err := (*txn).Set(key, value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err = (*txn).Commit(); err != nil {
		return err
	}
	*txn = s.db.NewTransaction(true)
	return (*txn).Set(key, value)
}

// set writes a single key, retrying on transient transaction conflicts.
func (s *kvCache) set(key, value []byte) error {
	return backoff.Retry(func() error {
		err := s.db.Update(func(txn *badger.Txn) error {
			e := txn.Set(key, value)
			if e != nil {
				if errors.Is(e, badger.ErrConflict) {
					return e // retry
				}
				return backoff.Permanent(e)
			}
			return nil
		})
		return err
	},
		backoff.NewConstantBackOff(setRetryInterval),
	)
}

func (s *kvCache) Purge(_ context.Context) error {
	if s.db.IsClosed() {
		return status.ErrClosed
	}
	if s.readOnly {
		return fmt.Errorf("cache opened read-only")
	}
	return s.db.DropAll()
}

func (s *kvCache) Iterate(ctx context.Context) (cache.Iterator, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &kvIterator{store: s, ids: snap.IDs(), idx: -1}, nil
}

func (s *kvCache) Lock(ctx context.Context) error {
	return s.lock.Lock(ctx)
}

func (s *kvCache) Unlock() error {
	return s.lock.Unlock()
}

func (s *kvCache) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

func (s *kvCache) String() string {
	if s.inMem {
		return "cache-kv@mem"
	}
	return "cache-kv@" + s.dir
}

type kvIterator struct {
	store *kvCache
	ids   []string
	idx   int
	cur   model.CacheEntry
	err   error
}

func (it *kvIterator) Next() bool {
	if it.err != nil || it.idx+1 >= len(it.ids) {
		return false
	}
	it.idx++
	entry, err := it.store.Get(context.Background(), it.ids[it.idx])
	if err != nil {
		it.err = err
		return false
	}
	it.cur = entry
	return true
}

func (it *kvIterator) Entry() model.CacheEntry { return it.cur }

func (it *kvIterator) Err() error { return it.err }

func (it *kvIterator) Close() error { return nil }

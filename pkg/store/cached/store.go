// Copyright © 2019 One Concern

// Package cached implements the production record store: reads are
// served from a durable local cache kept in step with the remote by the
// sync engine, writes go straight to the remote as single commits.
//
// Two kinds of handles exist over one cache directory. A handle built
// with New refreshes the cache before serving reads and accepts Push.
// A handle built with NewFrozen reads the cache exactly as it was at
// construction time: it performs no network calls, takes no locks and
// rejects Push, which makes it safe to hand to many parallel workers.
package cached

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oneconcern/catsync/pkg/cache"
	cachefs "github.com/oneconcern/catsync/pkg/cache/fs"
	cachekv "github.com/oneconcern/catsync/pkg/cache/kv"
	cachestatus "github.com/oneconcern/catsync/pkg/cache/status"
	"github.com/oneconcern/catsync/pkg/engine"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	remotestatus "github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/status"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultRevisionCacheSize is the number of decoded revisions kept hot
// for repeated SelectOne calls.
const DefaultRevisionCacheSize = 128

var _ store.Store = &Store{}

// Store is the cached record store.
type Store struct {
	cfg    store.Config
	repo   remote.Repository
	cache  cache.Store
	eng    *engine.Engine
	frozen bool

	// snap and entries are the construction-time state of a frozen
	// handle, nil on a refreshing handle. Bodies are pinned in memory so
	// a concurrent refresh of the cache directory cannot leak newer
	// state into a frozen reader.
	snap    *cache.Snapshot
	entries map[string]model.CacheEntry

	hot *lru.Cache
	l   *zap.Logger
}

// New builds a refreshing store handle over the cache directory named
// by cfg, tracking the given remote repository.
func New(cfg store.Config, repo remote.Repository, opts ...Option) (*Store, error) {
	s, err := newStore(cfg, repo, false, opts...)
	if err != nil {
		return nil, err
	}
	s.eng = engine.New(repo, s.cache,
		engine.Branch(s.cfg.Branch),
		engine.RecordPrefix(s.cfg.RecordPrefix),
		engine.RebuildThreshold(s.cfg.RebuildThreshold),
		engine.CallTimeout(s.cfg.CallTimeout),
		engine.Logger(s.l),
	)
	return s, nil
}

// NewFrozen builds a frozen handle over an already populated cache
// directory. The snapshot is loaded eagerly, bodies included: the
// handle keeps serving that state even if another process refreshes or
// purges the directory later. An empty cache fails construction,
// populate first.
func NewFrozen(cfg store.Config, opts ...Option) (*Store, error) {
	s, err := newStore(cfg, nil, true, opts...)
	if err != nil {
		return nil, err
	}
	if err = s.freeze(context.Background()); err != nil {
		_ = s.cache.Close()
		return nil, fmt.Errorf("freeze %s: %w", s.cache, err)
	}
	return s, nil
}

// freeze pins the current cache state, bodies and all, into the handle.
func (s *Store) freeze(ctx context.Context) error {
	snap, err := s.cache.Load(ctx)
	if err != nil {
		return err
	}
	it, err := s.cache.Iterate(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = it.Close()
	}()
	entries := make(map[string]model.CacheEntry, len(snap.Hashes))
	for it.Next() {
		entry := it.Entry()
		entries[entry.ID] = entry
	}
	if err = it.Err(); err != nil {
		return err
	}
	s.snap = snap
	s.entries = entries
	return nil
}

func newStore(cfg store.Config, repo remote.Repository, frozen bool, opts ...Option) (*Store, error) {
	s := &Store{
		cfg:    cfg.WithDefaults(),
		repo:   repo,
		frozen: frozen,
		l:      zap.NewNop(),
	}
	hotSize := DefaultRevisionCacheSize
	for _, apply := range opts {
		apply(s, &hotSize)
	}
	if hotSize > 0 {
		s.hot, _ = lru.New(hotSize)
	}

	if s.cache == nil {
		backend, err := openBackend(s.cfg, frozen, s.l)
		if err != nil {
			return nil, err
		}
		s.cache = backend
	}
	return s, nil
}

func openBackend(cfg store.Config, readOnly bool, l *zap.Logger) (cache.Store, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("a cache directory is required")
	}
	switch cfg.Backend {
	case store.BackendFS:
		if err := os.MkdirAll(cfg.CacheDir, 0700); err != nil {
			return nil, fmt.Errorf("cache dir %q: %w", cfg.CacheDir, err)
		}
		abs, err := filepath.Abs(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		return cachefs.New(
			afero.NewBasePathFs(afero.NewOsFs(), abs),
			cachefs.Logger(l),
		), nil
	case store.BackendKV:
		return cachekv.New(cfg.CacheDir,
			cachekv.Logger(l),
			cachekv.ReadOnly(readOnly),
		)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Frozen implements store.Store.
func (s *Store) Frozen() bool {
	return s.frozen
}

// Sync brings the cache up to the current remote head, unconditionally
// surfacing remote failures. Reads use the degrading policy instead,
// see Select.
func (s *Store) Sync(ctx context.Context) error {
	if s.frozen {
		return status.ErrFrozenViolation
	}
	return s.eng.EnsureFresh(ctx)
}

// Purge discards the whole cache, returning the directory to the
// unpopulated state.
func (s *Store) Purge(ctx context.Context) error {
	if s.frozen {
		return status.ErrFrozenViolation
	}
	if err := s.cache.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = s.cache.Unlock()
	}()
	if s.hot != nil {
		s.hot.Purge()
	}
	return s.cache.Purge(ctx)
}

// IDs lists the cached record ids in lexicographic order, without
// refreshing and without reading any body.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.IDs(), nil
}

// ensureFresh applies the freshness policy shared by every read. On the
// write path freshness is strict, see Push.
func (s *Store) ensureFresh(ctx context.Context) error {
	if s.frozen {
		return nil
	}
	err := s.eng.EnsureFresh(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, remotestatus.ErrUnavailable) {
		if _, herr := s.cache.Head(ctx); herr == nil {
			// reads degrade to the last consistent snapshot
			s.l.Warn("remote unavailable, serving cached records", zap.Error(err))
			return nil
		}
	}
	return err
}

func (s *Store) snapshot(ctx context.Context) (*cache.Snapshot, error) {
	if s.frozen {
		return s.snap, nil
	}
	return s.cache.Load(ctx)
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, filters ...store.Filter) (store.RevisionIterator, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &revisionIterator{
		ctx:     ctx,
		store:   s,
		snap:    snap,
		ids:     snap.IDs(),
		filters: filters,
		idx:     -1,
	}, nil
}

// SelectOne implements store.Store.
func (s *Store) SelectOne(ctx context.Context, id string) (model.RecordRevision, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return model.RecordRevision{}, err
	}
	head, err := s.head(ctx)
	if err != nil {
		return model.RecordRevision{}, err
	}

	hotKey := head.CommitID + "/" + id
	if s.hot != nil {
		if cached, ok := s.hot.Get(hotKey); ok {
			return cached.(model.RecordRevision), nil
		}
	}

	entry, err := s.entry(ctx, id)
	if err != nil {
		if errors.Is(err, cachestatus.ErrEntryNotFound) {
			return model.RecordRevision{}, status.ErrRecordNotFound.Wrap(fmt.Errorf("record %q", id))
		}
		return model.RecordRevision{}, err
	}
	rev := s.revision(entry)
	if s.hot != nil {
		s.hot.Add(hotKey, rev)
	}
	return rev, nil
}

// Push implements store.Store.
func (s *Store) Push(ctx context.Context, change model.Changeset) (store.CommitResult, error) {
	if s.frozen {
		return store.CommitResult{}, status.ErrFrozenViolation
	}
	files, err := changesetFiles(s.cfg, change)
	if err != nil {
		return store.CommitResult{}, err
	}
	// writes are never issued against stale state and never degrade:
	// a refresh failure here fails the push
	if err = s.eng.EnsureFresh(ctx); err != nil {
		return store.CommitResult{}, err
	}

	ref, err := s.repo.CreateCommit(ctx, remote.CommitInput{
		Branch:  s.cfg.Branch,
		Title:   change.Title,
		Message: change.Message,
		Author:  change.Author,
		Files:   files,
	})
	if err != nil {
		return store.CommitResult{}, fmt.Errorf("push %d records: %w", len(files), err)
	}
	// no write-back: the next read replays this one commit incrementally
	s.l.Info("changeset pushed",
		zap.String("commit", ref.ID),
		zap.Int("records", len(files)),
	)
	return store.CommitResult{CommitID: ref.ID, URL: ref.URL}, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.cache.Close()
}

func (s *Store) String() string {
	if s.frozen {
		return "frozen-store/" + s.cache.String()
	}
	return "cached-store/" + s.cache.String()
}

func (s *Store) head(ctx context.Context) (model.HeadMarker, error) {
	if s.frozen {
		return s.snap.Head, nil
	}
	return s.cache.Head(ctx)
}

// entry reads one full cache entry: off the pinned construction-time
// state on a frozen handle, off the cache directory otherwise.
func (s *Store) entry(ctx context.Context, id string) (model.CacheEntry, error) {
	if s.frozen {
		entry, ok := s.entries[id]
		if !ok {
			return model.CacheEntry{}, cachestatus.ErrEntryNotFound
		}
		return entry, nil
	}
	return s.cache.Get(ctx, id)
}

func (s *Store) revision(entry model.CacheEntry) model.RecordRevision {
	return model.RecordRevision{
		Record: model.Record{
			ID:   entry.ID,
			Path: model.PathForRecord(s.cfg.RecordPrefix, entry.ID),
			Body: entry.Body,
		},
		CommitID: entry.CommitID,
		Hash:     entry.Hash,
	}
}

// changesetFiles validates a changeset and lays its records out as
// remote file writes.
func changesetFiles(cfg store.Config, change model.Changeset) ([]remote.File, error) {
	if len(change.Records) == 0 {
		return nil, status.ErrEmptyChangeset
	}
	files := make([]remote.File, 0, len(change.Records))
	for _, rec := range change.Records {
		if err := model.ValidateRecordID(rec.ID); err != nil {
			return nil, status.ErrInvalidRecord.Wrap(err)
		}
		if int64(len(rec.Body)) > cfg.MaxRecordSize {
			return nil, status.ErrRecordTooLarge.Wrap(
				fmt.Errorf("record %q is %d bytes, limit is %d", rec.ID, len(rec.Body), cfg.MaxRecordSize))
		}
		pth := rec.Path
		if pth == "" {
			pth = model.PathForRecord(cfg.RecordPrefix, rec.ID)
		}
		if !model.IsRecordPath(cfg.RecordPrefix, pth) {
			return nil, status.ErrInvalidRecord.Wrap(
				fmt.Errorf("path %q is outside the record space %q", pth, cfg.RecordPrefix))
		}
		files = append(files, remote.File{Path: pth, Body: rec.Body})
	}
	return files, nil
}

// revisionIterator streams matching revisions off the cache, fetching
// one body at a time.
type revisionIterator struct {
	ctx     context.Context
	store   *Store
	snap    *cache.Snapshot
	ids     []string
	filters []store.Filter
	idx     int
	cur     model.RecordRevision
	err     error
}

func (it *revisionIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.idx+1 < len(it.ids) {
		it.idx++
		entry, err := it.store.entry(it.ctx, it.ids[it.idx])
		if err != nil {
			it.err = err
			return false
		}
		rev := it.store.revision(entry)
		if !store.Matches(rev.Record, it.filters) {
			continue
		}
		it.cur = rev
		return true
	}
	return false
}

func (it *revisionIterator) Revision() model.RecordRevision { return it.cur }

func (it *revisionIterator) Err() error { return it.err }

func (it *revisionIterator) Close() error { return nil }

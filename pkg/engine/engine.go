// Copyright © 2019 One Concern

// Package engine decides, on every access, whether the local record
// cache still mirrors the remote repository, and reconciles it when it
// does not.
//
// Reconciliation picks between two paths. An incremental refresh
// replays the commits since the cached head, fetching only the files
// those commits touched. A full rebuild streams the complete snapshot
// archive and replaces the cache wholesale. The incremental path is
// abandoned for a rebuild whenever it cannot be trusted: too many
// commits to replay, a deletion or rename of a record path, a cached
// head the remote no longer knows, a cache bound to another branch or
// remote instance, or local corruption.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oneconcern/catsync/pkg/cache"
	cachestatus "github.com/oneconcern/catsync/pkg/cache/status"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	remotestatus "github.com/oneconcern/catsync/pkg/remote/status"
	"go.uber.org/zap"
)

// DefaultRebuildThreshold is the number of pending commits at which
// replaying them one by one is judged more expensive than fetching a
// fresh snapshot archive.
const DefaultRebuildThreshold = 50

// internal reconciliation signals, never returned to callers
var (
	errStructuralChange = errors.New("structural change in record space")
	errHistoryRewritten = errors.New("cached head unknown to remote")
)

// Engine reconciles one cache directory against one branch of one
// remote repository.
//
// An engine is bound to its branch for life: caches are never shared
// across branches or remote instances, they are invalidated instead.
type Engine struct {
	repo  remote.Repository
	cache cache.Store

	branch       string
	recordPrefix string
	threshold    int
	callTimeout  time.Duration
	l            *zap.Logger
}

// New builds a sync engine over a remote repository and a cache store.
func New(repo remote.Repository, store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		repo:         repo,
		cache:        store,
		branch:       "main",
		recordPrefix: model.DefaultRecordPrefix,
		threshold:    DefaultRebuildThreshold,
		l:            zap.NewNop(),
	}
	for _, apply := range opts {
		apply(e)
	}
	e.l = e.l.With(
		zap.String("branch", e.branch),
		zap.String("remote", repo.Identity()),
	)
	return e
}

// Branch returns the branch this engine reconciles.
func (e *Engine) Branch() string {
	return e.branch
}

// EnsureFresh brings the cache up to the current remote head.
//
// It holds the cache's advisory refresh lock for the duration of the
// check, so concurrent refreshers of one cache directory serialize and
// the losers observe an already-fresh cache.
func (e *Engine) EnsureFresh(ctx context.Context) error {
	if err := e.cache.Lock(ctx); err != nil {
		return fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer func() {
		_ = e.cache.Unlock()
	}()
	return e.ensureFreshLocked(ctx)
}

// Rebuild discards the cache and repopulates it from a full snapshot
// archive, regardless of how stale it is. This is the remediation for
// every condition that cannot be repaired incrementally.
func (e *Engine) Rebuild(ctx context.Context) error {
	if err := e.cache.Lock(ctx); err != nil {
		return fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer func() {
		_ = e.cache.Unlock()
	}()
	return e.rebuildLocked(ctx)
}

func (e *Engine) ensureFreshLocked(ctx context.Context) error {
	snap, err := e.cache.Load(ctx)
	switch {
	case err == nil:
		// populated: fall through to the freshness check
	case errors.Is(err, cachestatus.ErrCacheEmpty):
		e.l.Info("cache is empty, populating from snapshot archive")
		return e.rebuildLocked(ctx)
	case errors.Is(err, cachestatus.ErrCacheCorrupt):
		e.l.Warn("cache is corrupt, rebuilding", zap.Error(err))
		return e.purgeAndRebuildLocked(ctx)
	default:
		return err
	}

	if snap.Head.Branch != e.branch || snap.Head.Remote != e.repo.Identity() {
		// histories of different branches or remote instances are not
		// comparable: no incremental catch-up across an identity change
		e.l.Info("cache identity mismatch, rebuilding",
			zap.String("cached_branch", snap.Head.Branch),
			zap.String("cached_remote", snap.Head.Remote),
		)
		return e.purgeAndRebuildLocked(ctx)
	}

	head, err := e.headCommit(ctx)
	if err != nil {
		return err
	}
	if head.ID == snap.Head.CommitID {
		e.l.Debug("cache is fresh", zap.String("head", head.ID))
		return nil
	}

	err = e.refreshIncremental(ctx, snap, head)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStructuralChange):
		e.l.Info("incremental refresh aborted, rebuilding", zap.String("reason", err.Error()))
		return e.rebuildLocked(ctx)
	case errors.Is(err, errHistoryRewritten), errors.Is(err, remotestatus.ErrUnknownCommit), errors.Is(err, remotestatus.ErrNotFound):
		e.l.Warn("remote history diverged from cache, rebuilding", zap.Error(err))
		return e.rebuildLocked(ctx)
	default:
		return err
	}
}

// refreshIncremental replays the commits between the cached head and
// the remote head, oldest first, staging one entry update per touched
// record. A later commit in the pass overwins an earlier one. The pass
// fails with errStructuralChange as soon as a deletion or rename
// touches the record space.
func (e *Engine) refreshIncremental(ctx context.Context, snap *cache.Snapshot, head model.CommitRef) error {
	commits, err := e.commitsSince(ctx, snap.Head.CommitID)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		// the remote moved between the head fetch and the listing, or
		// the branch was rewound to the cached commit. Re-check the
		// head: a successful return always means the cache matches it.
		current, cerr := e.headCommit(ctx)
		if cerr != nil {
			return cerr
		}
		if current.ID == snap.Head.CommitID {
			e.l.Debug("branch rewound to cached head", zap.String("head", current.ID))
			return nil
		}
		e.l.Warn("commit listing raced the head fetch, rebuilding",
			zap.String("cached_head", snap.Head.CommitID),
			zap.String("remote_head", current.ID),
		)
		return e.rebuildLocked(ctx)
	}
	if len(commits) >= e.threshold {
		e.l.Info("too many commits for incremental refresh, rebuilding",
			zap.Int("pending_commits", len(commits)),
			zap.Int("threshold", e.threshold),
		)
		return e.rebuildLocked(ctx)
	}

	staged := make(map[string]model.CacheEntry)
	prev := snap.Head.CommitID
	for _, commit := range commits {
		changes, err := e.changedPaths(ctx, prev, commit.ID)
		if err != nil {
			return err
		}
		for _, change := range changes {
			if err = e.stageChange(ctx, staged, commit, change); err != nil {
				return err
			}
		}
		prev = commit.ID
	}

	entries := make([]model.CacheEntry, 0, len(staged))
	for _, entry := range staged {
		entries = append(entries, entry)
	}
	last := commits[len(commits)-1]
	if err = e.cache.PutAll(ctx, entries, e.marker(last)); err != nil {
		return err
	}
	e.l.Info("incremental refresh complete",
		zap.String("head", last.ID),
		zap.Int("replayed_commits", len(commits)),
		zap.Int("updated_records", len(entries)),
	)
	return nil
}

func (e *Engine) stageChange(ctx context.Context, staged map[string]model.CacheEntry, commit model.CommitRef, change model.PathChange) error {
	switch change.Kind {
	case model.ChangeDeleted:
		if !model.IsRecordPath(e.recordPrefix, change.Path) {
			return nil
		}
		return errStructuralChange.Wrap(
			fmt.Errorf("commit %s deletes %q", commit.ID, change.Path))
	case model.ChangeRenamed:
		if !model.IsRecordPath(e.recordPrefix, change.Path) &&
			!model.IsRecordPath(e.recordPrefix, change.PrevPath) {
			return nil
		}
		return errStructuralChange.Wrap(
			fmt.Errorf("commit %s renames %q to %q", commit.ID, change.PrevPath, change.Path))
	default:
		if !model.IsRecordPath(e.recordPrefix, change.Path) {
			return nil
		}
		body, err := e.fileAt(ctx, commit.ID, change.Path)
		if err != nil {
			return err
		}
		hash, err := model.Fingerprint(body)
		if err != nil {
			return err
		}
		id := model.RecordIDFromPath(change.Path)
		staged[id] = model.CacheEntry{ID: id, Hash: hash, CommitID: commit.ID, Body: body}
		e.l.Debug("staged record update",
			zap.String("record", id),
			zap.String("commit", commit.ID),
		)
		return nil
	}
}

func (e *Engine) purgeAndRebuildLocked(ctx context.Context) error {
	if err := e.cache.Purge(ctx); err != nil {
		return err
	}
	return e.rebuildLocked(ctx)
}

// rebuildLocked fetches the complete snapshot at the current head and
// swaps it in, discarding whatever the cache held before. The fetch
// completes before the purge, so a remote failure leaves the previous
// cache state untouched.
func (e *Engine) rebuildLocked(ctx context.Context) error {
	head, err := e.headCommit(ctx)
	if err != nil {
		return err
	}

	it, err := e.snapshotArchive(ctx, head.ID)
	if err != nil {
		return err
	}
	defer func() {
		_ = it.Close()
	}()

	var entries []model.CacheEntry
	for it.Next() {
		f := it.File()
		if !model.IsRecordPath(e.recordPrefix, f.Path) {
			continue
		}
		hash, herr := model.Fingerprint(f.Body)
		if herr != nil {
			return herr
		}
		entries = append(entries, model.CacheEntry{
			ID:       model.RecordIDFromPath(f.Path),
			Hash:     hash,
			CommitID: head.ID,
			Body:     f.Body,
		})
	}
	if err = it.Err(); err != nil {
		return fmt.Errorf("snapshot stream: %w", err)
	}

	if err = e.cache.Purge(ctx); err != nil {
		return err
	}
	if err = e.cache.PutAll(ctx, entries, e.marker(head)); err != nil {
		return err
	}
	e.l.Info("full rebuild complete",
		zap.String("head", head.ID),
		zap.Int("records", len(entries)),
	)
	return nil
}

func (e *Engine) marker(head model.CommitRef) model.HeadMarker {
	return model.HeadMarker{
		Version:   model.CurrentCacheVersion,
		CommitID:  head.ID,
		Branch:    e.branch,
		Remote:    e.repo.Identity(),
		Timestamp: model.GetRecordTimeStamp(),
	}
}

// remote calls, each bounded by the per-call timeout when one is set

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout > 0 {
		return context.WithTimeout(ctx, e.callTimeout)
	}
	return ctx, func() {}
}

func (e *Engine) headCommit(ctx context.Context) (model.CommitRef, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	head, err := e.repo.HeadCommit(cctx, e.branch)
	if err != nil {
		return model.CommitRef{}, fmt.Errorf("head of %q: %w", e.branch, err)
	}
	return head, nil
}

func (e *Engine) commitsSince(ctx context.Context, sinceID string) ([]model.CommitRef, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	commits, err := e.repo.CommitsSince(cctx, sinceID, e.branch)
	if err != nil {
		if errors.Is(err, remotestatus.ErrUnknownCommit) {
			return nil, errHistoryRewritten.Wrap(err)
		}
		return nil, fmt.Errorf("commits since %q: %w", sinceID, err)
	}
	return commits, nil
}

func (e *Engine) changedPaths(ctx context.Context, fromID, toID string) ([]model.PathChange, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	changes, err := e.repo.ChangedPaths(cctx, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("diff %q..%q: %w", fromID, toID, err)
	}
	return changes, nil
}

func (e *Engine) fileAt(ctx context.Context, commitID, pth string) ([]byte, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	body, err := e.repo.FileAt(cctx, commitID, pth)
	if err != nil {
		return nil, fmt.Errorf("fetch %q at %q: %w", pth, commitID, err)
	}
	return body, nil
}

func (e *Engine) snapshotArchive(ctx context.Context, commitID string) (remote.ArchiveIterator, error) {
	// no per-call timeout here: the archive stream legitimately
	// outlives any single-call budget
	it, err := e.repo.SnapshotArchive(ctx, commitID)
	if err != nil {
		return nil, fmt.Errorf("snapshot at %q: %w", commitID, err)
	}
	return it, nil
}

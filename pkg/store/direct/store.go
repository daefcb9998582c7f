// Copyright © 2019 One Concern

// Package direct implements a record store without any local cache:
// every read streams from the remote repository at its current head.
// Useful for small catalogues and ad-hoc tooling where a cache
// directory is not worth carrying. A direct store is never frozen,
// freezing only makes sense over a local snapshot.
package direct

import (
	"context"
	"fmt"

	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	remotestatus "github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/status"
	"go.uber.org/zap"
)

var _ store.Store = &Store{}

// Store reads and writes the remote repository directly.
type Store struct {
	cfg  store.Config
	repo remote.Repository
	l    *zap.Logger
}

// Option is a functor to build a direct store with some options
type Option func(*Store)

// Logger injects a logging facility into the store
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// New builds a direct store over a remote repository. Only the branch,
// record prefix and size limit of the config apply: there is no cache.
func New(cfg store.Config, repo remote.Repository, opts ...Option) *Store {
	s := &Store{
		cfg:  cfg.WithDefaults(),
		repo: repo,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Select implements store.Store, streaming the snapshot archive at the
// current head.
func (s *Store) Select(ctx context.Context, filters ...store.Filter) (store.RevisionIterator, error) {
	head, err := s.repo.HeadCommit(ctx, s.cfg.Branch)
	if err != nil {
		return nil, fmt.Errorf("head of %q: %w", s.cfg.Branch, err)
	}
	archive, err := s.repo.SnapshotArchive(ctx, head.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot at %q: %w", head.ID, err)
	}
	return &archiveRevisions{
		cfg:     s.cfg,
		archive: archive,
		head:    head,
		filters: filters,
	}, nil
}

// SelectOne implements store.Store, fetching one record at the current
// head.
func (s *Store) SelectOne(ctx context.Context, id string) (model.RecordRevision, error) {
	if err := model.ValidateRecordID(id); err != nil {
		return model.RecordRevision{}, status.ErrInvalidRecord.Wrap(err)
	}
	head, err := s.repo.HeadCommit(ctx, s.cfg.Branch)
	if err != nil {
		return model.RecordRevision{}, fmt.Errorf("head of %q: %w", s.cfg.Branch, err)
	}
	pth := model.PathForRecord(s.cfg.RecordPrefix, id)
	body, err := s.repo.FileAt(ctx, head.ID, pth)
	if err != nil {
		if errors.Is(err, remotestatus.ErrNotFound) {
			return model.RecordRevision{}, status.ErrRecordNotFound.Wrap(fmt.Errorf("record %q", id))
		}
		return model.RecordRevision{}, fmt.Errorf("fetch %q: %w", pth, err)
	}
	hash, err := model.Fingerprint(body)
	if err != nil {
		return model.RecordRevision{}, err
	}
	return model.RecordRevision{
		Record:   model.Record{ID: id, Path: pth, Body: body},
		CommitID: head.ID,
		Hash:     hash,
	}, nil
}

// Push implements store.Store.
func (s *Store) Push(ctx context.Context, change model.Changeset) (store.CommitResult, error) {
	if len(change.Records) == 0 {
		return store.CommitResult{}, status.ErrEmptyChangeset
	}
	files := make([]remote.File, 0, len(change.Records))
	for _, rec := range change.Records {
		if err := model.ValidateRecordID(rec.ID); err != nil {
			return store.CommitResult{}, status.ErrInvalidRecord.Wrap(err)
		}
		if int64(len(rec.Body)) > s.cfg.MaxRecordSize {
			return store.CommitResult{}, status.ErrRecordTooLarge.Wrap(
				fmt.Errorf("record %q is %d bytes, limit is %d", rec.ID, len(rec.Body), s.cfg.MaxRecordSize))
		}
		pth := rec.Path
		if pth == "" {
			pth = model.PathForRecord(s.cfg.RecordPrefix, rec.ID)
		}
		files = append(files, remote.File{Path: pth, Body: rec.Body})
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
	s.l.Info("changeset pushed", zap.String("commit", ref.ID), zap.Int("records", len(files)))
	return store.CommitResult{CommitID: ref.ID, URL: ref.URL}, nil
}

// Frozen implements store.Store. A direct store is never frozen.
func (s *Store) Frozen() bool {
	return false
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) String() string {
	return "direct-store/" + s.repo.Identity()
}

// archiveRevisions adapts a snapshot archive stream into a revision
// iterator, skipping non-record paths.
type archiveRevisions struct {
	cfg     store.Config
	archive remote.ArchiveIterator
	head    model.CommitRef
	filters []store.Filter
	cur     model.RecordRevision
	err     error
}

func (it *archiveRevisions) Next() bool {
	if it.err != nil {
		return false
	}
	for it.archive.Next() {
		f := it.archive.File()
		if !model.IsRecordPath(it.cfg.RecordPrefix, f.Path) {
			continue
		}
		hash, err := model.Fingerprint(f.Body)
		if err != nil {
			it.err = err
			return false
		}
		rev := model.RecordRevision{
			Record:   model.Record{ID: model.RecordIDFromPath(f.Path), Path: f.Path, Body: f.Body},
			CommitID: it.head.ID,
			Hash:     hash,
		}
		if !store.Matches(rev.Record, it.filters) {
			continue
		}
		it.cur = rev
		return true
	}
	it.err = it.archive.Err()
	return false
}

func (it *archiveRevisions) Revision() model.RecordRevision { return it.cur }

func (it *archiveRevisions) Err() error { return it.err }

func (it *archiveRevisions) Close() error { return it.archive.Close() }

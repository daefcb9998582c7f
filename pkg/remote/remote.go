// Copyright © 2019 One Concern

// Package remote defines the contract with the commit versioned
// repository that record caches mirror.
//
// Concrete adapters (github, gitrepo, mocks) own authentication,
// pagination and transport concerns. Everything above this package
// reasons only in commits, paths and raw file bytes.
package remote

import (
	"context"

	"github.com/oneconcern/catsync/pkg/model"
)

// File is a single entry streamed out of a snapshot archive.
type File struct {
	Path string
	Body []byte
}

// ArchiveIterator walks all files present at one commit. The iterator
// must be closed, also when abandoned early.
//
//	it, err := repo.SnapshotArchive(ctx, head.ID)
//	...
//	defer it.Close()
//	for it.Next() {
//		f := it.File()
//		...
//	}
//	err = it.Err()
type ArchiveIterator interface {
	// Next advances to the next file, returning false when exhausted
	// or on error.
	Next() bool

	// File yields the current file. Only valid after Next returned true.
	File() File

	// Err reports the error that terminated iteration, if any.
	Err() error

	Close() error
}

// CommitInput is the payload for a new commit on the remote.
type CommitInput struct {
	Branch  string
	Title   string
	Message string
	Author  model.Contributor
	Files   []File
}

// Repository is the remote side of the sync protocol.
//
// All calls honor context cancellation. Errors are normalized onto the
// sentinels in the status package, so callers can branch on
// errors.Is(err, status.ErrUnavailable) and friends regardless of the
// adapter in use.
type Repository interface {
	// Identity returns a stable identifier for the remote instance and
	// repository, e.g. "github.com/acme/catalog". A cache populated from
	// one identity must never be incrementally updated from another.
	Identity() string

	// HeadCommit resolves the newest commit on a branch.
	HeadCommit(ctx context.Context, branch string) (model.CommitRef, error)

	// SnapshotArchive streams every file present at the given commit.
	SnapshotArchive(ctx context.Context, commitID string) (ArchiveIterator, error)

	// CommitsSince lists the commits on branch after sinceID, oldest
	// first. A sinceID that is not an ancestor of the branch head yields
	// status.ErrUnknownCommit.
	CommitsSince(ctx context.Context, sinceID, branch string) ([]model.CommitRef, error)

	// ChangedPaths diffs two commits and reports per path changes,
	// including deletions and renames.
	ChangedPaths(ctx context.Context, fromID, toID string) ([]model.PathChange, error)

	// FileAt fetches one file as it was at the given commit.
	FileAt(ctx context.Context, commitID, path string) ([]byte, error)

	// CreateCommit writes a batch of files as a single new commit on a
	// branch and returns the resulting commit.
	CreateCommit(ctx context.Context, in CommitInput) (model.CommitRef, error)
}

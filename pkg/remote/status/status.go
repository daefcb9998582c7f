// Copyright © 2019 One Concern

// Package status exports errors produced by remote repository adapters.
package status

import (
	"github.com/oneconcern/catsync/pkg/errors"
)

var (
	// ErrUnavailable indicates the remote could not be reached or refused
	// the request. Callers on a read path may fall back to cached state,
	// write paths must propagate this as a hard failure.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrNotFound indicates the requested object does not exist on the remote
	ErrNotFound = errors.New("object not found on remote")

	// ErrUnknownCommit indicates a commit id the remote no longer knows
	// about, e.g. after a history rewrite on the tracked branch.
	ErrUnknownCommit = errors.New("unknown commit on remote")

	// ErrAuth indicates the remote rejected our credentials
	ErrAuth = errors.New("remote authentication failed")

	// ErrInvalidRef indicates a malformed branch or commit reference
	ErrInvalidRef = errors.New("invalid remote reference")

	// ErrEmptyChangeset indicates a commit was requested with no files in it
	ErrEmptyChangeset = errors.New("changeset contains no files")
)

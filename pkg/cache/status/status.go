// Copyright © 2019 One Concern

// Package status exports errors produced by cache backends.
package status

import (
	"github.com/oneconcern/catsync/pkg/errors"
)

var (
	// ErrCacheEmpty indicates an unpopulated cache: no head marker is
	// readable. Resolved by a full population pass.
	ErrCacheEmpty = errors.New("cache is empty")

	// ErrCacheCorrupt indicates an entry that cannot be deserialized or
	// whose body does not match its recorded content hash. Resolved by a
	// full rebuild, never surfaced to store consumers.
	ErrCacheCorrupt = errors.New("cache is corrupt")

	// ErrEntryNotFound indicates the requested record id has no entry.
	ErrEntryNotFound = errors.New("entry not found in cache")

	// ErrLockHeld indicates the advisory refresh lock is held by a live
	// owner.
	ErrLockHeld = errors.New("cache refresh lock held")

	// ErrClosed indicates an operation on a closed cache store.
	ErrClosed = errors.New("cache store is closed")
)

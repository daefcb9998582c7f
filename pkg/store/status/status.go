// Copyright © 2019 One Concern

// Package status exports errors produced by record stores.
package status

import (
	"github.com/oneconcern/catsync/pkg/errors"
)

var (
	// ErrFrozenViolation indicates a mutation or an implicit refresh was
	// attempted on a frozen store. The cache is left untouched.
	ErrFrozenViolation = errors.New("operation not allowed on a frozen store")

	// ErrRecordNotFound indicates the requested record id is not known.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates a record that cannot be pushed, e.g. an
	// id that is not usable as a file name.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRecordTooLarge indicates a record body above the configured
	// size limit.
	ErrRecordTooLarge = errors.New("record body exceeds size limit")

	// ErrEmptyChangeset indicates a push with no records in it.
	ErrEmptyChangeset = errors.New("changeset contains no records")
)

// Copyright © 2019 One Concern

// Package model describes the base data types used by the sync engine,
// the cache backends and the record stores. Descriptors in this package
// are serialized to JSON or YAML, so field changes must remain
// backward compatible with caches already on disk.
package model

import (
	"fmt"
	"time"
)

// Record is a single document mirrored from the remote repository.
//
// Body holds the raw serialized bytes exactly as they appear in the
// remote tree. Keeping the bytes verbatim makes the content hash stable
// across cache rebuilds.
type Record struct {
	ID   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
	Body []byte `json:"body,omitempty" yaml:"body,omitempty"`
	_    struct{}
}

// RecordRevision pairs a record with the commit that last touched it.
type RecordRevision struct {
	Record   Record    `json:"record" yaml:"record"`
	CommitID string    `json:"commitID" yaml:"commitID"`
	Hash     string    `json:"hash" yaml:"hash"`
	Updated  time.Time `json:"updated,omitempty" yaml:"updated,omitempty"`
	_        struct{}
}

// Contributor who pushed a changeset to the remote repository.
type Contributor struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	_     struct{}
}

func (c Contributor) String() string {
	return fmt.Sprintf("%s <%s>", c.Name, c.Email)
}

// GetRecordTimeStamp yields the current UTC time for new revisions.
func GetRecordTimeStamp() time.Time {
	return time.Now().UTC()
}

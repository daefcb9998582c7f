// Copyright © 2019 One Concern

package model

import "time"

// CacheEntry is one record as held by a cache backend, together with
// the bookkeeping the sync engine needs to reconcile it.
//
// Body is excluded from the metadata maps on disk: the fs backend keeps
// it as a standalone file under records/, the kv backend as a separate
// value.
type CacheEntry struct {
	ID       string `json:"id" yaml:"id"`
	Hash     string `json:"hash" yaml:"hash"`
	CommitID string `json:"commitID" yaml:"commitID"`
	Body     []byte `json:"-" yaml:"-"`
	_        struct{}
}

// HeadMarker records which remote state the cache mirrors. Its JSON
// form is the head_commit.json file, the last file written during an
// atomic cache swap: a cache without a readable marker is empty.
type HeadMarker struct {
	Version   uint64    `json:"version" yaml:"version"`
	CommitID  string    `json:"commit_id" yaml:"commit_id"`
	Branch    string    `json:"branch" yaml:"branch"`
	Remote    string    `json:"remote_instance_identity" yaml:"remote_instance_identity"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	_         struct{}
}

// IsEmpty reports whether the marker denotes an unpopulated cache.
func (h HeadMarker) IsEmpty() bool {
	return h.CommitID == ""
}

// Copyright © 2019 One Concern

package store

import (
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/catsync/pkg/model"
)

// Cache backend selectors for Config.Backend.
const (
	BackendFS = "fs"
	BackendKV = "kv"
)

// DefaultMaxRecordSize bounds the body of a pushed record. Catalogue
// records are small structured documents: anything bigger is almost
// certainly a mistake. Overridable per store via Config.MaxRecordSize.
const DefaultMaxRecordSize = 4 * units.MiB

// Config is the serializable description of a cached record store.
//
// It replaces the ambient store singleton of earlier designs: a
// coordinator passes the same Config to every worker, and each worker
// builds its own frozen handle from it.
type Config struct {
	// CacheDir is the cache directory shared by all handles built from
	// this config.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Backend selects the cache backend, BackendFS by default.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Branch of the remote repository this store tracks.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// RecordPrefix is where record documents live in the remote tree.
	RecordPrefix string `json:"record_prefix,omitempty" yaml:"record_prefix,omitempty"`

	// RebuildThreshold is the number of pending commits at which an
	// incremental refresh gives way to a full rebuild. Zero selects the
	// engine default.
	RebuildThreshold int `json:"rebuild_threshold,omitempty" yaml:"rebuild_threshold,omitempty"`

	// CallTimeout bounds each individual remote call during a refresh.
	// Zero leaves calls bounded only by the caller's context.
	CallTimeout time.Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`

	// MaxRecordSize bounds the body of a pushed record, in bytes.
	MaxRecordSize int64 `json:"max_record_size,omitempty" yaml:"max_record_size,omitempty"`

	_ struct{}
}

// WithDefaults returns a copy of the config with zero values replaced
// by defaults.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendFS
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.RecordPrefix == "" {
		c.RecordPrefix = model.DefaultRecordPrefix
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	return c
}

package kv

import (
	"time"

	"go.uber.org/zap"
)

// Option tunes the badger cache backend.
type Option func(*kvCache)

// Logger injects a logging facility into the backend.
func Logger(l *zap.Logger) Option {
	return func(s *kvCache) {
		if l != nil {
			s.l = l
		}
	}
}

// ReadOnly opens the database without write access. Several read-only
// instances may share one cache directory, e.g. frozen stores across
// worker processes.
func ReadOnly(ro bool) Option {
	return func(s *kvCache) {
		s.readOnly = ro
	}
}

// InMemory keeps the whole database in memory, with no files at all.
// Intended for tests.
func InMemory(mem bool) Option {
	return func(s *kvCache) {
		s.inMem = mem
	}
}

// LockStaleAfter overrides the deadline after which an abandoned
// refresh lock is broken.
func LockStaleAfter(d time.Duration) Option {
	return func(s *kvCache) {
		s.lockStaleAfter = d
	}
}

package fs

import (
	"time"

	"go.uber.org/zap"
)

// Option tunes the filesystem cache backend.
type Option func(*fsCache)

// Logger injects a logging facility into the backend.
func Logger(l *zap.Logger) Option {
	return func(s *fsCache) {
		if l != nil {
			s.l = l
		}
	}
}

// LockStaleAfter overrides the deadline after which an abandoned
// refresh lock is broken.
func LockStaleAfter(d time.Duration) Option {
	return func(s *fsCache) {
		s.lockStaleAfter = d
	}
}

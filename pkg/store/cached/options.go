// Copyright © 2019 One Concern

package cached

import (
	"github.com/oneconcern/catsync/pkg/cache"
	"go.uber.org/zap"
)

// Option is a functor to build a cached store with some options
type Option func(*Store, *int)

// Logger injects a logging facility into the store
func Logger(l *zap.Logger) Option {
	return func(s *Store, _ *int) {
		if l != nil {
			s.l = l
		}
	}
}

// WithCache injects a pre-built cache backend instead of opening one
// from the config. Intended for tests.
func WithCache(c cache.Store) Option {
	return func(s *Store, _ *int) {
		s.cache = c
	}
}

// RevisionCacheSize sets the number of decoded revisions kept hot for
// repeated SelectOne calls. Zero disables the hot cache.
func RevisionCacheSize(n int) Option {
	return func(_ *Store, hotSize *int) {
		if n >= 0 {
			*hotSize = n
		}
	}
}

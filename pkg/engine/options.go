package engine

import (
	"time"

	"go.uber.org/zap"
)

// Option is a functor to build an engine with some options
type Option func(*Engine)

// Branch binds the engine to a branch of the remote repository,
// "main" by default.
func Branch(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.branch = name
		}
	}
}

// RecordPrefix sets where record documents live in the remote tree.
// Paths outside the prefix never affect the cache.
func RecordPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.recordPrefix = prefix
		}
	}
}

// RebuildThreshold sets the number of pending commits at which an
// incremental refresh gives way to a full rebuild.
func RebuildThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// CallTimeout bounds each individual remote call. Zero, the default,
// leaves calls bounded only by the caller's context.
func CallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// Logger injects a logging facility into the engine
func Logger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

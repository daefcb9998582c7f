// Copyright © 2019 One Concern

// Package populate drives the parallel consumption phase of an export:
// one refresh of the record cache, performed synchronously under the
// advisory lock, then a pool of workers each holding its own frozen
// store over the same cache directory. During the parallel phase no
// worker performs a network call and no worker mutates the cache, so
// the pool cannot race over shared state.
package populate

import (
	"context"
	"fmt"
	"runtime"

	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	remotestatus "github.com/oneconcern/catsync/pkg/remote/status"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/cached"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Work runs on one worker of the pool. The store handle is frozen and
// private to the worker.
type Work func(ctx context.Context, worker int, s store.Store) error

// EachWork runs for one record revision on some worker of the pool.
type EachWork func(ctx context.Context, s store.Store, rev model.RecordRevision) error

// Coordinator populates a cache once and fans frozen handles out to a
// worker pool.
type Coordinator struct {
	cfg     store.Config
	repo    remote.Repository
	workers int
	l       *zap.Logger
}

// Option is a functor to build a coordinator with some options
type Option func(*Coordinator)

// Workers sets the size of the worker pool. The default is twice the
// number of CPUs, capped at 16.
func Workers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Logger injects a logging facility into the coordinator
func Logger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.l = l
		}
	}
}

// New builds a coordinator over the store config shared with the
// workers.
func New(cfg store.Config, repo remote.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg.WithDefaults(),
		repo:    repo,
		workers: defaultWorkers(),
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Run refreshes the cache once, then invokes work on every member of
// the pool, each with its own frozen store handle. The first worker
// error cancels the remaining workers.
func (c *Coordinator) Run(ctx context.Context, work Work) error {
	if _, err := c.refresh(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			s, err := cached.NewFrozen(c.cfg, cached.Logger(c.l))
			if err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			defer func() {
				_ = s.Close()
			}()
			return work(gctx, worker, s)
		})
	}
	return g.Wait()
}

// Each refreshes the cache once, then invokes work for every cached
// record, distributing records over the pool.
func (c *Coordinator) Each(ctx context.Context, work EachWork) error {
	ids, err := c.refresh(ctx)
	if err != nil {
		return err
	}
	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			s, err := cached.NewFrozen(c.cfg, cached.Logger(c.l))
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
			}()
			for id := range jobs {
				rev, err := s.SelectOne(gctx, id)
				if err != nil {
					return err
				}
				if err = work(gctx, s, rev); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// refresh performs the single synchronous cache refresh and returns
// the cached record ids. When the remote is unreachable but the cache
// is populated, the pool runs over the stale snapshot.
func (c *Coordinator) refresh(ctx context.Context) ([]string, error) {
	primary, err := cached.New(c.cfg, c.repo, cached.Logger(c.l))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = primary.Close()
	}()

	if err = primary.Sync(ctx); err != nil {
		if !errors.Is(err, remotestatus.ErrUnavailable) {
			return nil, err
		}
		ids, iderr := primary.IDs(ctx)
		if iderr != nil {
			return nil, err
		}
		c.l.Warn("remote unavailable, running workers over the cached snapshot", zap.Error(err))
		return ids, nil
	}
	ids, err := primary.IDs(ctx)
	if err != nil {
		return nil, err
	}
	c.l.Info("cache populated, starting worker pool",
		zap.Int("records", len(ids)),
		zap.Int("workers", c.workers),
	)
	return ids, nil
}

func defaultWorkers() int {
	n := 2 * runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return n
}

// Copyright © 2019 One Concern

package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/catsync/pkg/cache/status"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/spf13/afero"
)

// DefaultLockStaleAfter is how long an advisory lock may sit on disk
// before another refresher treats its owner as dead and takes over.
const DefaultLockStaleAfter = 10 * time.Minute

const lockRetryInterval = 250 * time.Millisecond

type lockInfo struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Created time.Time `json:"created"`
}

// Flock is an advisory lock file guarding the refresh critical section
// of a cache directory.
//
// Only refreshers take it: frozen readers are lock-free. The lock is
// advisory across processes, it keeps two concurrent refreshes from
// interleaving their writes but does not fence readers.
type Flock struct {
	mu         sync.Mutex
	fs         afero.Fs
	path       string
	staleAfter time.Duration
	held       bool
}

// NewFlock builds an advisory lock at path on the given filesystem.
// A staleAfter of zero selects DefaultLockStaleAfter.
func NewFlock(fs afero.Fs, path string, staleAfter time.Duration) *Flock {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &Flock{fs: fs, path: path, staleAfter: staleAfter}
}

// Lock acquires the advisory lock, waiting until the current owner
// releases it, its lock file goes stale, or ctx expires.
func (f *Flock) Lock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil
	}
	err := backoff.Retry(func() error {
		if e := f.tryAcquire(); e != nil {
			if errors.Is(e, status.ErrLockHeld) {
				return e // retry
			}
			return backoff.Permanent(e)
		}
		return nil
	},
		backoff.WithContext(backoff.NewConstantBackOff(lockRetryInterval), ctx),
	)
	if err != nil {
		return err
	}
	f.held = true
	return nil
}

// Unlock releases the lock. Releasing a lock that is not held is a
// no-op.
func (f *Flock) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held {
		return nil
	}
	f.held = false
	if err := f.fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %q: %w", f.path, err)
	}
	return nil
}

func (f *Flock) tryAcquire() error {
	target, err := f.fs.OpenFile(f.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err == nil {
		info := lockInfo{PID: os.Getpid(), Created: time.Now().UTC()}
		info.Host, _ = os.Hostname()
		payload, _ := jsoniter.Marshal(info)
		if _, err = target.Write(payload); err != nil {
			_ = target.Close()
			return fmt.Errorf("write lock %q: %w", f.path, err)
		}
		return target.Close()
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock %q: %w", f.path, err)
	}
	if f.isStale() {
		// dead owner: break the lock, next attempt races to recreate it
		if err = f.fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("break stale lock %q: %w", f.path, err)
		}
		return status.ErrLockHeld
	}
	return status.ErrLockHeld
}

func (f *Flock) isStale() bool {
	payload, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		// unreadable or concurrently released: not provably stale
		return false
	}
	var info lockInfo
	if err = jsoniter.Unmarshal(payload, &info); err != nil || info.Created.IsZero() {
		// garbage payload: use the file timestamp instead
		fi, serr := f.fs.Stat(f.path)
		if serr != nil {
			return false
		}
		info.Created = fi.ModTime()
	}
	return time.Since(info.Created) > f.staleAfter
}

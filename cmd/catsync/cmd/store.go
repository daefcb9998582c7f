// Copyright © 2019 One Concern

package cmd

import (
	"context"
	"time"

	"github.com/oneconcern/catsync/pkg/store/cached"
	"go.uber.org/zap"
)

// makeStore wires the configured remote and cache into a record store.
// Fatal on any misconfiguration: no command can proceed without one.
func makeStore(l *zap.Logger) *cached.Store {
	cfg, err := config.storeConfig()
	if err != nil {
		wrapFatalln("config", err)
	}
	repo, err := config.makeRemote(l)
	if err != nil {
		wrapFatalln("remote", err)
	}
	s, err := cached.New(cfg, repo, cached.Logger(l))
	if err != nil {
		wrapFatalln("open store", err)
	}
	return s
}

// cmdContext bounds a whole command run, not a single remote call:
// per-call deadlines are handled inside the store.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}

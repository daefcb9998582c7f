// Copyright © 2019 One Concern

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/catsync/pkg/dlogger"
	"github.com/oneconcern/catsync/pkg/remote"
	"github.com/oneconcern/catsync/pkg/remote/github"
	"github.com/oneconcern/catsync/pkg/remote/gitrepo"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RemoteConfig selects and parameterizes the remote repository
// adapter.
type RemoteConfig struct {
	// Kind is "github" or "git"
	Kind string `json:"kind" yaml:"kind"`

	// Repo is the "owner/name" slug of a github remote
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`

	// Path locates a git remote on the local filesystem
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Identity overrides the derived remote instance identity
	Identity string `json:"identity,omitempty" yaml:"identity,omitempty"`

	// Token authenticates github API calls. Prefer the CATSYNC_TOKEN
	// environment variable over the config file.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// BaseURL points at a GitHub Enterprise API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// CLIConfig is the configuration unmarshalled from the config file and
// environment.
type CLIConfig struct {
	Remote           RemoteConfig  `json:"remote" yaml:"remote"`
	Branch           string        `json:"branch" yaml:"branch"`
	CacheDir         string        `json:"cache_dir" yaml:"cache_dir" mapstructure:"cache_dir"`
	Backend          string        `json:"backend" yaml:"backend"`
	RecordPrefix     string        `json:"record_prefix,omitempty" yaml:"record_prefix,omitempty" mapstructure:"record_prefix"`
	RebuildThreshold int           `json:"rebuild_threshold,omitempty" yaml:"rebuild_threshold,omitempty" mapstructure:"rebuild_threshold"`
	CallTimeout      time.Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty" mapstructure:"call_timeout"`
	MaxRecordSize    string        `json:"max_record_size,omitempty" yaml:"max_record_size,omitempty" mapstructure:"max_record_size"`
	Concurrency      int           `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

func newConfig() (*CLIConfig, error) {
	var c CLIConfig
	if err := viper.Unmarshal(&c); err != nil {
		return nil, err
	}
	if token := viper.GetString("token"); token != "" {
		c.Remote.Token = token
	}
	return &c, nil
}

// storeConfig translates the CLI configuration into the serializable
// store config handed to every store and worker.
func (c *CLIConfig) storeConfig() (store.Config, error) {
	cfg := store.Config{
		CacheDir:         c.CacheDir,
		Backend:          c.Backend,
		Branch:           c.Branch,
		RecordPrefix:     c.RecordPrefix,
		RebuildThreshold: c.RebuildThreshold,
		CallTimeout:      c.CallTimeout,
	}
	if c.MaxRecordSize != "" {
		size, err := units.RAMInBytes(c.MaxRecordSize)
		if err != nil {
			return store.Config{}, fmt.Errorf("max_record_size %q: %w", c.MaxRecordSize, err)
		}
		cfg.MaxRecordSize = size
	}
	return cfg.WithDefaults(), nil
}

// makeRemote builds the configured remote repository adapter.
func (c *CLIConfig) makeRemote(l *zap.Logger) (remote.Repository, error) {
	switch c.Remote.Kind {
	case "github":
		parts := strings.SplitN(c.Remote.Repo, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("remote.repo %q: expected owner/name", c.Remote.Repo)
		}
		return github.New(parts[0], parts[1],
			github.Token(c.Remote.Token),
			github.BaseURL(c.Remote.BaseURL),
			github.Identity(c.Remote.Identity),
			github.Logger(l),
		)
	case "git":
		if c.Remote.Path == "" {
			return nil, fmt.Errorf("remote.path is required for a git remote")
		}
		return gitrepo.Open(c.Remote.Path, c.Remote.Identity, gitrepo.Logger(l))
	case "":
		return nil, fmt.Errorf("no remote configured: set remote.kind to github or git")
	default:
		return nil, fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}
}

func mustLogger() *zap.Logger {
	l, err := dlogger.New(flags.root.logLevel)
	if err != nil {
		wrapFatalln("logger", err)
	}
	return l
}

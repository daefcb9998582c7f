// Copyright © 2019 One Concern

package github

import (
	"net/http"
	"time"

	gh "github.com/google/go-github/v67/github"
	"go.uber.org/zap"
)

// Option is a functor to build a github adapter with some options
type Option func(*Repo)

// Logger injects a logging facility into the adapter
func Logger(l *zap.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.l = l
		}
	}
}

// Token authenticates API calls with a personal access token or an
// installation token.
func Token(token string) Option {
	return func(r *Repo) {
		r.token = token
	}
}

// BaseURL points the adapter at a GitHub Enterprise instance. The
// identity of the remote follows the enterprise host.
func BaseURL(apiURL string) Option {
	return func(r *Repo) {
		r.baseURL = apiURL
	}
}

// HTTPClient overrides the client used for API calls and archive
// downloads.
func HTTPClient(c *http.Client) Option {
	return func(r *Repo) {
		if c != nil {
			r.httpc = c
		}
	}
}

// WithClient injects a pre-built API client, e.g. one pointed at a
// test server. Token and BaseURL are ignored when set.
func WithClient(c *gh.Client) Option {
	return func(r *Repo) {
		r.client = c
	}
}

// Identity overrides the derived remote instance identity.
func Identity(identity string) Option {
	return func(r *Repo) {
		r.identity = identity
	}
}

// RetryTimeout bounds the exponential backoff spent on transient API
// failures, DefaultRetryTimeout by default.
func RetryTimeout(d time.Duration) Option {
	return func(r *Repo) {
		if d > 0 {
			r.retryTimeout = d
		}
	}
}

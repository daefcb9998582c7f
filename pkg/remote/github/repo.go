// Copyright © 2019 One Concern

// Package github adapts a GitHub (or GitHub Enterprise) repository to
// the remote repository contract.
//
// Reads go through the commits, compare and contents endpoints, bulk
// fetches stream the tarball archive, and commits are assembled with
// the git data API so a push never needs a local checkout. Transient
// API failures (rate limiting, 5xx, network) are retried with
// exponential backoff before surfacing as status.ErrUnavailable.
package github

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v67/github"
	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/remote"
	"github.com/oneconcern/catsync/pkg/remote/status"
	"go.uber.org/zap"
)

// DefaultRetryTimeout bounds the backoff spent retrying transient API
// failures on a single call.
const DefaultRetryTimeout = 30 * time.Second

const commitsPageSize = 100

var _ remote.Repository = &Repo{}

// Repo serves the remote contract off one GitHub repository.
type Repo struct {
	owner string
	name  string

	client       *gh.Client
	httpc        *http.Client
	token        string
	baseURL      string
	identity     string
	retryTimeout time.Duration
	l            *zap.Logger
}

// New builds an adapter for github.com/owner/name.
func New(owner, name string, opts ...Option) (*Repo, error) {
	r := &Repo{
		owner:        owner,
		name:         name,
		httpc:        http.DefaultClient,
		retryTimeout: DefaultRetryTimeout,
		l:            zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}

	if r.client == nil {
		client := gh.NewClient(r.httpc)
		if r.token != "" {
			client = client.WithAuthToken(r.token)
		}
		if r.baseURL != "" {
			var err error
			if client, err = client.WithEnterpriseURLs(r.baseURL, r.baseURL); err != nil {
				return nil, fmt.Errorf("enterprise base url %q: %w", r.baseURL, err)
			}
		}
		r.client = client
	}
	if r.identity == "" {
		host := "github.com"
		if r.baseURL != "" {
			u, err := url.Parse(r.baseURL)
			if err != nil {
				return nil, fmt.Errorf("base url %q: %w", r.baseURL, err)
			}
			host = u.Host
		}
		r.identity = fmt.Sprintf("%s/%s/%s", host, owner, name)
	}
	return r, nil
}

// Identity implements remote.Repository.
func (r *Repo) Identity() string {
	return r.identity
}

// HeadCommit implements remote.Repository.
func (r *Repo) HeadCommit(ctx context.Context, branch string) (model.CommitRef, error) {
	var out model.CommitRef
	err := r.call(ctx, "head "+branch, func() (*gh.Response, error) {
		b, resp, err := r.client.Repositories.GetBranch(ctx, r.owner, r.name, branch, 3)
		if err != nil {
			return resp, err
		}
		out = toCommitRef(b.GetCommit(), branch)
		return resp, nil
	})
	return out, err
}

// SnapshotArchive implements remote.Repository, streaming the tarball
// archive of the commit.
func (r *Repo) SnapshotArchive(ctx context.Context, commitID string) (remote.ArchiveIterator, error) {
	var link *url.URL
	err := r.call(ctx, "archive link "+commitID, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		link, resp, err = r.client.Repositories.GetArchiveLink(ctx, r.owner, r.name,
			gh.Tarball, &gh.RepositoryContentGetOptions{Ref: commitID}, 3)
		return resp, err
	})
	if err != nil {
		return nil, asUnknownCommit(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, status.ErrUnavailable.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, status.ErrUnavailable.Wrap(fmt.Errorf("archive download: HTTP %d", resp.StatusCode))
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, status.ErrUnavailable.Wrap(fmt.Errorf("archive stream: %w", err))
	}
	return &tarballIterator{body: resp.Body, tr: tar.NewReader(gz), gz: gz}, nil
}

// CommitsSince implements remote.Repository. The commits endpoint
// lists newest first: pages are consumed until sinceID shows up, then
// the pending refs are replayed oldest first.
func (r *Repo) CommitsSince(ctx context.Context, sinceID, branch string) ([]model.CommitRef, error) {
	var pending []model.CommitRef
	found := false
	page := 1
	for {
		var commits []*gh.RepositoryCommit
		err := r.call(ctx, "commits of "+branch, func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			commits, resp, err = r.client.Repositories.ListCommits(ctx, r.owner, r.name, &gh.CommitsListOptions{
				SHA:         branch,
				ListOptions: gh.ListOptions{Page: page, PerPage: commitsPageSize},
			})
			if resp != nil {
				page = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			if sinceID != "" && c.GetSHA() == sinceID {
				found = true
				break
			}
			pending = append(pending, toCommitRef(c, branch))
		}
		if found || page == 0 {
			break
		}
	}
	if sinceID != "" && !found {
		return nil, status.ErrUnknownCommit.Wrap(
			fmt.Errorf("commit %q is not in the history of %q", sinceID, branch))
	}
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending, nil
}

// ChangedPaths implements remote.Repository via the compare endpoint.
func (r *Repo) ChangedPaths(ctx context.Context, fromID, toID string) ([]model.PathChange, error) {
	var out []model.PathChange
	page := 1
	for {
		var cmp *gh.CommitsComparison
		err := r.call(ctx, fmt.Sprintf("compare %.12s..%.12s", fromID, toID), func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			cmp, resp, err = r.client.Repositories.CompareCommits(ctx, r.owner, r.name, fromID, toID,
				&gh.ListOptions{Page: page, PerPage: commitsPageSize})
			if resp != nil {
				page = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, asUnknownCommit(err)
		}
		for _, f := range cmp.Files {
			out = append(out, toPathChange(f))
		}
		if page == 0 {
			return out, nil
		}
	}
}

// FileAt implements remote.Repository via the contents endpoint.
func (r *Repo) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	var out []byte
	err := r.call(ctx, "contents of "+path, func() (*gh.Response, error) {
		file, _, resp, err := r.client.Repositories.GetContents(ctx, r.owner, r.name, path,
			&gh.RepositoryContentGetOptions{Ref: commitID})
		if err != nil {
			return resp, err
		}
		if file == nil {
			return resp, fmt.Errorf("%q is a directory", path)
		}
		content, err := file.GetContent()
		if err != nil {
			return resp, err
		}
		out = []byte(content)
		return resp, nil
	})
	return out, err
}

// CreateCommit implements remote.Repository with the git data API:
// blobs, a tree on top of the branch head, a commit, then a ref
// update. No local checkout is involved.
func (r *Repo) CreateCommit(ctx context.Context, in remote.CommitInput) (model.CommitRef, error) {
	if len(in.Files) == 0 {
		return model.CommitRef{}, status.ErrEmptyChangeset
	}
	refName := "refs/heads/" + in.Branch

	var headRef *gh.Reference
	err := r.call(ctx, "ref "+refName, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		headRef, resp, err = r.client.Git.GetRef(ctx, r.owner, r.name, refName)
		return resp, err
	})
	if err != nil {
		return model.CommitRef{}, err
	}
	parentSHA := headRef.GetObject().GetSHA()

	entries := make([]*gh.TreeEntry, 0, len(in.Files))
	for _, f := range in.Files {
		var blob *gh.Blob
		body := f.Body
		err = r.call(ctx, "blob "+f.Path, func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			blob, resp, err = r.client.Git.CreateBlob(ctx, r.owner, r.name, &gh.Blob{
				Content:  gh.String(base64.StdEncoding.EncodeToString(body)),
				Encoding: gh.String("base64"),
			})
			return resp, err
		})
		if err != nil {
			return model.CommitRef{}, err
		}
		entries = append(entries, &gh.TreeEntry{
			Path: gh.String(f.Path),
			Mode: gh.String("100644"),
			Type: gh.String("blob"),
			SHA:  blob.SHA,
		})
	}

	var tree *gh.Tree
	err = r.call(ctx, "tree", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		tree, resp, err = r.client.Git.CreateTree(ctx, r.owner, r.name, parentSHA, entries)
		return resp, err
	})
	if err != nil {
		return model.CommitRef{}, err
	}

	msg := in.Title
	if in.Message != "" {
		msg = in.Title + "\n\n" + in.Message
	}
	now := time.Now().UTC()
	var commit *gh.Commit
	err = r.call(ctx, "commit", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		commit, resp, err = r.client.Git.CreateCommit(ctx, r.owner, r.name, &gh.Commit{
			Message: gh.String(msg),
			Tree:    tree,
			Parents: []*gh.Commit{{SHA: gh.String(parentSHA)}},
			Author: &gh.CommitAuthor{
				Name:  gh.String(in.Author.Name),
				Email: gh.String(in.Author.Email),
				Date:  &gh.Timestamp{Time: now},
			},
		}, nil)
		return resp, err
	})
	if err != nil {
		return model.CommitRef{}, err
	}

	err = r.call(ctx, "update "+refName, func() (*gh.Response, error) {
		_, resp, err := r.client.Git.UpdateRef(ctx, r.owner, r.name, &gh.Reference{
			Ref:    gh.String(refName),
			Object: &gh.GitObject{SHA: commit.SHA},
		}, false)
		return resp, err
	})
	if err != nil {
		return model.CommitRef{}, err
	}

	r.l.Info("commit created",
		zap.String("commit", commit.GetSHA()),
		zap.String("branch", in.Branch),
		zap.Int("files", len(in.Files)),
	)
	return model.CommitRef{
		ID:        commit.GetSHA(),
		Branch:    in.Branch,
		Message:   msg,
		Author:    in.Author,
		Timestamp: now,
		URL:       commit.GetHTMLURL(),
	}, nil
}

// call runs one API operation under the retry policy: transient
// failures back off and retry until the retry timeout, the rest fail
// fast.
func (r *Repo) call(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.retryTimeout
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		resp, err := fn()
		if err == nil {
			return nil
		}
		mapped := mapErr(op, err, resp)
		if isTransient(err, resp) {
			r.l.Debug("transient API failure, backing off",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return mapped
		}
		return backoff.Permanent(mapped)
	}, backoff.WithContext(bo, ctx))
}

func isTransient(err error, resp *gh.Response) bool {
	var rle *gh.RateLimitError
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return true
	}
	if resp != nil {
		return resp.StatusCode >= 500
	}
	// no HTTP response at all: transport level failure
	return true
}

func mapErr(op string, err error, resp *gh.Response) error {
	var rle *gh.RateLimitError
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return status.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return status.ErrAuth.Wrap(fmt.Errorf("%s: %w", op, err))
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return status.ErrNotFound.Wrap(fmt.Errorf("%s: %w", op, err))
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return status.ErrInvalidRef.Wrap(fmt.Errorf("%s: %w", op, err))
		case resp.StatusCode >= 500:
			return status.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
		}
	}
	return status.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
}

// asUnknownCommit narrows a not-found on a commit-scoped endpoint.
func asUnknownCommit(err error) error {
	if errors.Is(err, status.ErrNotFound) {
		return status.ErrUnknownCommit.Wrap(err)
	}
	return err
}

func toCommitRef(c *gh.RepositoryCommit, branch string) model.CommitRef {
	out := model.CommitRef{
		ID:     c.GetSHA(),
		Branch: branch,
		URL:    c.GetHTMLURL(),
	}
	if gc := c.GetCommit(); gc != nil {
		out.Message = gc.GetMessage()
		if a := gc.GetAuthor(); a != nil {
			out.Author = model.Contributor{Name: a.GetName(), Email: a.GetEmail()}
			out.Timestamp = a.GetDate().Time.UTC()
		}
	}
	return out
}

func toPathChange(f *gh.CommitFile) model.PathChange {
	switch f.GetStatus() {
	case "removed":
		return model.PathChange{Path: f.GetFilename(), Kind: model.ChangeDeleted}
	case "renamed":
		return model.PathChange{
			Path:     f.GetFilename(),
			Kind:     model.ChangeRenamed,
			PrevPath: f.GetPreviousFilename(),
		}
	default:
		// added, modified, changed, copied all update the path in place
		return model.PathChange{Path: f.GetFilename(), Kind: model.ChangeModified}
	}
}

// tarballIterator walks a repository tarball. GitHub archives nest
// everything under a "<repo>-<ref>/" directory, stripped here.
type tarballIterator struct {
	body io.ReadCloser
	gz   *gzip.Reader
	tr   *tar.Reader
	cur  remote.File
	err  error
}

func (it *tarballIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		hdr, err := it.tr.Next()
		if err == io.EOF {
			return false
		}
		if err != nil {
			it.err = status.ErrUnavailable.Wrap(fmt.Errorf("archive stream: %w", err))
			return false
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		pth := stripArchiveRoot(hdr.Name)
		if pth == "" {
			continue
		}
		body, err := io.ReadAll(it.tr)
		if err != nil {
			it.err = status.ErrUnavailable.Wrap(fmt.Errorf("archive entry %q: %w", pth, err))
			return false
		}
		it.cur = remote.File{Path: pth, Body: body}
		return true
	}
}

func (it *tarballIterator) File() remote.File { return it.cur }

func (it *tarballIterator) Err() error { return it.err }

func (it *tarballIterator) Close() error {
	gerr := it.gz.Close()
	berr := it.body.Close()
	if gerr != nil {
		return gerr
	}
	return berr
}

func stripArchiveRoot(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

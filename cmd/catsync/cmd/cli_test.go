// Copyright © 2019 One Concern

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCLIIdentity = "git.example.com/acme/catalog"

var fatalCalls int

func setupCLI(t *testing.T, records map[string]string) (repoDir string) {
	fatalCalls = 0
	logFatalf = func(format string, v ...interface{}) {
		fatalCalls++
		t.Logf("fatal: "+format, v...)
	}
	logFatalln = func(v ...interface{}) {
		fatalCalls++
		t.Log(append([]interface{}{"fatal:"}, v...)...)
	}

	repoDir = t.TempDir()
	seedRepo(t, repoDir, records)

	cfgPath := filepath.Join(t.TempDir(), "catsync.yaml")
	cacheDir := filepath.Join(t.TempDir(), "cache")
	cfg := fmt.Sprintf(`remote:
  kind: git
  path: %s
  identity: %s
branch: master
cache_dir: %s
backend: fs
`, repoDir, testCLIIdentity, cacheDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	t.Setenv("CATSYNC_CONFIG", cfgPath)
	return repoDir
}

func seedRepo(t *testing.T, dir string, records map[string]string) {
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for id, body := range records {
		rel := filepath.Join("records", id+".yaml")
		abs := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(body), 0644))
		_, err = wt.Add(rel)
		require.NoError(t, err)
	}
	_, err = wt.Commit("seed records", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tests", Email: "tests@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

// runCLI executes one command and returns its stdout, minus the config
// file banner.
func runCLI(t *testing.T, args ...string) string {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	infoLogger.SetOutput(w)
	defer func() {
		os.Stdout = stdout
		infoLogger.SetOutput(stdout)
	}()

	rootCmd.SetArgs(args)
	execErr := rootCmd.Execute()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, execErr)

	lines := make([]string, 0, 8)
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Using config file:") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func TestCLISyncAndList(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
		"station-002": "name: Gibbon river\n",
	})

	out := runCLI(t, "sync")
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "cache in sync")

	out = runCLI(t, "record", "list", "--prefix", "")
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "station-001")
	assert.Contains(t, out, "station-002")

	out = runCLI(t, "record", "list", "--prefix", "station-002")
	require.Zero(t, fatalCalls)
	assert.NotContains(t, out, "station-001")
	assert.Contains(t, out, "station-002")
}

func TestCLIRecordGet(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
	})

	out := runCLI(t, "record", "get", "station-001")
	require.Zero(t, fatalCalls)
	assert.Equal(t, "name: Firehole river\n", out)
}

func TestCLIPushThenGet(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
	})
	runCLI(t, "sync")
	require.Zero(t, fatalCalls)

	changeset := filepath.Join(t.TempDir(), "changeset.yaml")
	require.NoError(t, os.WriteFile(changeset, []byte(`title: add gibbon
author:
  name: tests
  email: tests@example.com
records:
  - id: station-002
    body: |
      name: Gibbon river
`), 0600))

	out := runCLI(t, "push", "--file", changeset)
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "pushed commit")

	out = runCLI(t, "record", "get", "station-002")
	require.Zero(t, fatalCalls)
	assert.Equal(t, "name: Gibbon river\n", out)
}

func TestCLIExport(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
		"station-002": "name: Gibbon river\n",
		"station-003": "name: Madison river\n",
	})

	outDir := filepath.Join(t.TempDir(), "export")
	out := runCLI(t, "export", "--out", outDir, "--concurrency", "2")
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "exported 3 records")

	for _, id := range []string{"station-001", "station-002", "station-003"} {
		body, err := os.ReadFile(filepath.Join(outDir, id+".yaml"))
		require.NoError(t, err)
		assert.NotEmpty(t, body)
	}
}

func TestCLIPurgeNeedsForce(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
	})
	runCLI(t, "sync")
	require.Zero(t, fatalCalls)

	runCLI(t, "purge")
	assert.Equal(t, 1, fatalCalls)

	fatalCalls = 0
	out := runCLI(t, "purge", "--force")
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "cache purged")
}

func TestCLIConfigDump(t *testing.T) {
	setupCLI(t, map[string]string{
		"station-001": "name: Firehole river\n",
	})

	out := runCLI(t, "config", "dump")
	require.Zero(t, fatalCalls)
	assert.Contains(t, out, "kind: git")
	assert.Contains(t, out, "branch: master")
}

func TestCLIVersion(t *testing.T) {
	out := runCLI(t, "version")
	assert.Contains(t, out, "Version: dev")
}

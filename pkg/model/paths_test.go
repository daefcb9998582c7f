package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRecordPath(t *testing.T) {
	for _, tc := range []struct {
		path     string
		isRecord bool
	}{
		{"records/site-042.yaml", true},
		{"records/site-042.yml", true},
		{"records/site-042.json", true},
		{"records/site-042.png", false},
		{"records/nested/site-042.yaml", false},
		{"records/", false},
		{"README.md", false},
		{"docs/records/site-042.yaml", false},
	} {
		require.Equal(t, tc.isRecord, IsRecordPath(DefaultRecordPrefix, tc.path),
			"path: %s", tc.path)
	}
}

func TestRecordIDFromPath(t *testing.T) {
	require.Equal(t, "site-042", RecordIDFromPath("records/site-042.yaml"))
	require.Equal(t, "site-042", RecordIDFromPath("records/site-042.json"))
	require.Equal(t, "a.b", RecordIDFromPath("records/a.b.yaml"))
}

func TestPathForRecordRoundTrip(t *testing.T) {
	p := PathForRecord(DefaultRecordPrefix, "site-042")
	require.Equal(t, "records/site-042.yaml", p)
	require.True(t, IsRecordPath(DefaultRecordPrefix, p))
	require.Equal(t, "site-042", RecordIDFromPath(p))
}

func TestValidateRecordID(t *testing.T) {
	require.NoError(t, ValidateRecordID("site-042"))
	require.NoError(t, ValidateRecordID("a.b_c-d"))
	require.Error(t, ValidateRecordID(""))
	require.Error(t, ValidateRecordID("../escape"))
	require.Error(t, ValidateRecordID("a/b"))
	require.Error(t, ValidateRecordID(".hidden"))
}

func TestCachePaths(t *testing.T) {
	require.Equal(t, "records/site-042", GetPathToRecord("site-042"))
	require.Equal(t, "hashes.json", GetPathToHashes())
	require.Equal(t, "commits.json", GetPathToCommits())
	require.Equal(t, "head_commit.json", GetPathToHeadMarker())
}

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	f1, err := Fingerprint([]byte("kind: site\nid: site-042\n"))
	require.NoError(t, err)
	require.Len(t, f1, 2*FingerprintSize)

	f2, err := Fingerprint([]byte("kind: site\nid: site-042\n"))
	require.NoError(t, err)
	require.Equal(t, f1, f2, "hash must be stable for identical bytes")

	f3, err := Fingerprint([]byte("kind: site\nid: site-043\n"))
	require.NoError(t, err)
	require.NotEqual(t, f1, f3)
}

func TestFingerprintEmptyBody(t *testing.T) {
	f, err := Fingerprint(nil)
	require.NoError(t, err)
	require.Len(t, f, 2*FingerprintSize)
	require.Equal(t, f, MustFingerprint([]byte{}))
}

func TestContributorString(t *testing.T) {
	c := Contributor{Name: "ops-bot", Email: "ops@example.com"}
	require.Equal(t, "ops-bot <ops@example.com>", c.String())
}

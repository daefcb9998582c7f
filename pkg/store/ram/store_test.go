package ram

import (
	"context"
	"testing"

	"github.com/oneconcern/catsync/pkg/errors"
	"github.com/oneconcern/catsync/pkg/model"
	"github.com/oneconcern/catsync/pkg/store"
	"github.com/oneconcern/catsync/pkg/store/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectAndSelectOne(t *testing.T) {
	s := New()
	s.Put(model.Record{ID: "site-b", Body: []byte("b")})
	s.Put(model.Record{ID: "site-a", Body: []byte("a")})

	it, err := s.Select(context.Background())
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	var ids []string
	for it.Next() {
		ids = append(ids, it.Revision().Record.ID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"site-a", "site-b"}, ids, "revisions stream in id order")

	rev, err := s.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, model.MustFingerprint([]byte("a")), rev.Hash)

	_, err = s.SelectOne(context.Background(), "nope")
	assert.True(t, errors.Is(err, status.ErrRecordNotFound))
}

func TestFilters(t *testing.T) {
	s := New()
	s.Put(model.Record{ID: "site-a", Body: []byte("a")})
	s.Put(model.Record{ID: "page-b", Body: []byte("b")})

	it, err := s.Select(context.Background(), store.ByPrefix("site-"))
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	require.True(t, it.Next())
	assert.Equal(t, "site-a", it.Revision().Record.ID)
	assert.False(t, it.Next())
}

func TestPushAdvancesHead(t *testing.T) {
	s := New()
	head0 := s.Head()

	res, err := s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "site-a", Body: []byte("a")}},
		Title:   "seed",
	})
	require.NoError(t, err)
	assert.NotEqual(t, head0, res.CommitID)
	assert.Equal(t, res.CommitID, s.Head())

	rev, err := s.SelectOne(context.Background(), "site-a")
	require.NoError(t, err)
	assert.Equal(t, res.CommitID, rev.CommitID)

	_, err = s.Push(context.Background(), model.Changeset{Title: "empty"})
	assert.True(t, errors.Is(err, status.ErrEmptyChangeset))
}

func TestFrozen(t *testing.T) {
	s := New(Frozen(true))
	s.Put(model.Record{ID: "site-a", Body: []byte("a")})
	assert.True(t, s.Frozen())

	_, err := s.Push(context.Background(), model.Changeset{
		Records: []model.Record{{ID: "site-b", Body: []byte("b")}},
		Title:   "denied",
	})
	assert.True(t, errors.Is(err, status.ErrFrozenViolation))

	_, err = s.SelectOne(context.Background(), "site-a")
	assert.NoError(t, err, "frozen stores still serve reads")
}

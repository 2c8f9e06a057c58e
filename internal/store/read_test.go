package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAttachments_DeterministicOrder(t *testing.T) {
	s := createTestStore(t)
	for i, rec := range []Record{
		createTestRecord("b", "win64", 1),
		createTestRecord("B", "ps5", 2),
		createTestRecord("a", "win64", 3),
		createTestRecord("B", "win64", 4),
	} {
		require.NoError(t, s.RecordAttachment(t.Context(), rec), "record %d", i)
	}

	all, err := s.ListAttachments(t.Context(), "")
	require.NoError(t, err)
	var keys []string
	for _, rec := range all {
		keys = append(keys, rec.Name+"@"+rec.Platform)
	}
	assert.Equal(t, []string{"B@ps5", "B@win64", "a@win64", "b@win64"}, keys)

	win, err := s.ListAttachments(t.Context(), "win64")
	require.NoError(t, err)
	assert.Len(t, win, 3)
}

func TestListAttachments_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ListAttachments(t.Context(), "win64")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestGetAttachment_NotFound(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.RecordAttachment(t.Context(), createTestRecord("A", "win64", 1)))

	_, err := s.GetAttachment(t.Context(), "A", "ps5")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)

	seq, err := s.MaxSeq(t.Context())
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.RecordAttachment(t.Context(), createTestRecord("A", "win64", 4)))
	require.NoError(t, s.RecordAttachment(t.Context(), createTestRecord("B", "win64", 9)))

	seq, err = s.MaxSeq(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}

func TestReadAttachments_ChunksLargeBatches(t *testing.T) {
	s := createTestStore(t)

	var recs []Record
	names := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		name := fmt.Sprintf("unit-%04d", i)
		names = append(names, name)
		if i%3 == 0 {
			recs = append(recs, createTestRecord(name, "win64", int64(i)))
		}
	}
	require.NoError(t, s.RecordAttachments(t.Context(), recs))

	found, err := s.readAttachments(t.Context(), names, "win64")
	require.NoError(t, err)
	assert.Len(t, found, 400)
	assert.Equal(t, "hash-unit-0999", found["unit-0999"].ContentHash)
	assert.NotContains(t, found, "unit-1000")
}

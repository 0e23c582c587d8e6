package pk

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/zvec/internal/layout"
)

func TestIndex_Basics(t *testing.T) {
	idx := NewIndex()
	id := uuid.New()

	_, ok := idx.Lookup(id)
	assert.False(t, ok)

	require.NoError(t, idx.Insert(id, 3))
	slot, ok := idx.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, int32(3), slot)
	assert.Equal(t, 1, idx.Len())

	assert.ErrorIs(t, idx.Insert(id, 4), ErrDuplicate)

	assert.True(t, idx.Delete(id))
	assert.False(t, idx.Delete(id))
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_Rebuild(t *testing.T) {
	f, err := layout.Create(filepath.Join(t.TempDir(), "idx.zvec"), layout.Params{
		Dim: 2, MaxCount: 4, MaxNeighbors: 2, MaxLayers: 2,
	})
	require.NoError(t, err)
	defer f.Close()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.SetDocID(0, a)
	f.SetDocID(1, b)
	f.SetDocID(2, c)
	require.NoError(t, f.SetTombstone(1, true))
	f.Header().CurrentCount = 3

	idx := NewIndex()
	require.NoError(t, idx.Rebuild(f))

	assert.Equal(t, 2, idx.Len())
	_, ok := idx.Lookup(b)
	assert.False(t, ok, "tombstoned slots stay out of the index")

	slot, ok := idx.Lookup(c)
	require.True(t, ok)
	assert.Equal(t, int32(2), slot)
}

func TestIndex_RebuildDuplicate(t *testing.T) {
	f, err := layout.Create(filepath.Join(t.TempDir(), "dup.zvec"), layout.Params{
		Dim: 2, MaxCount: 4, MaxNeighbors: 2, MaxLayers: 2,
	})
	require.NoError(t, err)
	defer f.Close()

	id := uuid.New()
	f.SetDocID(0, id)
	f.SetDocID(1, id)
	f.Header().CurrentCount = 2

	assert.ErrorIs(t, NewIndex().Rebuild(f), ErrDuplicate)
}

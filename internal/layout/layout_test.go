package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Params{Dim: 4, MaxCount: 8, MaxNeighbors: 4, MaxLayers: 3, Metric: 0}

func createTestFile(t *testing.T) *File {
	t.Helper()

	f, err := Create(filepath.Join(t.TempDir(), "test.zvec"), testParams)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	return f
}

func TestTotalSize(t *testing.T) {
	// 1024 + 8*(4*4 + 3*4*4 + 512 + 16 + 1)
	assert.Equal(t, int64(1024+8*(16+48+512+16+1)), TotalSize(testParams))
}

func TestCreate_HeaderDefaults(t *testing.T) {
	f := createTestFile(t)

	h := f.Header()
	assert.Equal(t, int32(Magic), h.Magic)
	assert.Equal(t, int32(Version), h.Version)
	assert.Equal(t, int32(4), h.Dim)
	assert.Equal(t, NoSlot, h.EntryPoint)
	assert.Equal(t, int32(0), h.CurrentCount)
	assert.InDelta(t, 0.7213, h.LayerProbability, 0.001) // 1/ln(4)
}

func TestHeader_MarshalRoundTrip(t *testing.T) {
	in := Header{
		MaxLayers:        5,
		LayerProbability: 0.3606,
		Magic:            Magic,
		Version:          Version,
		Dim:              128,
		CurrentCount:     42,
		MaxCount:         1000,
		MaxNeighbors:     16,
		EntryPoint:       7,
		EntryPointLevel:  2,
		DeletedCount:     3,
		DistanceFunction: 1,
	}

	var buf [HeaderSize]byte
	in.marshal(buf[:])

	var out Header
	out.unmarshal(buf[:])
	assert.Equal(t, in, out)
}

func TestFile_VectorRoundTrip(t *testing.T) {
	f := createTestFile(t)

	f.SetVector(3, []float32{1, 2, 3, 4})
	assert.Equal(t, []float32{1, 2, 3, 4}, f.Vector(3))
	assert.Equal(t, []float32{0, 0, 0, 0}, f.Vector(2))
}

func TestFile_MetadataPadding(t *testing.T) {
	f := createTestFile(t)

	require.NoError(t, f.SetMetadata(1, []byte("hello")))
	assert.Equal(t, []byte("hello"), f.MetadataTrimmed(1))
	assert.Len(t, f.Metadata(1), MetadataSize)

	// Shorter rewrite must zero the tail of the previous value.
	require.NoError(t, f.SetMetadata(1, []byte("hi")))
	assert.Equal(t, []byte("hi"), f.MetadataTrimmed(1))

	assert.ErrorIs(t, f.SetMetadata(1, make([]byte, MetadataSize+1)), ErrMetadataTooLarge)
}

func TestFile_DocIDRoundTrip(t *testing.T) {
	f := createTestFile(t)

	id := uuid.New()
	f.SetDocID(5, id)
	assert.Equal(t, id, f.DocID(5))
	assert.Equal(t, uuid.UUID{}, f.DocID(4))
}

func TestFile_Tombstone(t *testing.T) {
	f := createTestFile(t)

	assert.False(t, f.Tombstone(2))
	require.NoError(t, f.SetTombstone(2, true))
	assert.True(t, f.Tombstone(2))
	require.NoError(t, f.SetTombstone(2, false))
	assert.False(t, f.Tombstone(2))
}

func TestFile_Neighbors(t *testing.T) {
	f := createTestFile(t)

	f.ClearNeighbors(0, 1)
	assert.Equal(t, []int32{NoSlot, NoSlot, NoSlot, NoSlot}, f.Neighbors(0, 1))

	list := f.Neighbors(0, 1)
	list[0] = 3
	list[1] = 5
	assert.Equal(t, []int32{3, 5, NoSlot, NoSlot}, f.Neighbors(0, 1))

	// Adjacent cells must be untouched.
	assert.Equal(t, []int32{0, 0, 0, 0}, f.Neighbors(0, 2))
}

func TestOpen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.zvec")

	f, err := Create(path, testParams)
	require.NoError(t, err)

	f.SetVector(0, []float32{9, 8, 7, 6})
	f.Header().CurrentCount = 1
	require.NoError(t, f.FlushHeader())
	require.NoError(t, f.Close())

	g, err := Open(path, 4, false)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, int32(1), g.Header().CurrentCount)
	assert.Equal(t, []float32{9, 8, 7, 6}, g.Vector(0))
	assert.Equal(t, testParams, g.Params())
}

func TestOpen_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.zvec")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o644))

	_, err := Open(path, 4, false)
	assert.ErrorIs(t, err, ErrFormatMismatch)
}

func TestOpen_DimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.zvec")

	f, err := Create(path, testParams)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, 8, false)
	assert.ErrorIs(t, err, ErrFormatMismatch)
}

func TestOpen_MigratesVersion2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.zvec")

	// Build a version 2 file by hand: header + vectors + graph + metadata +
	// DocIDs, no tombstone section.
	f, err := Create(path, testParams)
	require.NoError(t, err)

	id := uuid.New()
	f.SetVector(0, []float32{1, 0, 0, 0})
	f.SetDocID(0, id)
	f.Header().CurrentCount = 1
	f.Header().Version = 2
	require.NoError(t, f.FlushHeader())
	require.NoError(t, f.Close())

	require.NoError(t, os.Truncate(path, TotalSize(testParams)-int64(testParams.MaxCount)))

	g, err := Open(path, 4, false)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, int32(Version), g.Header().Version)
	assert.Equal(t, id, g.DocID(0), "existing DocIDs survive migration")
	assert.False(t, g.Tombstone(0), "migrated tombstones default to active")
}

func TestOpen_MigratesVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.zvec")

	f, err := Create(path, testParams)
	require.NoError(t, err)
	f.SetVector(0, []float32{1, 0, 0, 0})
	f.SetVector(1, []float32{0, 1, 0, 0})
	f.Header().CurrentCount = 2
	f.Header().Version = 1
	require.NoError(t, f.FlushHeader())
	require.NoError(t, f.Close())

	// Version 1 ends after the metadata section.
	v1Size := TotalSize(testParams) - int64(testParams.MaxCount)*(DocIDSize+1)
	require.NoError(t, os.Truncate(path, v1Size))

	g, err := Open(path, 4, false)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, int32(Version), g.Header().Version)
	assert.NotEqual(t, uuid.UUID{}, g.DocID(0), "migration generates fresh DocIDs")
	assert.NotEqual(t, g.DocID(0), g.DocID(1))
	assert.Equal(t, uuid.UUID{}, g.DocID(2), "slots beyond count stay zero")
}

func TestOpen_ReadOnlyRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.zvec")

	f, err := Create(path, testParams)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := Open(path, 4, true)
	require.NoError(t, err)
	defer g.Close()

	assert.True(t, g.ReadOnly())
	assert.ErrorIs(t, g.FlushHeader(), ErrReadOnly)
}

func TestCreate_InvalidParams(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "x.zvec"), Params{})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/zvec/resource"
)

func testPayload() []byte {
	// Repetitive so LZ4/ZSTD actually compress it.
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 7)
	}
	return data
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			data := testPayload()

			var buf bytes.Buffer
			require.NoError(t, Write(context.Background(), &buf, data, WithCodec(codec)))

			if codec != CodecNone {
				assert.Less(t, buf.Len(), len(data), "payload should compress")
			}

			got, err := Read(context.Background(), &buf)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestWriteFile_Restore(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "db.zvsnap")
	dst := filepath.Join(dir, "restored.zvec")
	data := testPayload()

	require.NoError(t, WriteFile(context.Background(), snap, data, WithCodec(CodecZSTD)))
	require.NoError(t, Restore(context.Background(), snap, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRead_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, testPayload()))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF

	_, err := Read(context.Background(), bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestRead_BadMagic(t *testing.T) {
	_, err := Read(context.Background(), bytes.NewReader(make([]byte, 64)))
	assert.ErrorIs(t, err, ErrBadSnapshot)
}

func TestWrite_IncompressibleFallsBackToNone(t *testing.T) {
	// A tiny high-entropy payload where LZ4 gains nothing.
	data := []byte{1, 255, 3, 200, 5, 99, 7, 42}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, data, WithCodec(CodecLZ4)))
	assert.Equal(t, byte(CodecNone), buf.Bytes()[5], "stored codec byte")

	got, err := Read(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteRead_Throttled(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 10 << 20})
	data := testPayload()

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, data, WithController(rc)))

	got, err := Read(context.Background(), &buf, WithController(rc))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"none": CodecNone, "lz4": CodecLZ4, "zstd": CodecZSTD} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, want, c)
	}

	_, err := ParseCodec("gzip")
	assert.Error(t, err)
}

// Package snapshot writes and restores framed, optionally compressed
// copies of an engine's backing file.
//
// A snapshot is a single stream: a fixed header (magic, format version,
// codec, raw and stored payload lengths, payload checksum) followed by the
// payload. Restores verify the checksum before touching the destination and
// replace it atomically via a temp file and rename.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/zvec/resource"
)

const (
	// Magic identifies a snapshot stream ("ZVSN" read big-endian).
	Magic = 0x5A56534E

	// FormatVersion is the snapshot framing version.
	FormatVersion = 1

	headerSize = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	// ErrBadSnapshot indicates a stream that is not a snapshot or uses an
	// unknown codec or framing version.
	ErrBadSnapshot = errors.New("snapshot: malformed snapshot")

	// ErrChecksum indicates payload corruption.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
)

// Codec selects the payload compression.
type Codec uint8

const (
	// CodecNone stores the payload verbatim.
	CodecNone Codec = iota
	// CodecLZ4 uses LZ4 block compression (fast, moderate ratio).
	CodecLZ4
	// CodecZSTD uses ZSTD compression (slower, better ratio).
	CodecZSTD
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name as accepted by the CLI.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("snapshot: unsupported codec %q", s)
	}
}

// Options represents snapshot options.
type Options struct {
	// Codec selects payload compression. Defaults to CodecNone.
	Codec Codec

	// Controller, if set, throttles snapshot IO. WriteFile also admits the
	// job as a background worker; Write, Read, ReadFile and Restore do not.
	Controller *resource.Controller
}

// WithCodec sets the payload compression.
func WithCodec(c Codec) func(o *Options) {
	return func(o *Options) { o.Codec = c }
}

// WithController throttles snapshot IO through rc.
func WithController(rc *resource.Controller) func(o *Options) {
	return func(o *Options) { o.Controller = rc }
}

// Write streams a snapshot of data to w.
func Write(ctx context.Context, w io.Writer, data []byte, optFns ...func(o *Options)) error {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	payload, codec, err := compress(data, opts.Codec)
	if err != nil {
		return err
	}

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], Magic)
	hdr[4] = FormatVersion
	hdr[5] = byte(codec)
	binary.LittleEndian.PutUint64(hdr[6:], uint64(len(data)))
	binary.LittleEndian.PutUint64(hdr[14:], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[22:], crc32.ChecksumIEEE(payload))

	out := w
	if opts.Controller != nil {
		out = resource.NewRateLimitedWriter(ctx, w, opts.Controller)
	}

	if _, err := out.Write(hdr[:]); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("snapshot: write payload: %w", err)
	}

	return nil
}

// WriteFile writes a snapshot of data to path via a temp file and rename,
// so an interrupted backup never leaves a truncated snapshot behind.
func WriteFile(ctx context.Context, path string, data []byte, optFns ...func(o *Options)) error {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Controller != nil {
		if err := opts.Controller.AcquireWorker(ctx); err != nil {
			return err
		}
		defer opts.Controller.ReleaseWorker()
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := Write(ctx, f, data, optFns...); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// Read decodes a snapshot stream and returns the raw payload.
func Read(ctx context.Context, r io.Reader, optFns ...func(o *Options)) ([]byte, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	in := r
	if opts.Controller != nil {
		in = resource.NewRateLimitedReader(ctx, r, opts.Controller)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(in, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrBadSnapshot)
	}

	if binary.LittleEndian.Uint32(hdr[0:]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	if hdr[4] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, hdr[4])
	}

	codec := Codec(hdr[5])
	rawLen := binary.LittleEndian.Uint64(hdr[6:])
	storedLen := binary.LittleEndian.Uint64(hdr[14:])
	sum := binary.LittleEndian.Uint32(hdr[22:])

	payload := make([]byte, storedLen)
	if _, err := io.ReadFull(in, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload", ErrBadSnapshot)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, ErrChecksum
	}

	return decompress(payload, codec, rawLen)
}

// ReadFile decodes the snapshot at path.
func ReadFile(ctx context.Context, path string, optFns ...func(o *Options)) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(ctx, f, optFns...)
}

// Restore decodes the snapshot at src and atomically replaces dst with its
// payload. On any error dst is unchanged.
func Restore(ctx context.Context, src, dst string, optFns ...func(o *Options)) error {
	data, err := ReadFile(ctx, src, optFns...)
	if err != nil {
		return err
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, dst)
}

func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return data, CodecNone, nil

	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot: lz4: %w", err)
		}
		if n == 0 || n >= len(data) {
			// Incompressible; store verbatim.
			return data, CodecNone, nil
		}
		return buf[:n], CodecLZ4, nil

	case CodecZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot: zstd: %w", err)
		}
		out := enc.EncodeAll(data, nil)
		_ = enc.Close()
		if len(out) >= len(data) {
			return data, CodecNone, nil
		}
		return out, CodecZSTD, nil

	default:
		return nil, 0, fmt.Errorf("%w: codec %d", ErrBadSnapshot, codec)
	}
}

func decompress(payload []byte, codec Codec, rawLen uint64) ([]byte, error) {
	switch codec {
	case CodecNone:
		if uint64(len(payload)) != rawLen {
			return nil, fmt.Errorf("%w: length mismatch", ErrBadSnapshot)
		}
		return payload, nil

	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4: %w", err)
		}
		if uint64(n) != rawLen {
			return nil, fmt.Errorf("%w: length mismatch", ErrBadSnapshot)
		}
		return out, nil

	case CodecZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		if uint64(len(out)) != rawLen {
			return nil, fmt.Errorf("%w: length mismatch", ErrBadSnapshot)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: codec %d", ErrBadSnapshot, codec)
	}
}

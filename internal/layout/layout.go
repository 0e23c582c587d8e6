// Package layout implements the on-disk file format of the engine.
//
// A backing file is a fixed 1024-byte header followed by five slot-addressed
// array sections, in order: vectors, graph (neighbour lists), metadata,
// document IDs, tombstones. Every section offset is a constant computed from
// the header parameters, so any (slot, section) cell is one O(1) pointer
// into the mapping and every mutation is a localized write.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/zvec/internal/mmap"
)

const (
	// HeaderSize is the fixed size of the file header in bytes.
	HeaderSize = 1024

	// Magic identifies a backing file ("ZVEC" read big-endian).
	Magic = 0x5A564543

	// Version is the current format version. Version 1 had neither DocID
	// nor tombstone sections, version 2 added DocIDs, version 3 added
	// tombstones.
	Version = 3

	// MetadataSize is the fixed per-slot metadata capacity in bytes.
	MetadataSize = 512

	// DocIDSize is the per-slot document identifier size in bytes.
	DocIDSize = 16

	// NoSlot is the sentinel terminating neighbour lists and marking an
	// unset entry point.
	NoSlot = int32(-1)
)

var (
	// ErrFormatMismatch indicates a file whose magic number, dimension or
	// size does not match what the caller requested.
	ErrFormatMismatch = errors.New("layout: format mismatch")

	// ErrMetadataTooLarge indicates a metadata payload above MetadataSize.
	ErrMetadataTooLarge = errors.New("layout: metadata exceeds 512 bytes")

	// ErrInvalidParams indicates non-positive layout parameters.
	ErrInvalidParams = errors.New("layout: invalid parameters")

	// ErrReadOnly indicates a mutation on a read-only file.
	ErrReadOnly = errors.New("layout: file is read-only")
)

// Params are the construction parameters of a backing file.
type Params struct {
	Dim          int32 // vector dimension
	MaxCount     int32 // slot capacity
	MaxNeighbors int32 // neighbour cap per (slot, layer)
	MaxLayers    int32 // layer count of the hierarchy
	Metric       int32 // 0 = dot product, 1 = cosine
}

func (p Params) validate() error {
	if p.Dim <= 0 || p.MaxCount <= 0 || p.MaxNeighbors <= 0 || p.MaxLayers <= 0 {
		return ErrInvalidParams
	}
	return nil
}

// Header is the in-memory form of the 1024-byte file header.
// Field order matches the packed little-endian wire order.
type Header struct {
	MaxLayers        int32
	LayerProbability float64
	Magic            int32
	Version          int32
	Dim              int32
	CurrentCount     int32
	MaxCount         int32
	MaxNeighbors     int32
	EntryPoint       int32
	EntryPointLevel  int32
	DeletedCount     int32
	DistanceFunction int32
}

// Wire offsets of the packed header fields.
const (
	offMaxLayers        = 0
	offLayerProbability = 4
	offMagic            = 12
	offVersion          = 16
	offDim              = 20
	offCurrentCount     = 24
	offMaxCount         = 28
	offMaxNeighbors     = 32
	offEntryPoint       = 36
	offEntryPointLevel  = 40
	offDeletedCount     = 44
	offDistanceFunction = 48
)

func (h *Header) marshal(b []byte) {
	_ = b[:HeaderSize]
	binary.LittleEndian.PutUint32(b[offMaxLayers:], uint32(h.MaxLayers))
	binary.LittleEndian.PutUint64(b[offLayerProbability:], math.Float64bits(h.LayerProbability))
	binary.LittleEndian.PutUint32(b[offMagic:], uint32(h.Magic))
	binary.LittleEndian.PutUint32(b[offVersion:], uint32(h.Version))
	binary.LittleEndian.PutUint32(b[offDim:], uint32(h.Dim))
	binary.LittleEndian.PutUint32(b[offCurrentCount:], uint32(h.CurrentCount))
	binary.LittleEndian.PutUint32(b[offMaxCount:], uint32(h.MaxCount))
	binary.LittleEndian.PutUint32(b[offMaxNeighbors:], uint32(h.MaxNeighbors))
	binary.LittleEndian.PutUint32(b[offEntryPoint:], uint32(h.EntryPoint))
	binary.LittleEndian.PutUint32(b[offEntryPointLevel:], uint32(h.EntryPointLevel))
	binary.LittleEndian.PutUint32(b[offDeletedCount:], uint32(h.DeletedCount))
	binary.LittleEndian.PutUint32(b[offDistanceFunction:], uint32(h.DistanceFunction))
}

func (h *Header) unmarshal(b []byte) {
	_ = b[:HeaderSize]
	h.MaxLayers = int32(binary.LittleEndian.Uint32(b[offMaxLayers:]))
	h.LayerProbability = math.Float64frombits(binary.LittleEndian.Uint64(b[offLayerProbability:]))
	h.Magic = int32(binary.LittleEndian.Uint32(b[offMagic:]))
	h.Version = int32(binary.LittleEndian.Uint32(b[offVersion:]))
	h.Dim = int32(binary.LittleEndian.Uint32(b[offDim:]))
	h.CurrentCount = int32(binary.LittleEndian.Uint32(b[offCurrentCount:]))
	h.MaxCount = int32(binary.LittleEndian.Uint32(b[offMaxCount:]))
	h.MaxNeighbors = int32(binary.LittleEndian.Uint32(b[offMaxNeighbors:]))
	h.EntryPoint = int32(binary.LittleEndian.Uint32(b[offEntryPoint:]))
	h.EntryPointLevel = int32(binary.LittleEndian.Uint32(b[offEntryPointLevel:]))
	h.DeletedCount = int32(binary.LittleEndian.Uint32(b[offDeletedCount:]))
	h.DistanceFunction = int32(binary.LittleEndian.Uint32(b[offDistanceFunction:]))
}

// SlotBytes returns the total per-slot footprint for the given parameters.
func SlotBytes(p Params) int64 {
	return int64(p.Dim)*4 + int64(p.MaxLayers)*int64(p.MaxNeighbors)*4 + MetadataSize + DocIDSize + 1
}

// TotalSize returns the exact backing-file size for the given parameters.
func TotalSize(p Params) int64 {
	return HeaderSize + int64(p.MaxCount)*SlotBytes(p)
}

// File is a memory-mapped backing file with typed access to every section.
//
// File performs no locking. The engine serializes mutations and guarantees
// that concurrent readers never observe a write in progress.
type File struct {
	path string
	f    *os.File
	m    *mmap.Mapping
	hdr  Header

	vecOff   int64
	graphOff int64
	metaOff  int64
	idOff    int64
	tombOff  int64

	readOnly bool
}

// Create creates a backing file at path with the given parameters.
// The file is sized up front; all sections start zeroed and the entry point
// is unset.
func Create(path string, p Params) (*File, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("layout: create %s: %w", path, err)
	}

	if err := f.Truncate(TotalSize(p)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("layout: size %s: %w", path, err)
	}

	hdr := Header{
		MaxLayers:        p.MaxLayers,
		LayerProbability: 1 / math.Log(float64(p.MaxNeighbors)),
		Magic:            Magic,
		Version:          Version,
		Dim:              p.Dim,
		MaxCount:         p.MaxCount,
		MaxNeighbors:     p.MaxNeighbors,
		EntryPoint:       NoSlot,
		DistanceFunction: p.Metric,
	}

	var buf [HeaderSize]byte
	hdr.marshal(buf[:])
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("layout: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("layout: sync header: %w", err)
	}

	return mapFile(path, f, hdr, false)
}

// Open opens an existing backing file, validating its magic number and that
// its recorded dimension matches dim. Files written by older format versions
// are migrated in place before mapping (see migrate.go); migration requires
// a writable open.
//
// All other parameters (capacity, neighbour cap, layer count, metric) are
// authoritative in the file and returned through Params().
func Open(path string, dim int32, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}

	var buf [HeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: short header: %v", ErrFormatMismatch, err)
	}

	var hdr Header
	hdr.unmarshal(buf[:])

	if hdr.Magic != Magic {
		_ = f.Close()
		return nil, fmt.Errorf("%w: bad magic 0x%X", ErrFormatMismatch, uint32(hdr.Magic))
	}
	if hdr.Dim != dim {
		_ = f.Close()
		return nil, fmt.Errorf("%w: dimension %d, requested %d", ErrFormatMismatch, hdr.Dim, dim)
	}
	if hdr.Version < 1 || hdr.Version > Version {
		_ = f.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormatMismatch, hdr.Version)
	}

	if hdr.Version < Version {
		if readOnly {
			_ = f.Close()
			return nil, fmt.Errorf("%w: version %d file needs migration but open is read-only", ErrFormatMismatch, hdr.Version)
		}
		if err := migrate(f, &hdr); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if want := TotalSize(paramsOf(hdr)); fi.Size() != want {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file size %d, want %d", ErrFormatMismatch, fi.Size(), want)
	}

	return mapFile(path, f, hdr, readOnly)
}

func paramsOf(hdr Header) Params {
	return Params{
		Dim:          hdr.Dim,
		MaxCount:     hdr.MaxCount,
		MaxNeighbors: hdr.MaxNeighbors,
		MaxLayers:    hdr.MaxLayers,
		Metric:       hdr.DistanceFunction,
	}
}

func mapFile(path string, f *os.File, hdr Header, readOnly bool) (*File, error) {
	size := TotalSize(paramsOf(hdr))

	m, err := mmap.Open(f, int(size), readOnly)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("layout: mmap %s: %w", path, err)
	}

	lf := &File{
		path:     path,
		f:        f,
		m:        m,
		hdr:      hdr,
		readOnly: readOnly,
	}
	lf.computeOffsets()

	return lf, nil
}

func (f *File) computeOffsets() {
	p := f.Params()
	f.vecOff = HeaderSize
	f.graphOff = f.vecOff + int64(p.MaxCount)*int64(p.Dim)*4
	f.metaOff = f.graphOff + int64(p.MaxCount)*int64(p.MaxLayers)*int64(p.MaxNeighbors)*4
	f.idOff = f.metaOff + int64(p.MaxCount)*MetadataSize
	f.tombOff = f.idOff + int64(p.MaxCount)*DocIDSize
}

// Params returns the construction parameters recorded in the header.
func (f *File) Params() Params { return paramsOf(f.hdr) }

// Header returns the mutable in-memory header. Changes become durable only
// after FlushHeader.
func (f *File) Header() *Header { return &f.hdr }

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// ReadOnly reports whether mutations are rejected.
func (f *File) ReadOnly() bool { return f.readOnly }

// Bytes exposes the raw mapping for whole-file streaming (backup).
// The slice aliases the mapping; do not retain it across Close.
func (f *File) Bytes() []byte { return f.m.Bytes() }

// FlushHeader serializes the in-memory header into the mapping and flushes
// it. Every mutating operation calls this last, which is what makes a crash
// between writes recoverable: the header never points at in-flight state.
func (f *File) FlushHeader() error {
	if f.readOnly {
		return ErrReadOnly
	}
	f.hdr.marshal(f.m.Bytes()[:HeaderSize])
	return f.m.Flush(0, HeaderSize)
}

// Vector returns a zero-copy view of the slot's vector.
func (f *File) Vector(slot int32) []float32 {
	p := f.Params()
	off := f.vecOff + int64(slot)*int64(p.Dim)*4
	return unsafe.Slice((*float32)(unsafe.Pointer(&f.m.Bytes()[off])), int(p.Dim))
}

// SetVector copies v into the slot's vector cell.
func (f *File) SetVector(slot int32, v []float32) {
	copy(f.Vector(slot), v)
}

// Neighbors returns a zero-copy view of the slot's neighbour list at layer.
// The list holds MaxNeighbors entries; NoSlot terminates it.
func (f *File) Neighbors(slot int32, layer int32) []int32 {
	p := f.Params()
	off := f.graphOff + (int64(slot)*int64(p.MaxLayers)+int64(layer))*int64(p.MaxNeighbors)*4
	return unsafe.Slice((*int32)(unsafe.Pointer(&f.m.Bytes()[off])), int(p.MaxNeighbors))
}

// ClearNeighbors resets the slot's neighbour list at layer to all-NoSlot.
func (f *File) ClearNeighbors(slot int32, layer int32) {
	list := f.Neighbors(slot, layer)
	for i := range list {
		list[i] = NoSlot
	}
}

// Metadata returns a zero-copy view of the slot's full 512-byte metadata
// cell, including zero padding.
func (f *File) Metadata(slot int32) []byte {
	off := f.metaOff + int64(slot)*MetadataSize
	return f.m.Bytes()[off : off+MetadataSize : off+MetadataSize]
}

// MetadataTrimmed returns a copy of the slot's metadata with trailing zero
// padding removed.
func (f *File) MetadataTrimmed(slot int32) []byte {
	raw := f.Metadata(slot)
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	out := make([]byte, end)
	copy(out, raw[:end])
	return out
}

// SetMetadata writes meta into the slot, zero-padding the remainder.
func (f *File) SetMetadata(slot int32, meta []byte) error {
	if len(meta) > MetadataSize {
		return ErrMetadataTooLarge
	}
	cell := f.Metadata(slot)
	n := copy(cell, meta)
	for i := n; i < MetadataSize; i++ {
		cell[i] = 0
	}
	return nil
}

// DocID returns the slot's document identifier.
func (f *File) DocID(slot int32) uuid.UUID {
	off := f.idOff + int64(slot)*DocIDSize
	var id uuid.UUID
	copy(id[:], f.m.Bytes()[off:off+DocIDSize])
	return id
}

// SetDocID writes the slot's document identifier.
func (f *File) SetDocID(slot int32, id uuid.UUID) {
	off := f.idOff + int64(slot)*DocIDSize
	copy(f.m.Bytes()[off:off+DocIDSize], id[:])
}

// Tombstone reports whether the slot is soft-deleted.
func (f *File) Tombstone(slot int32) bool {
	return f.m.Bytes()[f.tombOff+int64(slot)] != 0
}

// SetTombstone writes the slot's tombstone byte and flushes it. The flush
// orders the tombstone ahead of the graph rewiring and header update that
// follow it in Delete.
func (f *File) SetTombstone(slot int32, dead bool) error {
	off := f.tombOff + int64(slot)
	b := byte(0)
	if dead {
		b = 1
	}
	f.m.Bytes()[off] = b
	return f.m.Flush(int(off), 1)
}

// Sync flushes the whole mapping and the file metadata to stable storage.
func (f *File) Sync() error {
	if f.readOnly {
		return nil
	}
	if err := f.m.FlushAll(); err != nil {
		return err
	}
	return f.f.Sync()
}

// Close flushes and unmaps the file.
func (f *File) Close() error {
	var firstErr error
	if !f.readOnly {
		firstErr = f.m.FlushAll()
	}
	if err := f.m.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := f.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Package mmap provides read-write shared memory mappings for the engine's
// backing file.
//
// The engine keeps its entire working set in one file and addresses it
// through the mapping; every durable mutation is a store into the mapped
// region followed by an explicit Flush of the touched range.
//
// Mapping is safe for concurrent readers. Close is idempotent. Callers must
// ensure no goroutine touches Bytes() after Close returns.
package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

// ErrInvalidSize indicates a file whose size cannot be mapped.
var ErrInvalidSize = errors.New("mmap: invalid file size")

// Mapping represents a memory-mapped file region.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data     []byte
	size     int
	readOnly bool
	closed   atomic.Bool
}

// Open maps size bytes of f starting at offset zero.
// With readOnly set, the mapping is PROT_READ; otherwise stores to Bytes()
// are carried to the file (MAP_SHARED).
func Open(f *os.File, size int, readOnly bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, err := osMap(f, size, readOnly)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:     data,
		size:     size,
		readOnly: readOnly,
	}, nil
}

// Bytes returns the mapped region.
// The slice is valid only until Close is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// ReadOnly reports whether the mapping rejects stores.
func (m *Mapping) ReadOnly() bool {
	return m.readOnly
}

// Flush synchronously writes the byte range [off, off+length) back to the
// file. The range is widened to page boundaries by the kernel.
func (m *Mapping) Flush(off, length int) error {
	if m.closed.Load() || m.readOnly {
		return nil
	}
	if off < 0 || length <= 0 || off+length > m.size {
		return ErrInvalidSize
	}
	return osFlush(m.data, off, length)
}

// FlushAll writes the whole mapping back to the file.
func (m *Mapping) FlushAll() error {
	if m.closed.Load() || m.readOnly {
		return nil
	}
	return osFlush(m.data, 0, m.size)
}

// Close unmaps the region. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.data != nil {
		return osUnmap(m.data)
	}
	return nil
}

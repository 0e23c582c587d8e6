package zvec

import (
	"errors"
	"fmt"

	"github.com/hupe1980/zvec/internal/layout"
)

var (
	// ErrDBFull is returned by Add when every physical slot is occupied.
	// Slots are never reused during normal operation; Vacuum reclaims them.
	ErrDBFull = errors.New("zvec: database full")

	// ErrCorruptIndex indicates that two live slots in the backing file
	// carry the same document ID. This means a prior writer broke the
	// dedup contract; the file needs manual repair or a rebuild.
	ErrCorruptIndex = errors.New("zvec: corrupt index")

	// ErrMetadataTooLarge indicates a metadata payload above the fixed
	// 512-byte slot capacity.
	ErrMetadataTooLarge = layout.ErrMetadataTooLarge

	// ErrReadOnly is returned by mutating operations on an engine opened
	// with WithReadOnly.
	ErrReadOnly = errors.New("zvec: engine is read-only")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("zvec: engine closed")

	// ErrEngineFailed is returned by mutating operations after an IO fault
	// from the mapping. The engine enters a no-further-writes state; reads
	// remain available on a best-effort basis.
	ErrEngineFailed = errors.New("zvec: engine failed")
)

// ErrFormatMismatch indicates a backing file whose magic number, dimension
// or size does not match what was requested.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrFormatMismatch struct {
	Path  string
	cause error
}

func (e *ErrFormatMismatch) Error() string {
	return fmt.Sprintf("zvec: format mismatch: %s", e.Path)
}

func (e *ErrFormatMismatch) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a vector whose length differs from the
// engine's configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("zvec: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps internal layout errors onto the public typed errors.
func translateError(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, layout.ErrFormatMismatch) {
		return &ErrFormatMismatch{Path: path, cause: err}
	}
	return err
}

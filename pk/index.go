// Package pk maintains the in-memory index from external document IDs to
// physical slots.
package pk

import (
	"errors"

	"github.com/google/uuid"

	"github.com/hupe1980/zvec/internal/layout"
)

// ErrDuplicate indicates an insert for a document ID that is already mapped.
var ErrDuplicate = errors.New("pk: duplicate document id")

// Index maps document IDs to slot indices.
//
// Index does no locking of its own: the engine serializes all access behind
// its reader-writer lock, so an inner mutex would only double the discipline.
type Index struct {
	m map[uuid.UUID]int32
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{m: make(map[uuid.UUID]int32)}
}

// Lookup returns the slot for the given document ID.
func (idx *Index) Lookup(id uuid.UUID) (int32, bool) {
	slot, ok := idx.m[id]
	return slot, ok
}

// Insert maps id to slot, rejecting duplicates.
func (idx *Index) Insert(id uuid.UUID, slot int32) error {
	if _, ok := idx.m[id]; ok {
		return ErrDuplicate
	}
	idx.m[id] = slot
	return nil
}

// Delete removes id from the index. Returns false if id was not mapped.
func (idx *Index) Delete(id uuid.UUID) bool {
	if _, ok := idx.m[id]; !ok {
		return false
	}
	delete(idx.m, id)
	return true
}

// Len returns the number of mapped documents.
func (idx *Index) Len() int {
	return len(idx.m)
}

// Range calls fn for each mapping until fn returns false.
func (idx *Index) Range(fn func(id uuid.UUID, slot int32) bool) {
	for id, slot := range idx.m {
		if !fn(id, slot) {
			return
		}
	}
}

// Rebuild repopulates the index from the backing file: every non-tombstoned
// slot in [0, CurrentCount) is mapped. Two live slots carrying the same
// document ID mean a prior writer broke the dedup contract; that surfaces as
// ErrDuplicate rather than a silent overwrite.
func (idx *Index) Rebuild(f *layout.File) error {
	count := f.Header().CurrentCount

	idx.m = make(map[uuid.UUID]int32, count)
	for slot := int32(0); slot < count; slot++ {
		if f.Tombstone(slot) {
			continue
		}
		if err := idx.Insert(f.DocID(slot), slot); err != nil {
			return err
		}
	}

	return nil
}

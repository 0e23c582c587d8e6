// Package zvec provides an embedded, single-file approximate-nearest-
// neighbor vector store with stable external document identifiers.
//
// A zvec engine persists fixed-dimension float32 vectors together with a
// small metadata payload in one memory-mapped file and answers similarity
// queries through an HNSW graph stored alongside the vectors. Deletes are
// tombstones with eager graph repair; slots are reclaimed only by Vacuum.
//
// The engine is safe for concurrent use by multiple readers and one writer:
// all public operations coordinate through a single reader-writer lock.
// One engine owns its backing file exclusively; cross-process sharing is
// not supported.
//
//	db, err := zvec.Open("vectors.zvec", 128,
//	    zvec.WithMaxCount(1_000_000),
//	    zvec.WithMetric(distance.MetricCosine),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	id, err := db.Add(vec, []byte(`{"title":"intro"}`))
//	results, err := db.Search(query, 10)
package zvec

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/hupe1980/zvec/distance"
	"github.com/hupe1980/zvec/hnsw"
	"github.com/hupe1980/zvec/internal/layout"
	"github.com/hupe1980/zvec/pk"
)

// Document is one stored record.
type Document struct {
	ID       uuid.UUID
	Vector   []float32
	Metadata []byte
}

// Engine is a single-file vector store.
type Engine struct {
	// path is the backing-file path, fixed at Open. It doubles as the
	// stable identity used to order lock acquisition in SyncFrom.
	path string

	mu      sync.RWMutex
	f       *layout.File
	graph   *hnsw.Graph
	ids     *pk.Index
	deleted *roaring.Bitmap

	metric   distance.Metric
	efSearch int
	logger   *Logger

	closed bool
	failed error // sticky IO fault; engine rejects further writes
}

// Open opens the backing file at path, creating it with the configured
// parameters when it does not exist. For an existing file the magic number
// and the recorded dimension are validated against dim; files written by
// older format versions are migrated in place.
//
// The document-ID index is rebuilt on every open by scanning the tombstone
// and DocID sections of all used slots.
func Open(path string, dim int, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if dim <= 0 {
		return nil, fmt.Errorf("zvec: invalid dimension %d", dim)
	}

	logger := opts.Logger.WithPath(path)

	var (
		f   *layout.File
		err error
	)

	if _, statErr := os.Stat(path); statErr == nil {
		f, err = layout.Open(path, int32(dim), opts.ReadOnly)
	} else if errors.Is(statErr, os.ErrNotExist) && !opts.ReadOnly {
		f, err = layout.Create(path, layout.Params{
			Dim:          int32(dim),
			MaxCount:     int32(opts.MaxCount),
			MaxNeighbors: int32(opts.MaxNeighbors),
			MaxLayers:    int32(opts.MaxLayers),
			Metric:       int32(opts.Metric),
		})
		if err == nil {
			logger.Info("created backing file",
				"dim", dim,
				"max_count", opts.MaxCount,
				"metric", opts.Metric.String(),
			)
		}
	} else {
		err = statErr
	}
	if err != nil {
		return nil, translateError(path, err)
	}

	e := &Engine{
		path:     path,
		f:        f,
		graph:    hnsw.NewGraph(f),
		ids:      pk.NewIndex(),
		deleted:  roaring.New(),
		metric:   distance.Metric(f.Header().DistanceFunction),
		efSearch: opts.EFSearch,
		logger:   logger,
	}
	if e.efSearch <= 0 {
		e.efSearch = DefaultOptions.EFSearch
	}

	if err := e.rebuild(); err != nil {
		_ = f.Close()
		return nil, err
	}

	logger.Debug("opened",
		"count", e.f.Header().CurrentCount,
		"deleted", e.f.Header().DeletedCount,
		"version", e.f.Header().Version,
	)

	return e, nil
}

// rebuild repopulates the in-memory indices from the backing file.
func (e *Engine) rebuild() error {
	if err := e.ids.Rebuild(e.f); err != nil {
		if errors.Is(err, pk.ErrDuplicate) {
			return fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		return err
	}

	e.deleted.Clear()
	for slot := int32(0); slot < e.f.Header().CurrentCount; slot++ {
		if e.f.Tombstone(slot) {
			e.deleted.Add(uint32(slot))
		}
	}

	return nil
}

// mutable reports whether the engine accepts writes.
func (e *Engine) mutable() error {
	switch {
	case e.closed:
		return ErrClosed
	case e.failed != nil:
		return fmt.Errorf("%w: %v", ErrEngineFailed, e.failed)
	case e.f.ReadOnly():
		return ErrReadOnly
	}
	return nil
}

// fail records a mapping IO fault; the engine refuses writes afterwards.
func (e *Engine) fail(err error) error {
	e.failed = err
	e.logger.Error("engine entered failed state", "error", err)
	return fmt.Errorf("%w: %v", ErrEngineFailed, err)
}

func (e *Engine) checkDim(v []float32) error {
	if dim := int(e.f.Header().Dim); len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}
	return nil
}

// Add stores a vector with its metadata under a fresh random document ID.
func (e *Engine) Add(vec []float32, meta []byte) (uuid.UUID, error) {
	return e.AddWithID(uuid.New(), vec, meta)
}

// AddWithID stores a vector under the caller-supplied document ID. If the
// ID is already present the stored document is left untouched and the
// existing ID is returned.
func (e *Engine) AddWithID(id uuid.UUID, vec []float32, meta []byte) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.mutable(); err != nil {
		return uuid.Nil, err
	}
	if _, ok := e.ids.Lookup(id); ok {
		return id, nil
	}

	if _, err := e.addLocked(id, vec, meta); err != nil {
		return uuid.Nil, err
	}
	e.logger.Debug("add completed", "id", id)

	return id, nil
}

// addLocked writes a new document into the next free slot and wires it into
// the graph. The on-disk order is data first, then graph edges, then the
// header: a crash before the header increment leaves an orphan slot beyond
// CurrentCount that the next successful add overwrites.
func (e *Engine) addLocked(id uuid.UUID, vec []float32, meta []byte) (int32, error) {
	if err := e.checkDim(vec); err != nil {
		return 0, err
	}
	if len(meta) > layout.MetadataSize {
		return 0, ErrMetadataTooLarge
	}

	h := e.f.Header()
	if h.CurrentCount >= h.MaxCount {
		return 0, ErrDBFull
	}

	v := vec
	if e.metric.Normalizes() {
		if nv, ok := distance.NormalizeL2Copy(vec); ok {
			v = nv
		}
	}

	slot := h.CurrentCount
	e.f.SetVector(slot, v)
	if err := e.f.SetMetadata(slot, meta); err != nil {
		return 0, err
	}
	e.f.SetDocID(slot, id)
	if err := e.f.SetTombstone(slot, false); err != nil {
		return 0, e.fail(err)
	}

	e.graph.Insert(slot, e.graph.RandomLevel())

	h.CurrentCount = slot + 1
	if err := e.f.FlushHeader(); err != nil {
		return 0, e.fail(err)
	}

	if err := e.ids.Insert(id, slot); err != nil {
		// Unreachable after the Lookup above; kept as a guard.
		return 0, err
	}

	return slot, nil
}

// GetByID returns a copy of the stored document, or false when the ID is
// unknown or deleted.
func (e *Engine) GetByID(id uuid.UUID) (Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return Document{}, false
	}

	slot, ok := e.ids.Lookup(id)
	if !ok {
		return Document{}, false
	}

	vec := make([]float32, e.f.Header().Dim)
	copy(vec, e.f.Vector(slot))

	return Document{
		ID:       id,
		Vector:   vec,
		Metadata: e.f.MetadataTrimmed(slot),
	}, true
}

// UpdateMetadata rewrites only the metadata slot, in place. Returns false
// when the ID is unknown.
func (e *Engine) UpdateMetadata(id uuid.UUID, meta []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.mutable(); err != nil {
		return false, err
	}

	slot, ok := e.ids.Lookup(id)
	if !ok {
		return false, nil
	}
	if err := e.f.SetMetadata(slot, meta); err != nil {
		return false, err
	}

	e.logger.Debug("metadata updated", "id", id)

	return true, nil
}

// UpdateVector replaces the document's vector, keeping its metadata and ID.
// The old slot is soft-deleted and the document re-inserted at a new slot,
// so a full engine rejects the update with ErrDBFull: capacity is physical,
// not logical.
func (e *Engine) UpdateVector(id uuid.UUID, vec []float32) (bool, error) {
	return e.Update(id, vec, nil)
}

// Update replaces the document's vector and/or metadata. A nil vec updates
// metadata in place; a nil meta keeps the stored metadata. Returns false
// when the ID is unknown.
func (e *Engine) Update(id uuid.UUID, vec []float32, meta []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.mutable(); err != nil {
		return false, err
	}

	slot, ok := e.ids.Lookup(id)
	if !ok {
		return false, nil
	}

	if vec == nil {
		if meta == nil {
			return true, nil
		}
		if err := e.f.SetMetadata(slot, meta); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := e.checkDim(vec); err != nil {
		return false, err
	}
	if meta != nil && len(meta) > layout.MetadataSize {
		return false, ErrMetadataTooLarge
	}
	if h := e.f.Header(); h.CurrentCount >= h.MaxCount {
		return false, ErrDBFull
	}

	if meta == nil {
		meta = e.f.MetadataTrimmed(slot)
	}

	e.deleteLocked(id, slot)
	if _, err := e.addLocked(id, vec, meta); err != nil {
		return false, err
	}

	e.logger.Debug("update completed", "id", id)

	return true, nil
}

// Delete soft-deletes the document: its tombstone byte is set, the graph is
// rewired so no live neighbour list references the slot, and the entry
// point migrates when it was the victim. The slot's data remains on disk
// until Vacuum. Returns false when the ID is unknown.
func (e *Engine) Delete(id uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.mutable(); err != nil {
		return false, err
	}

	slot, ok := e.ids.Lookup(id)
	if !ok {
		return false, nil
	}

	e.deleteLocked(id, slot)
	if err := e.f.FlushHeader(); err != nil {
		return false, e.fail(err)
	}

	e.logger.Debug("delete completed", "id", id, "slot", slot)

	return true, nil
}

// deleteLocked performs the tombstone sequence without the final header
// flush. On-disk order: tombstone byte, neighbour rewiring, entry-point
// migration, header. Search re-checks tombstones on every visit, so a crash
// mid-rewiring costs only wasted score computations, never a resurrected
// document.
func (e *Engine) deleteLocked(id uuid.UUID, slot int32) {
	if err := e.f.SetTombstone(slot, true); err != nil {
		_ = e.fail(err)
	}
	e.deleted.Add(uint32(slot))
	e.ids.Delete(id)

	e.graph.Unlink(slot)

	h := e.f.Header()
	if h.EntryPoint == slot {
		// Conservative re-selection: first live slot at level 0. The next
		// insert that samples a higher level is promoted by the normal
		// insert rule.
		h.EntryPoint = layout.NoSlot
		h.EntryPointLevel = 0
		for s := int32(0); s < h.CurrentCount; s++ {
			if !e.f.Tombstone(s) {
				h.EntryPoint = s
				break
			}
		}
	}

	h.DeletedCount++
}

// Count returns the number of used slots, including tombstoned ones.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int(e.f.Header().CurrentCount)
}

// DeletedCount returns the number of tombstoned slots.
func (e *Engine) DeletedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int(e.f.Header().DeletedCount)
}

// LiveCount returns the number of live documents.
func (e *Engine) LiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.liveLocked()
}

func (e *Engine) liveLocked() int {
	h := e.f.Header()
	return int(h.CurrentCount - h.DeletedCount)
}

// EntryPoint returns the slot where searches start their descent, or -1
// when the engine holds no live documents.
func (e *Engine) EntryPoint() int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.f.Header().EntryPoint
}

// Stats describes the engine state.
type Stats struct {
	Dim             int
	Count           int
	Deleted         int
	Live            int
	MaxCount        int
	MaxNeighbors    int
	MaxLayers       int
	Metric          distance.Metric
	EntryPoint      int32
	EntryPointLevel int32
	Version         int32

	// LayerEdges holds, per layer, the number of stored edges across the
	// neighbour lists of all live slots.
	LayerEdges []int
}

// Stats returns a snapshot of the engine state. Edge counting walks every
// live slot's neighbour lists, so the call is linear in the used capacity.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := e.f.Header()
	return Stats{
		Dim:             int(h.Dim),
		Count:           int(h.CurrentCount),
		Deleted:         int(h.DeletedCount),
		Live:            e.liveLocked(),
		MaxCount:        int(h.MaxCount),
		MaxNeighbors:    int(h.MaxNeighbors),
		MaxLayers:       int(h.MaxLayers),
		Metric:          distance.Metric(h.DistanceFunction),
		EntryPoint:      h.EntryPoint,
		EntryPointLevel: h.EntryPointLevel,
		Version:         h.Version,
		LayerEdges:      e.layerEdgesLocked(),
	}
}

// layerEdgesLocked counts the stored edges per layer. Tombstoned slots are
// skipped; their lists are cleared on delete anyway.
func (e *Engine) layerEdgesLocked() []int {
	h := e.f.Header()
	edges := make([]int, h.MaxLayers)

	for slot := int32(0); slot < h.CurrentCount; slot++ {
		if e.f.Tombstone(slot) {
			continue
		}
		for l := int32(0); l < h.MaxLayers; l++ {
			for _, n := range e.f.Neighbors(slot, l) {
				if n == layout.NoSlot {
					break
				}
				edges[l]++
			}
		}
	}

	return edges
}

// IsHealthy validates the header invariants and the entry point.
func (e *Engine) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed || e.failed != nil {
		return false
	}

	h := e.f.Header()
	if h.CurrentCount > h.MaxCount || h.DeletedCount > h.CurrentCount {
		return false
	}
	if e.ids.Len() != e.liveLocked() {
		return false
	}

	if e.liveLocked() > 0 {
		if h.EntryPoint < 0 || h.EntryPoint >= h.CurrentCount {
			return false
		}
		if e.f.Tombstone(h.EntryPoint) {
			return false
		}
	}

	return true
}

// DeletedSlots returns the in-memory set of tombstoned slot indices.
// The returned bitmap is a copy.
func (e *Engine) DeletedSlots() *roaring.Bitmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deleted.Clone()
}

// SyncFrom imports every live document of other that this engine does not
// already hold, preserving document IDs. It returns the number imported.
// A full engine stops with ErrDBFull and keeps what was imported so far.
//
// The two engines must be distinct and opened on distinct backing files;
// other is read-locked for the duration. Locks are acquired in backing-file
// path order, so concurrent a.SyncFrom(b) and b.SyncFrom(a) cannot
// deadlock.
func (e *Engine) SyncFrom(other *Engine) (int, error) {
	if e == other {
		return 0, nil
	}

	if e.path <= other.path {
		e.mu.Lock()
		defer e.mu.Unlock()
		other.mu.RLock()
		defer other.mu.RUnlock()
	} else {
		other.mu.RLock()
		defer other.mu.RUnlock()
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if err := e.mutable(); err != nil {
		return 0, err
	}
	if other.closed {
		return 0, ErrClosed
	}

	imported := 0
	for slot := int32(0); slot < other.f.Header().CurrentCount; slot++ {
		if other.deleted.Contains(uint32(slot)) {
			continue
		}

		id := other.f.DocID(slot)
		if _, ok := e.ids.Lookup(id); ok {
			continue
		}

		if _, err := e.addLocked(id, other.f.Vector(slot), other.f.MetadataTrimmed(slot)); err != nil {
			return imported, err
		}
		imported++
	}

	e.logger.Info("sync completed", "imported", imported)

	return imported, nil
}

// Sync flushes all dirty mapped pages to stable storage.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	return e.f.Sync()
}

// Close flushes and unmaps the backing file. The engine is unusable
// afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	return e.f.Close()
}

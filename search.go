package zvec

import (
	"container/heap"
	"context"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/zvec/distance"
)

// SearchResult is one scored document.
type SearchResult struct {
	ID       uuid.UUID
	Score    float32
	Metadata []byte
}

// Predicate filters candidates by their raw metadata byte string. It runs
// under the engine's read lock and must not call back into the engine.
type Predicate func(meta []byte) bool

// SearchOptions represents per-query options.
type SearchOptions struct {
	// EFSearch overrides the engine's default beam width. Search never
	// uses a beam narrower than the requested k.
	EFSearch int

	// Predicate, if set, keeps only documents whose metadata it accepts.
	Predicate Predicate
}

// WithSearchEF overrides the beam width for one query.
func WithSearchEF(ef int) func(o *SearchOptions) {
	return func(o *SearchOptions) { o.EFSearch = ef }
}

// WithPredicate filters results by metadata.
func WithPredicate(p Predicate) func(o *SearchOptions) {
	return func(o *SearchOptions) { o.Predicate = p }
}

// Search returns the k best-scoring live documents for the query, sorted by
// score descending. With the cosine metric the query is L2-normalised
// first. An empty engine or k <= 0 yields an empty result.
func (e *Engine) Search(query []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	opts := SearchOptions{EFSearch: e.efSearch}
	for _, fn := range optFns {
		fn(&opts)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := e.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 || e.liveLocked() == 0 {
		return []SearchResult{}, nil
	}

	q := e.normalizeQuery(query)

	ef := opts.EFSearch
	if ef < k {
		ef = k
	}

	candidates := e.graph.Search(q, ef)

	results := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if len(results) == k {
			break
		}
		// The graph never returns tombstoned slots, but a concurrent-free
		// re-check here is what tolerates crash residue in the wiring.
		if e.f.Tombstone(c.Slot) {
			continue
		}

		meta := e.f.MetadataTrimmed(c.Slot)
		if opts.Predicate != nil && !opts.Predicate(meta) {
			continue
		}

		results = append(results, SearchResult{
			ID:       e.f.DocID(c.Slot),
			Score:    c.Score,
			Metadata: meta,
		})
	}

	e.logger.Debug("search completed", "k", k, "ef", ef, "results", len(results))

	return results, nil
}

func (e *Engine) normalizeQuery(query []float32) []float32 {
	if !e.metric.Normalizes() {
		return query
	}
	if nq, ok := distance.NormalizeL2Copy(query); ok {
		return nq
	}
	return query
}

// scanHeap is a bounded worst-on-top heap for exact top-k collection.
type scanHeap struct {
	items []SearchResult
}

func (h *scanHeap) Len() int           { return len(h.items) }
func (h *scanHeap) Less(i, j int) bool { return h.items[i].Score < h.items[j].Score }
func (h *scanHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *scanHeap) Push(x any)         { h.items = append(h.items, x.(SearchResult)) }

func (h *scanHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// ScanSearch returns the exact top k by scoring every live slot, fanning
// the scan out across CPU cores. It is the ground truth for recall testing
// and a reasonable default for small collections.
//
// Workers read the vector section through the mapping, which the shared
// lock holds stable; they never mutate the engine.
func (e *Engine) ScanSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := e.checkDim(query); err != nil {
		return nil, err
	}

	count := e.f.Header().CurrentCount
	if k <= 0 || e.liveLocked() == 0 {
		return []SearchResult{}, nil
	}

	q := e.normalizeQuery(query)

	workers := runtime.GOMAXPROCS(0)
	if int32(workers) > count {
		workers = int(count)
	}
	chunk := (count + int32(workers) - 1) / int32(workers)

	tops := make([][]SearchResult, workers)

	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := int32(w) * chunk
		hi := lo + chunk
		if hi > count {
			hi = count
		}

		g.Go(func() error {
			h := &scanHeap{}
			for slot := lo; slot < hi; slot++ {
				if e.f.Tombstone(slot) {
					continue
				}

				s := distance.Score(q, e.f.Vector(slot))
				if h.Len() < k {
					heap.Push(h, SearchResult{ID: e.f.DocID(slot), Score: s, Metadata: e.f.MetadataTrimmed(slot)})
				} else if s > h.items[0].Score {
					heap.Pop(h)
					heap.Push(h, SearchResult{ID: e.f.DocID(slot), Score: s, Metadata: e.f.MetadataTrimmed(slot)})
				}
			}
			tops[lo/chunk] = h.items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]SearchResult, 0, workers*k)
	for _, t := range tops {
		merged = append(merged, t...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}

	return merged, nil
}

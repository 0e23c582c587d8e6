// Package hnsw implements the layered navigable-small-world graph over the
// engine's backing file.
//
// The graph owns no storage of its own: neighbour lists, vectors and
// tombstones all live in the memory-mapped file, and the graph mutates them
// in place. Upper layers are sparse and route a greedy descent; the base
// layer is dense and searched with a bounded best-first beam. Scores are
// "higher is better" throughout (dot product; cosine after ingress
// normalisation).
//
// The graph performs no locking. Mutations (Insert, Unlink) must be
// serialized by the caller; searches may run concurrently with each other
// but not with a mutation.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/zvec/distance"
	"github.com/hupe1980/zvec/internal/layout"
	"github.com/hupe1980/zvec/internal/visited"
)

// Result is one scored slot returned by a base-layer search.
type Result struct {
	Slot  int32
	Score float32
}

// Graph navigates and mutates the neighbour lists of a backing file.
type Graph struct {
	f *layout.File

	// visitedPool recycles visited sets across searches; the dirty-list
	// reset keeps reuse proportional to nodes actually touched.
	visitedPool sync.Pool
}

// NewGraph creates a graph over f.
func NewGraph(f *layout.File) *Graph {
	capacity := int(f.Params().MaxCount)
	return &Graph{
		f: f,
		visitedPool: sync.Pool{
			New: func() any { return visited.New(capacity) },
		},
	}
}

// RandomLevel samples the layer for a new document:
// min(floor(-ln(u) * mL), MaxLayers-1) with mL = 1/ln(M).
func (g *Graph) RandomLevel() int32 {
	h := g.f.Header()
	v := -math.Log(rand.Float64()) * h.LayerProbability
	if maxLevel := float64(h.MaxLayers - 1); !(v < maxLevel) {
		// Also catches +Inf from u == 0.
		return h.MaxLayers - 1
	}
	return int32(v)
}

// Insert wires the slot into the graph at the given level. The slot's
// vector must already be written; its neighbour lists are initialised here.
// The caller flushes the header afterwards.
func (g *Graph) Insert(slot int32, level int32) {
	h := g.f.Header()

	for l := int32(0); l < h.MaxLayers; l++ {
		g.f.ClearNeighbors(slot, l)
	}

	if h.EntryPoint == layout.NoSlot {
		// First active document becomes the entry point.
		h.EntryPoint = slot
		h.EntryPointLevel = level
		return
	}

	q := g.f.Vector(slot)

	cur := h.EntryPoint
	for l := h.EntryPointLevel; l > level; l-- {
		cur = g.searchLayerUpper(q, cur, l)
	}

	maxLevel := level
	if maxLevel > h.MaxLayers-1 {
		maxLevel = h.MaxLayers - 1
	}

	ef := int(h.MaxNeighbors)
	for l := maxLevel; l >= 0; l-- {
		candidates := g.searchLayerBase(q, cur, l, ef)

		list := g.f.Neighbors(slot, l)
		for i := range list {
			if i < len(candidates) {
				list[i] = candidates[i].Slot
			} else {
				list[i] = layout.NoSlot
			}
		}

		for _, c := range candidates {
			g.connect(c.Slot, slot, l)
		}

		if len(candidates) > 0 {
			cur = candidates[0].Slot
		}
	}

	if level > h.EntryPointLevel {
		h.EntryPoint = slot
		h.EntryPointLevel = level
	}
}

// Search runs the full descent for a query: greedy through the upper
// layers, then a best-first beam of width ef at the base layer. Results come
// back sorted by score descending; tombstoned slots are never returned.
func (g *Graph) Search(q []float32, ef int) []Result {
	h := g.f.Header()
	if h.EntryPoint == layout.NoSlot {
		return nil
	}

	cur := h.EntryPoint
	for l := h.EntryPointLevel; l >= 1; l-- {
		cur = g.searchLayerUpper(q, cur, l)
	}

	return g.searchLayerBase(q, cur, 0, ef)
}

// searchLayerUpper greedily walks toward the query at one layer: among the
// current node's live neighbours, move to the best strict improvement, until
// none improves.
func (g *Graph) searchLayerUpper(q []float32, entry int32, layer int32) int32 {
	cur := entry
	curScore := distance.Score(q, g.f.Vector(cur))

	for changed := true; changed; {
		changed = false

		for _, n := range g.f.Neighbors(cur, layer) {
			if n == layout.NoSlot {
				break
			}
			if g.f.Tombstone(n) {
				continue
			}

			if s := distance.Score(q, g.f.Vector(n)); s > curScore {
				cur = n
				curScore = s
				changed = true
			}
		}
	}

	return cur
}

// searchLayerBase is the bounded best-first expansion. It keeps a result
// heap of size <= ef (worst on top, evicted first) and a candidate heap
// explored best-first, and stops once the best remaining candidate cannot
// improve a full result set.
func (g *Graph) searchLayerBase(q []float32, entry int32, layer int32, ef int) []Result {
	if ef <= 0 {
		return nil
	}

	seen := g.visitedPool.Get().(*visited.Set)
	defer func() {
		seen.Reset()
		g.visitedPool.Put(seen)
	}()

	results := &queue{}
	candidates := &queue{best: true}

	seed := item{slot: entry, score: distance.Score(q, g.f.Vector(entry))}
	seen.Visit(entry)
	heap.Push(candidates, seed)
	if !g.f.Tombstone(entry) {
		heap.Push(results, seed)
	}

	for candidates.Len() > 0 {
		cand := heap.Pop(candidates).(item)
		if results.Len() >= ef && cand.score < results.top().score {
			break
		}

		for _, n := range g.f.Neighbors(cand.slot, layer) {
			if n == layout.NoSlot {
				break
			}
			if seen.Visited(n) {
				continue
			}
			seen.Visit(n)

			if g.f.Tombstone(n) {
				continue
			}

			s := distance.Score(q, g.f.Vector(n))
			if results.Len() < ef || s > results.top().score {
				next := item{slot: n, score: s}
				heap.Push(candidates, next)
				heap.Push(results, next)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	// Drain the worst-first heap back to front for a descending order.
	out := make([]Result, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		it := heap.Pop(results).(item)
		out[i] = Result{Slot: it.slot, Score: it.score}
	}

	return out
}

// connect adds node x to candidate c's neighbour list at layer. A free slot
// is taken directly; a full list replaces its worst edge, but only when x
// scores better against c than that worst edge does.
func (g *Graph) connect(c, x int32, layer int32) {
	if c == x {
		return
	}

	list := g.f.Neighbors(c, layer)
	cv := g.f.Vector(c)

	worstIdx := -1
	worstScore := float32(math.Inf(1))

	for i, n := range list {
		if n == layout.NoSlot {
			list[i] = x
			return
		}
		if n == x {
			return
		}

		if s := distance.Score(cv, g.f.Vector(n)); s < worstScore {
			worstScore = s
			worstIdx = i
		}
	}

	if distance.Score(cv, g.f.Vector(x)) > worstScore {
		list[worstIdx] = x
	}
}

// Unlink removes every edge touching the slot: each live slot's list drops
// the slot (shifting the tail left and refilling with the sentinel), then
// the slot's own lists are cleared. Edges are stored once per endpoint and
// need not be symmetric, so every used slot's lists are scanned, not only
// those the slot itself points at. Entry-point migration is the caller's
// job.
func (g *Graph) Unlink(slot int32) {
	h := g.f.Header()

	for l := int32(0); l < h.MaxLayers; l++ {
		for n := int32(0); n < h.CurrentCount; n++ {
			if n == slot || g.f.Tombstone(n) {
				continue
			}
			removeFromList(g.f.Neighbors(n, l), slot)
		}

		g.f.ClearNeighbors(slot, l)
	}
}

func removeFromList(list []int32, slot int32) {
	w := 0
	for _, v := range list {
		if v == layout.NoSlot {
			break
		}
		if v != slot {
			list[w] = v
			w++
		}
	}
	for ; w < len(list); w++ {
		list[w] = layout.NoSlot
	}
}

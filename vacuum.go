package zvec

import (
	"fmt"
	"os"

	"github.com/hupe1980/zvec/hnsw"
	"github.com/hupe1980/zvec/internal/layout"
)

// Vacuum rebuilds the backing file without tombstoned slots, reclaiming
// their space and resetting slot indices. Live documents keep their IDs;
// the graph is rebuilt from scratch, so slot order and neighbour lists
// change.
//
// The rebuild happens in a sibling temp file that atomically replaces the
// original on success; on failure the original file is unchanged.
func (e *Engine) Vacuum() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.mutable(); err != nil {
		return err
	}

	path := e.f.Path()
	tmpPath := path + ".vacuum"
	_ = os.Remove(tmpPath)

	nf, err := layout.Create(tmpPath, e.f.Params())
	if err != nil {
		return fmt.Errorf("zvec: vacuum: %w", err)
	}

	if err := e.rebuildInto(nf); err != nil {
		_ = nf.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("zvec: vacuum: %w", err)
	}

	if err := nf.Sync(); err != nil {
		_ = nf.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("zvec: vacuum: %w", err)
	}
	if err := nf.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("zvec: vacuum: %w", err)
	}

	// Point of no return: swap files and remap.
	if err := e.f.Close(); err != nil {
		return e.fail(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return e.fail(err)
	}

	f, err := layout.Open(path, e.f.Params().Dim, false)
	if err != nil {
		return e.fail(err)
	}

	e.f = f
	e.graph = hnsw.NewGraph(f)
	if err := e.rebuild(); err != nil {
		return e.fail(err)
	}

	e.logger.Info("vacuum completed", "live", e.liveLocked())

	return nil
}

// rebuildInto re-adds every live document into the fresh file nf, in slot
// order, preserving document IDs. Vectors were normalised on their original
// ingress, so they are copied verbatim.
func (e *Engine) rebuildInto(nf *layout.File) error {
	ng := hnsw.NewGraph(nf)
	h := e.f.Header()

	for slot := int32(0); slot < h.CurrentCount; slot++ {
		if e.deleted.Contains(uint32(slot)) {
			continue
		}

		nh := nf.Header()
		ns := nh.CurrentCount

		nf.SetVector(ns, e.f.Vector(slot))
		if err := nf.SetMetadata(ns, e.f.MetadataTrimmed(slot)); err != nil {
			return err
		}
		nf.SetDocID(ns, e.f.DocID(slot))
		if err := nf.SetTombstone(ns, false); err != nil {
			return err
		}

		ng.Insert(ns, ng.RandomLevel())
		nh.CurrentCount = ns + 1
	}

	return nf.FlushHeader()
}

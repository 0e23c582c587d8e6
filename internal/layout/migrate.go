package layout

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// migrate upgrades a version 1 or 2 file to the current layout in place.
//
// Both older versions are strict prefixes of version 3: the DocID and
// tombstone sections live at the tail of the file, so migration extends the
// file, fills in what the old version lacked and bumps the header version
// last. A crash mid-migration re-runs it on the next open; DocIDs are only
// generated for slots that still read as zero, so the re-run is idempotent.
func migrate(f *os.File, hdr *Header) error {
	p := paramsOf(*hdr)

	if err := f.Truncate(TotalSize(p)); err != nil {
		return fmt.Errorf("layout: migrate: grow file: %w", err)
	}

	if hdr.Version < 2 {
		if err := assignDocIDs(f, p, hdr.CurrentCount); err != nil {
			return err
		}
	}

	// Tombstones default to zero (active); Truncate already provides that.

	hdr.Version = Version
	hdr.DeletedCount = 0

	var buf [HeaderSize]byte
	hdr.marshal(buf[:])
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("layout: migrate: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("layout: migrate: sync: %w", err)
	}

	return nil
}

func assignDocIDs(f *os.File, p Params, count int32) error {
	idOff := HeaderSize +
		int64(p.MaxCount)*int64(p.Dim)*4 +
		int64(p.MaxCount)*int64(p.MaxLayers)*int64(p.MaxNeighbors)*4 +
		int64(p.MaxCount)*MetadataSize

	var zero uuid.UUID
	buf := make([]byte, DocIDSize)

	for slot := int32(0); slot < count; slot++ {
		off := idOff + int64(slot)*DocIDSize
		if _, err := f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("layout: migrate: read docid: %w", err)
		}

		var cur uuid.UUID
		copy(cur[:], buf)
		if cur != zero {
			continue
		}

		id := uuid.New()
		if _, err := f.WriteAt(id[:], off); err != nil {
			return fmt.Errorf("layout: migrate: write docid: %w", err)
		}
	}

	return nil
}

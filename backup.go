package zvec

import (
	"context"

	"github.com/hupe1980/zvec/snapshot"
)

// Backup writes a snapshot of the backing file to path. The engine stays
// readable during the backup; writers block for its duration.
//
// Use snapshot.WithCodec to compress and snapshot.WithController to bound
// the backup's IO footprint.
func (e *Engine) Backup(ctx context.Context, path string, optFns ...func(o *snapshot.Options)) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}

	if err := e.f.Sync(); err != nil {
		return err
	}

	if err := snapshot.WriteFile(ctx, path, e.f.Bytes(), optFns...); err != nil {
		return err
	}

	e.logger.Info("backup completed", "snapshot", path)

	return nil
}

// RestoreBackup decodes the snapshot at snapshotPath and atomically writes
// it to dbPath. The restored file is a regular backing file; open it with
// Open. The destination must not be open in any engine.
func RestoreBackup(ctx context.Context, snapshotPath, dbPath string, optFns ...func(o *snapshot.Options)) error {
	return snapshot.Restore(ctx, snapshotPath, dbPath, optFns...)
}

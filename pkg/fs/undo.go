package fs

import (
	"context"
	"errors"

	"github.com/marmos91/blockfs/internal/logger"
)

// undoRecord is the content of a device range before a mutation wrote it.
type undoRecord struct {
	off  int64
	data []byte
}

// writeAt writes p at off. While a mutation is running, the bytes about to
// be overwritten are recorded first so that rollback can put them back.
//
// Caller must hold fs.mu exclusively.
func (fs *FileSystem) writeAt(op string, p []byte, off int64) error {
	if fs.undo != nil {
		prev := make([]byte, len(p))
		if _, err := fs.dev.ReadAt(prev, off); err != nil {
			return errIO(op, err)
		}
		*fs.undo = append(*fs.undo, undoRecord{off: off, data: prev})
	}
	if _, err := fs.dev.WriteAt(p, off); err != nil {
		return errIO(op, err)
	}
	return nil
}

// rollback writes the recorded ranges back in reverse order and syncs, so
// the device again matches the tables saved before the mutation.
//
// A failure here is logged and otherwise ignored: the caller already returns
// the error that triggered the rollback.
//
// Caller must hold fs.mu exclusively.
func (fs *FileSystem) rollback(ctx context.Context, records []undoRecord) {
	if len(records) == 0 {
		return
	}

	var errs []error
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if _, err := fs.dev.WriteAt(rec.data, rec.off); err != nil {
			errs = append(errs, err)
		}
	}
	// The mutation may have failed because ctx was cancelled
	if err := fs.dev.Sync(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("Failed to roll back %d device write(s): %v", len(records), err)
	}
}

package flasher

import (
	"context"
	"fmt"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
)

// Milestones within the connect/erase progress band. Connect lands the
// session at half the band, stub verification a little further, and erase
// consumes the rest.
const (
	bandPctAfterConnect = 50.0
	bandPctAfterStub    = 70.0
)

// Writer performs the destructive phases of a flash session: erase,
// ordered file writes, and the final reset.
//
// Erase and write failures are fatal. A failure partway through a
// multi-file sequence aborts the remaining files outright; continuing
// after a failed region would leave the device with a mixed image that
// boots unpredictably. Reset failures are warnings only, the firmware is
// already on the chip.
type Writer struct {
	progress *ProgressTracker
	logger   Logger
	emit     func(severity Severity, msg string)
}

// NewWriter creates a writer. logger and emit may be nil.
func NewWriter(progress *ProgressTracker, logger Logger, emit func(Severity, string)) *Writer {
	if logger == nil {
		logger = nopLogger{}
	}
	if emit == nil {
		emit = func(Severity, string) {}
	}
	return &Writer{progress: progress, logger: logger, emit: emit}
}

// Erase clears the flash region behind every file in the sequence.
// Any failure is fatal.
func (w *Writer) Erase(ctx context.Context, transport ChipTransport, files []firmware.FlashFile) error {
	total := len(files)
	for i, f := range files {
		w.emit(SeverityInfo, fmt.Sprintf("erasing %d bytes at 0x%X", f.Data.Len(), f.Address))

		if err := transport.EraseRegion(ctx, f.Address, f.Data.Len()); err != nil {
			return fmt.Errorf("%w: region 0x%X: %w", ErrEraseFailed, f.Address, err)
		}

		done := bandPctAfterStub + (100-bandPctAfterStub)*float64(i+1)/float64(total)
		w.progress.Update(PhaseConnectErase, done)
	}

	w.emit(SeveritySuccess, "flash erased")
	return nil
}

// Write programs every file in order, mapping per-chunk transport progress
// into the overall scale and logging each 5-point progress boundary the
// file passes.
func (w *Writer) Write(ctx context.Context, transport ChipTransport, files []firmware.FlashFile) error {
	total := len(files)
	for i, f := range files {
		w.emit(SeverityInfo, fmt.Sprintf("writing file %d/%d (%d bytes at 0x%X)", i+1, total, f.Data.Len(), f.Address))

		buckets := &logBuckets{}
		fileIndex := i
		onProgress := func(filePct float64) {
			seqPct := (float64(fileIndex)*100 + filePct) / float64(total)
			w.progress.Update(PhaseWrite, seqPct)

			for _, point := range buckets.crossed(filePct) {
				w.emit(SeverityInfo, fmt.Sprintf("write progress %.0f%% (file %d/%d)", point, fileIndex+1, total))
			}
		}

		if err := transport.WriteFlash(ctx, f, onProgress); err != nil {
			if i+1 < total {
				w.logger.Error("write failed mid-sequence, aborting remaining files",
					"file", i+1, "total", total, "error", err)
			}
			return fmt.Errorf("%w: file %d/%d at 0x%X: %w", ErrWriteFailed, i+1, total, f.Address, err)
		}
	}

	w.progress.Update(PhaseWrite, 100)
	w.emit(SeveritySuccess, "firmware written")
	return nil
}

// Reset hard-resets the chip into the new firmware. Best-effort: a failed
// reset is logged as a warning and the flash still counts as successful;
// the user can power-cycle by hand.
func (w *Writer) Reset(ctx context.Context, transport ChipTransport) {
	w.emit(SeverityInfo, "resetting device")

	if err := transport.Reset(ctx); err != nil {
		w.emit(SeverityWarning, fmt.Sprintf("device reset failed: %v (firmware written, power-cycle manually)", err))
		w.logger.Warn("device reset failed", "error", err)
	} else {
		w.emit(SeveritySuccess, "device reset")
	}

	w.progress.Update(PhaseFinalize, 50)
}

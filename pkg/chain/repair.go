package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevoDB/chainlog/pkg/index"
	"github.com/KevoDB/chainlog/pkg/stats"
)

// RepairReport describes what Repair changed
type RepairReport struct {
	// Blocks is the number of blocks in the rebuilt index
	Blocks uint32
	// PreviousCount is the record count of the old index, if it was readable
	PreviousCount uint32
	// IndexWasReadable is false when the old index was missing or corrupt
	IndexWasReadable bool
	// TruncatedBytes is the size of the partial block cut off the data file
	TruncatedBytes int64
	// Removed is set when no complete block survived and both files were deleted
	Removed bool
}

// Repair rebuilds the index from a scan of the data file. A trailing partial
// block, left by a crash during a write, is truncated off the data file
// first. Hash links are not checked; run Validate afterwards for that.
// The writer lock is held for the duration of the call.
func (c *Chain) Repair() (RepairReport, error) {
	start := time.Now()
	c.opts.collector.StartRepair()

	report, err := c.repair()
	c.observe(stats.OpRepair, start, err)
	if err != nil {
		return report, err
	}

	c.opts.collector.FinishRepair(start, uint64(report.Blocks), uint64(report.TruncatedBytes))
	c.opts.collector.TrackChainLength(uint64(report.Blocks))
	c.opts.metrics.RecordRepair(context.Background(), time.Since(start), int(report.Blocks), report.TruncatedBytes)
	c.opts.logger.WithFields(map[string]interface{}{
		"blocks":          report.Blocks,
		"previous_count":  report.PreviousCount,
		"truncated_bytes": report.TruncatedBytes,
	}).Info("Rebuilt chain index")

	return report, nil
}

func (c *Chain) repair() (RepairReport, error) {
	var report RepairReport

	lock, err := c.lock()
	if err != nil {
		return report, err
	}
	defer lock.Release()

	if count, err := index.ReadCount(c.indexPath); err == nil {
		report.PreviousCount = count
		report.IndexWasReadable = true
	}

	s, err := OpenScanner(c.dataPath)
	if err != nil {
		return report, err
	}

	builder, err := index.NewBuilder(c.indexPath, c.indexOptions()...)
	if err != nil {
		s.Close()
		return report, err
	}

	var scanErr error
	for {
		rec, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			scanErr = err
			break
		}
		if err := builder.Add(index.Entry{Offset: rec.Offset, Length: rec.Length()}); err != nil {
			builder.Abort()
			s.Close()
			return report, err
		}
	}
	validEnd, size := int64(s.Offset()), s.Size()
	s.Close()

	if scanErr != nil && !errors.Is(scanErr, ErrTruncatedBlock) {
		builder.Abort()
		return report, fmt.Errorf("%w: cannot rebuild index past offset %d: %w", ErrCorruptChain, validEnd, scanErr)
	}

	report.Blocks = builder.Count()
	report.TruncatedBytes = size - validEnd
	if report.TruncatedBytes > 0 {
		c.opts.logger.WithFields(map[string]interface{}{
			"offset": validEnd,
			"bytes":  report.TruncatedBytes,
		}).Warn("Truncating partial block from data file")
		if err := os.Truncate(c.dataPath, validEnd); err != nil {
			builder.Abort()
			return report, fmt.Errorf("failed to truncate data file: %w", err)
		}
	}

	if report.Blocks == 0 {
		builder.Abort()
		report.Removed = true
		return report, c.removeFiles()
	}

	if err := builder.Commit(); err != nil {
		return report, err
	}
	return report, nil
}

// removeFiles deletes a chain left with no complete block
func (c *Chain) removeFiles() error {
	for _, path := range []string{c.indexPath, c.dataPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

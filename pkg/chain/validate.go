package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/index"
	"github.com/KevoDB/chainlog/pkg/stats"
)

// ValidationReport is the result of a validation pass. When the chain is
// damaged, BrokenAt is the 1-indexed position of the first bad block and
// Problem describes it.
type ValidationReport struct {
	Blocks       uint32
	DataSize     int64
	Head         block.Hash
	Valid        bool
	BrokenAt     uint32
	Problem      string
	IndexChecked bool
	IndexCount   uint32
}

// Validate walks the chain checking header magic and version, the genesis
// zero prevHash and every hash link, then checks the index against the walk.
// It stops at the first problem and returns the report with the error.
func (c *Chain) Validate() (ValidationReport, error) {
	return c.validate(true)
}

func (c *Chain) validate(checkIndex bool) (ValidationReport, error) {
	start := time.Now()
	report, err := c.runValidation(checkIndex)

	report.Valid = err == nil
	c.opts.collector.TrackValidation(report.Valid)
	c.opts.metrics.RecordValidation(context.Background(), time.Since(start), int(report.Blocks), report.Valid)
	c.observe(stats.OpValidate, start, err)

	if err != nil {
		report.Problem = err.Error()
		if !errors.Is(err, ErrFileNotFound) {
			c.opts.metrics.RecordCorruption(context.Background(), ErrorKind(err))
			c.opts.logger.WithFields(map[string]interface{}{
				"position": report.BrokenAt,
				"error":    err,
			}).Warn("Chain validation failed")
		}
		return report, err
	}

	c.opts.collector.TrackChainLength(uint64(report.Blocks))
	return report, nil
}

func (c *Chain) runValidation(checkIndex bool) (ValidationReport, error) {
	var report ValidationReport

	s, err := OpenScanner(c.dataPath)
	if err != nil {
		return report, err
	}
	defer s.Close()
	report.DataSize = s.Size()

	var entries []index.Entry
	prev := block.ZeroHash
	for {
		rec, err := s.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			report.BrokenAt = report.Blocks + 1
			return report, err
		}

		if rec.Version != block.CurrentVersion {
			report.BrokenAt = rec.Position
			return report, fmt.Errorf("%w: block %d has version %d, expected %d",
				ErrMalformedHeader, rec.Position, rec.Version, block.CurrentVersion)
		}

		if rec.PrevHash != prev {
			report.BrokenAt = rec.Position
			if rec.IsGenesis() {
				return report, fmt.Errorf("%w: genesis block prevHash is %s, expected all zeros",
					ErrBrokenLink, rec.PrevHash)
			}
			return report, fmt.Errorf("%w: block %d prevHash %s does not match hash %s of block %d",
				ErrBrokenLink, rec.Position, rec.PrevHash, prev, rec.Position-1)
		}

		prev = rec.Hash
		report.Blocks = rec.Position
		report.Head = rec.Hash
		entries = append(entries, index.Entry{Offset: rec.Offset, Length: rec.Length()})
	}

	if !checkIndex {
		return report, nil
	}

	report.IndexChecked = true
	count, err := index.ReadCount(c.indexPath)
	if err != nil {
		return report, err
	}
	report.IndexCount = count

	if count != report.Blocks {
		report.BrokenAt = min(count, report.Blocks) + 1
		return report, fmt.Errorf("%w: index records %d blocks, data file holds %d", ErrCorruptIndex, count, report.Blocks)
	}

	err = index.ReadAll(c.indexPath, func(position uint32, e index.Entry) error {
		if want := entries[position-1]; e != want {
			report.BrokenAt = position
			return fmt.Errorf("%w: entry %d is (%d, %d), block is at (%d, %d)",
				ErrCorruptIndex, position, e.Offset, e.Length, want.Offset, want.Length)
		}
		return nil
	})
	return report, err
}

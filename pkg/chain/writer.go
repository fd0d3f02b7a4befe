package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/config"
	"github.com/KevoDB/chainlog/pkg/index"
	"github.com/KevoDB/chainlog/pkg/stats"
)

// MaxPayloadSize is the largest payload a single block can carry
const MaxPayloadSize = math.MaxUint32 - block.HeaderSize

// fileState is what Append finds on disk before writing
type fileState struct {
	dataExists  bool
	dataSize    int64
	indexExists bool
}

func statFiles(dataPath, indexPath string) (fileState, error) {
	var st fileState

	dataStat, err := os.Stat(dataPath)
	switch {
	case err == nil:
		st.dataExists = true
		st.dataSize = dataStat.Size()
	case !os.IsNotExist(err):
		return st, fmt.Errorf("failed to stat data file: %w", err)
	}

	_, err = os.Stat(indexPath)
	switch {
	case err == nil:
		st.indexExists = true
	case !os.IsNotExist(err):
		return st, fmt.Errorf("failed to stat index file: %w", err)
	}

	return st, nil
}

// Append adds payload as the next block and returns its record. A missing
// chain is created with payload as the genesis block. The writer lock is
// held for the duration of the call unless locking is disabled.
func (c *Chain) Append(payload []byte) (block.Record, error) {
	start := time.Now()

	rec, genesis, err := c.append(payload)
	c.observe(stats.OpAppend, start, err)
	if err != nil {
		if errors.Is(err, ErrCorruptChain) {
			c.opts.logger.WithField("error", err).Error("Refusing to append to a damaged chain")
			c.opts.metrics.RecordCorruption(context.Background(), ErrorKind(err))
		}
		return block.Record{}, err
	}

	c.opts.collector.TrackBytes(true, uint64(rec.Length()))
	c.opts.collector.TrackChainLength(uint64(rec.Position))
	c.opts.metrics.RecordAppend(context.Background(), time.Since(start), int64(rec.Length()), genesis, getSyncModeName(c.opts.syncMode))
	c.opts.logger.WithFields(map[string]interface{}{
		"position": rec.Position,
		"offset":   rec.Offset,
		"length":   rec.Length(),
	}).Debug("Appended block %s", rec.Hash)

	return rec, nil
}

func (c *Chain) append(payload []byte) (block.Record, bool, error) {
	if uint64(len(payload)) > MaxPayloadSize {
		return block.Record{}, false, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidInput, len(payload), uint64(MaxPayloadSize))
	}

	lock, err := c.lock()
	if err != nil {
		return block.Record{}, false, err
	}
	defer lock.Release()

	st, err := statFiles(c.dataPath, c.indexPath)
	if err != nil {
		return block.Record{}, false, err
	}

	if !st.dataExists || st.dataSize == 0 {
		rec, err := c.appendGenesis(st, payload)
		return rec, true, err
	}

	if !st.indexExists {
		return block.Record{}, false, fmt.Errorf("%w: %w: data file has %d bytes but %s does not exist",
			ErrCorruptChain, ErrMissingIndexFile, st.dataSize, c.indexPath)
	}

	rec, err := c.appendNext(st, payload)
	return rec, false, err
}

func (c *Chain) appendGenesis(st fileState, payload []byte) (block.Record, error) {
	if st.dataExists || st.indexExists {
		return block.Record{}, fmt.Errorf("%w: %w: genesis needs both %s and %s to be absent",
			ErrCorruptChain, ErrAlreadyExists, c.dataPath, c.indexPath)
	}

	header := block.NewHeader(c.timestamp(), block.ZeroHash, uint32(len(payload)))
	headerBytes := header.Encode()

	file, err := os.OpenFile(c.dataPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return block.Record{}, fmt.Errorf("%w: %w: data file %s", ErrCorruptChain, ErrAlreadyExists, c.dataPath)
		}
		return block.Record{}, fmt.Errorf("failed to create data file: %w", err)
	}
	if err := c.writeBlock(file, headerBytes, payload); err != nil {
		return block.Record{}, err
	}

	if err := index.Initialize(c.indexPath, 0, header.BlockLength(), c.indexOptions()...); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return block.Record{}, fmt.Errorf("%w: %w", ErrCorruptChain, err)
		}
		return block.Record{}, err
	}

	c.opts.logger.WithField("data_path", c.dataPath).Info("Created chain")
	return block.NewRecord(1, 0, header, block.ComputeHash(headerBytes, payload), payload), nil
}

func (c *Chain) appendNext(st fileState, payload []byte) (block.Record, error) {
	count, last, err := index.ReadLast(c.indexPath)
	if err != nil {
		return block.Record{}, fmt.Errorf("%w: %w", ErrCorruptChain, err)
	}

	if last.End() != uint64(st.dataSize) {
		return block.Record{}, fmt.Errorf("%w: last indexed block ends at %d but the data file is %d bytes",
			ErrCorruptChain, last.End(), st.dataSize)
	}

	file, err := os.OpenFile(c.dataPath, os.O_RDWR|os.O_APPEND, 0)
	if err != nil {
		return block.Record{}, fmt.Errorf("failed to open data file: %w", err)
	}

	_, prevHash, err := readBlockAt(file, last)
	if err != nil {
		file.Close()
		return block.Record{}, fmt.Errorf("%w: %w", ErrCorruptChain, err)
	}

	offset := uint64(st.dataSize)
	length := uint64(block.HeaderSize) + uint64(len(payload))
	if offset+length > math.MaxUint32 {
		file.Close()
		return block.Record{}, fmt.Errorf("%w: block of %d bytes at offset %d ends past 4 GiB", ErrInvalidOffset, length, offset)
	}

	header := block.NewHeader(c.timestamp(), prevHash, uint32(len(payload)))
	headerBytes := header.Encode()
	if err := c.writeBlock(file, headerBytes, payload); err != nil {
		return block.Record{}, err
	}

	newCount, err := index.AppendEntry(c.indexPath, uint32(offset), uint32(length), c.indexOptions()...)
	if err != nil {
		c.opts.logger.WithField("error", err).Error("Block written but index update failed, run repair")
		return block.Record{}, err
	}
	if newCount != count+1 {
		return block.Record{}, fmt.Errorf("%w: index count moved from %d to %d during append", ErrCorruptChain, count, newCount)
	}

	return block.NewRecord(newCount, uint32(offset), header, block.ComputeHash(headerBytes, payload), payload), nil
}

// writeBlock writes header and payload as one write, syncs if configured and
// closes file
func (c *Chain) writeBlock(file *os.File, header, payload []byte) error {
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)

	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write block: %w", err)
	}

	if c.opts.syncMode == config.SyncImmediate {
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("failed to sync data file: %w", err)
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close data file: %w", err)
	}
	return nil
}

func (c *Chain) indexOptions() []index.Option {
	return []index.Option{index.WithSync(c.opts.syncMode == config.SyncImmediate)}
}

func (c *Chain) timestamp() uint32 {
	return uint32(c.opts.now().Unix())
}

package chain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/index"
	"github.com/KevoDB/chainlog/pkg/stats"
	"github.com/KevoDB/chainlog/pkg/telemetry"
)

// Scanner reads blocks sequentially from the start of a data file
type Scanner struct {
	file     *os.File
	reader   *bufio.Reader
	size     int64
	offset   uint32
	position uint32
	header   []byte
	err      error
}

// OpenScanner opens the data file at path for a sequential read
func OpenScanner(path string) (*Scanner, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat data file: %w", err)
	}

	return &Scanner{
		file:   file,
		reader: bufio.NewReaderSize(file, 64*1024),
		size:   stat.Size(),
		header: make([]byte, block.HeaderSize),
	}, nil
}

// Offset returns the data file offset of the next block to be read, which
// after a failed Next is the start of the damaged block
func (s *Scanner) Offset() uint32 {
	return s.offset
}

// Size returns the data file size observed when the scanner was opened
func (s *Scanner) Size() int64 {
	return s.size
}

// Next returns the next block, or io.EOF once the data file ends cleanly on
// a block boundary. After any other error the scanner is done.
func (s *Scanner) Next() (block.Record, error) {
	if s.err != nil {
		return block.Record{}, s.err
	}

	rec, err := s.readBlock()
	if err != nil {
		s.err = err
		return block.Record{}, err
	}
	return rec, nil
}

func (s *Scanner) readBlock() (block.Record, error) {
	if int64(s.offset) >= s.size {
		return block.Record{}, io.EOF
	}
	position := s.position + 1

	if _, err := io.ReadFull(s.reader, s.header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return block.Record{}, fmt.Errorf("%w: header of block %d at offset %d", ErrTruncatedBlock, position, s.offset)
		}
		return block.Record{}, fmt.Errorf("failed to read block header: %w", err)
	}

	header, err := block.DecodeHeader(s.header)
	if err != nil {
		return block.Record{}, err
	}
	if header.Magic != block.Magic {
		return block.Record{}, fmt.Errorf("%w: bad magic %08x in block %d at offset %d",
			ErrMalformedHeader, header.Magic, position, s.offset)
	}

	end := uint64(s.offset) + uint64(header.BlockLength())
	if end > math.MaxUint32 {
		return block.Record{}, fmt.Errorf("%w: block %d at offset %d ends past 4 GiB", ErrInvalidOffset, position, s.offset)
	}
	if int64(end) > s.size {
		return block.Record{}, fmt.Errorf("%w: block %d at offset %d needs %d payload bytes, %d remain",
			ErrTruncatedBlock, position, s.offset, header.DataLength, s.size-int64(s.offset)-block.HeaderSize)
	}

	data := make([]byte, header.DataLength)
	if _, err := io.ReadFull(s.reader, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return block.Record{}, fmt.Errorf("%w: payload of block %d at offset %d", ErrTruncatedBlock, position, s.offset)
		}
		return block.Record{}, fmt.Errorf("failed to read block payload: %w", err)
	}

	rec := block.NewRecord(position, s.offset, header, block.ComputeHash(s.header, data), data)
	s.position = position
	s.offset = uint32(end)
	return rec, nil
}

// Close closes the underlying data file
func (s *Scanner) Close() error {
	return s.file.Close()
}

// scan runs fn over each block until fn returns false or an error occurs.
// It reports the number of blocks read.
func (c *Chain) scan(fn func(block.Record) bool) (int, error) {
	s, err := OpenScanner(c.dataPath)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	n := 0
	for {
		rec, err := s.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		c.opts.collector.TrackBytes(false, uint64(rec.Length()))
		if !fn(rec) {
			return n, nil
		}
	}
}

// Walk returns a lazy sequence over every block in position order. Each
// iteration re-reads the data file from the start. A read failure is yielded
// once as the final element.
func (c *Chain) Walk() iter.Seq2[block.Record, error] {
	return func(yield func(block.Record, error) bool) {
		start := time.Now()
		var yieldErr error
		n, err := c.scan(func(rec block.Record) bool {
			return yield(rec, nil)
		})
		if err != nil {
			c.reportReadError(err)
			yieldErr = err
			yield(block.Record{}, err)
		}
		c.observe(stats.OpWalk, start, yieldErr)
		c.opts.metrics.RecordScan(context.Background(), telemetry.OpTypeWalk, time.Since(start), n, yieldErr == nil)
	}
}

// Records materializes the whole chain
func (c *Chain) Records() ([]block.Record, error) {
	var records []block.Record
	for rec, err := range c.Walk() {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FindByHash returns the first block whose computed hash equals hashHex,
// compared case-insensitively. Linkage is not checked.
func (c *Chain) FindByHash(hashHex string) (block.Record, error) {
	return c.find(stats.OpFindHash, telemetry.OpTypeFindHash, hashHex, func(rec block.Record, target block.Hash) bool {
		return rec.Hash == target
	})
}

// FindByPrevHash returns the first block whose prevHash equals hashHex. The
// all-zero hash finds the genesis block.
func (c *Chain) FindByPrevHash(hashHex string) (block.Record, error) {
	return c.find(stats.OpFindPrevHash, telemetry.OpTypeFindPrevHash, hashHex, func(rec block.Record, target block.Hash) bool {
		return rec.PrevHash == target
	})
}

func (c *Chain) find(op stats.OperationType, opType string, hashHex string, match func(block.Record, block.Hash) bool) (block.Record, error) {
	start := time.Now()

	target, err := block.ParseHash(hashHex)
	if err != nil {
		c.observe(op, start, err)
		return block.Record{}, err
	}

	var found block.Record
	var ok bool
	n, err := c.scan(func(rec block.Record) bool {
		if match(rec, target) {
			found, ok = rec, true
			return false
		}
		return true
	})
	if err != nil {
		c.reportReadError(err)
		c.observe(op, start, err)
		return block.Record{}, err
	}

	c.opts.metrics.RecordScan(context.Background(), opType, time.Since(start), n, ok)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNotFound, target)
		c.observe(op, start, err)
		return block.Record{}, err
	}

	c.observe(op, start, nil)
	return found, nil
}

func (c *Chain) reportReadError(err error) {
	switch {
	case errors.Is(err, ErrTruncatedBlock):
		c.opts.logger.WithField("error", err).Warn("Data file ends inside a block")
		c.opts.metrics.RecordCorruption(context.Background(), "truncated_block")
	case errors.Is(err, ErrMalformedHeader):
		c.opts.logger.WithField("error", err).Error("Malformed block header in data file")
		c.opts.metrics.RecordCorruption(context.Background(), "malformed_header")
	}
}

// readBlockAt reads and rehashes the block described by entry
func readBlockAt(file *os.File, entry index.Entry) (*block.Header, block.Hash, error) {
	if entry.Length < block.HeaderSize {
		return nil, block.Hash{}, fmt.Errorf("%w: entry length %d is shorter than a header", ErrCorruptIndex, entry.Length)
	}

	buf := make([]byte, entry.Length)
	if _, err := file.ReadAt(buf, int64(entry.Offset)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, block.Hash{}, fmt.Errorf("%w: indexed block at offset %d runs past the end of the data file",
				ErrTruncatedBlock, entry.Offset)
		}
		return nil, block.Hash{}, fmt.Errorf("failed to read block at offset %d: %w", entry.Offset, err)
	}

	header, err := block.DecodeHeader(buf[:block.HeaderSize])
	if err != nil {
		return nil, block.Hash{}, err
	}
	if header.BlockLength() != entry.Length {
		return nil, block.Hash{}, fmt.Errorf("%w: block at offset %d is %d bytes, index says %d",
			ErrCorruptIndex, entry.Offset, header.BlockLength(), entry.Length)
	}

	return header, block.ComputeHash(buf[:block.HeaderSize], buf[block.HeaderSize:]), nil
}

func (c *Chain) headInfo(info Info) (Info, error) {
	count, last, err := index.ReadLast(c.indexPath)
	if err != nil {
		return info, err
	}
	first, err := index.ReadEntry(c.indexPath, 1)
	if err != nil {
		return info, err
	}

	file, err := os.Open(c.dataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	genesis, _, err := readBlockAt(file, first)
	if err != nil {
		return info, err
	}
	head, hash, err := readBlockAt(file, last)
	if err != nil {
		return info, err
	}

	info.Blocks = count
	info.Head = hash
	info.GenesisTimestamp = genesis.Timestamp
	info.HeadTimestamp = head.Timestamp
	return info, nil
}

// Package index maintains the companion index file of a chainlog data file.
//
// The file is a little-endian uint32 record count followed by one fixed
// 8 byte (offset, length) entry per block, in append order. All index offset
// arithmetic lives in this package.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// CountSize is the size of the record count field at the start of the file
	CountSize = 4
	// EntrySize is the size of one (offset, length) entry
	EntrySize = 8
)

var (
	ErrMissingIndexFile = errors.New("index file missing")
	ErrCorruptIndex     = errors.New("corrupt index")
	ErrInvalidPosition  = errors.New("invalid position")
	ErrAlreadyExists    = errors.New("already exists")
)

// Entry locates one block in the data file
type Entry struct {
	Offset uint32
	Length uint32
}

// End returns the data file offset just past the block
func (e Entry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Length)
}

// EntryOffset returns the index file offset of the entry for the given
// 1-indexed position
func EntryOffset(position uint32) int64 {
	return CountSize + int64(position-1)*EntrySize
}

// ExpectedSize returns the index file size that holds exactly count entries
func ExpectedSize(count uint32) int64 {
	return CountSize + int64(count)*EntrySize
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], e.Length)
	return buf
}

func decodeEntry(buf []byte) Entry {
	return Entry{
		Offset: binary.LittleEndian.Uint32(buf[0:4]),
		Length: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

type options struct {
	sync bool
}

// Option configures index writes
type Option func(*options)

// WithSync makes writes fsync the index file before returning
func WithSync(sync bool) Option {
	return func(o *options) {
		o.sync = sync
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// openIndex opens the index at path and returns the file with its validated
// record count
func openIndex(path string, flag int) (*os.File, uint32, error) {
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrMissingIndexFile, path)
		}
		return nil, 0, fmt.Errorf("failed to open index file: %w", err)
	}

	count, err := readCount(file)
	if err != nil {
		file.Close()
		return nil, 0, err
	}

	return file, count, nil
}

func readCount(file *os.File) (uint32, error) {
	stat, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat index file: %w", err)
	}
	if stat.Size() < CountSize {
		return 0, fmt.Errorf("%w: file is %d bytes, shorter than the record count", ErrCorruptIndex, stat.Size())
	}

	buf := make([]byte, CountSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return 0, fmt.Errorf("failed to read record count: %w", err)
	}
	count := binary.LittleEndian.Uint32(buf)

	// A longer file can hold an entry whose count update never landed; it is
	// overwritten by the next append.
	if stat.Size() < ExpectedSize(count) {
		return 0, fmt.Errorf("%w: count %d needs %d bytes, file has %d",
			ErrCorruptIndex, count, ExpectedSize(count), stat.Size())
	}

	return count, nil
}

// ReadCount returns the number of blocks recorded in the index at path
func ReadCount(path string) (uint32, error) {
	file, count, err := openIndex(path, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	return count, nil
}

func readEntryAt(file *os.File, position uint32) (Entry, error) {
	buf := make([]byte, EntrySize)
	if _, err := file.ReadAt(buf, EntryOffset(position)); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, fmt.Errorf("%w: entry %d is truncated", ErrCorruptIndex, position)
		}
		return Entry{}, fmt.Errorf("failed to read entry %d: %w", position, err)
	}
	return decodeEntry(buf), nil
}

// ReadEntry returns the entry for the 1-indexed position
func ReadEntry(path string, position uint32) (Entry, error) {
	file, count, err := openIndex(path, os.O_RDONLY)
	if err != nil {
		return Entry{}, err
	}
	defer file.Close()

	if position < 1 || position > count {
		return Entry{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidPosition, position, count)
	}

	return readEntryAt(file, position)
}

// ReadLast returns the record count together with the last entry. An index
// with no entries is corrupt: a chain's index is created with its genesis
// entry.
func ReadLast(path string) (uint32, Entry, error) {
	file, count, err := openIndex(path, os.O_RDONLY)
	if err != nil {
		return 0, Entry{}, err
	}
	defer file.Close()

	if count == 0 {
		return 0, Entry{}, fmt.Errorf("%w: record count is zero", ErrCorruptIndex)
	}

	entry, err := readEntryAt(file, count)
	if err != nil {
		return 0, Entry{}, err
	}
	return count, entry, nil
}

// AppendEntry records a new block in the index and returns the new count.
// The entry is written at its slot before the count is bumped, so the
// committed count never points past a missing entry.
func AppendEntry(path string, offset, length uint32, opts ...Option) (uint32, error) {
	o := applyOptions(opts)

	file, count, err := openIndex(path, os.O_RDWR)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if count == math.MaxUint32 {
		return 0, fmt.Errorf("%w: record count would overflow", ErrInvalidPosition)
	}
	newCount := count + 1

	if _, err := file.WriteAt(encodeEntry(Entry{Offset: offset, Length: length}), EntryOffset(newCount)); err != nil {
		return 0, fmt.Errorf("failed to write index entry: %w", err)
	}
	if o.sync {
		if err := file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync index file: %w", err)
		}
	}

	countBuf := make([]byte, CountSize)
	binary.LittleEndian.PutUint32(countBuf, newCount)
	if _, err := file.WriteAt(countBuf, 0); err != nil {
		return 0, fmt.Errorf("failed to write record count: %w", err)
	}
	if o.sync {
		if err := file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync index file: %w", err)
		}
	}

	return newCount, nil
}

// Initialize creates a new index holding only the genesis entry
func Initialize(path string, firstOffset, firstLength uint32, opts ...Option) error {
	o := applyOptions(opts)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: index file %s", ErrAlreadyExists, path)
		}
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, 0, ExpectedSize(1))
	buf = binary.LittleEndian.AppendUint32(buf, 1)
	buf = append(buf, encodeEntry(Entry{Offset: firstOffset, Length: firstLength})...)

	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if o.sync {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync index file: %w", err)
		}
	}

	return nil
}

// ReadAll calls fn for every entry in position order
func ReadAll(path string, fn func(position uint32, e Entry) error) error {
	file, count, err := openIndex(path, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, int64(count)*EntrySize)
	if _, err := file.ReadAt(buf, CountSize); err != nil && !(errors.Is(err, io.EOF) && count == 0) {
		return fmt.Errorf("failed to read index entries: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		if err := fn(i+1, decodeEntry(buf[i*EntrySize:(i+1)*EntrySize])); err != nil {
			return err
		}
	}
	return nil
}

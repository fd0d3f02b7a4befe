package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Builder writes a complete index into a temporary file and atomically
// replaces the index at path on Commit. It is used to regenerate an index
// from a scan of the data file.
type Builder struct {
	path     string
	tempPath string
	file     *os.File
	writer   *bufio.Writer
	count    uint32
	sync     bool
}

// NewBuilder starts a rebuild of the index at path
func NewBuilder(path string, opts ...Option) (*Builder, error) {
	o := applyOptions(opts)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary index: %w", err)
	}

	b := &Builder{
		path:     path,
		tempPath: tempPath,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		sync:     o.sync,
	}

	// Count placeholder, patched on Commit
	if _, err := b.writer.Write(make([]byte, CountSize)); err != nil {
		b.Abort()
		return nil, fmt.Errorf("failed to write record count: %w", err)
	}

	return b, nil
}

// Add appends the next entry
func (b *Builder) Add(e Entry) error {
	if b.count == math.MaxUint32 {
		return fmt.Errorf("%w: record count would overflow", ErrInvalidPosition)
	}
	if _, err := b.writer.Write(encodeEntry(e)); err != nil {
		return fmt.Errorf("failed to write index entry: %w", err)
	}
	b.count++
	return nil
}

// Count returns the number of entries added so far
func (b *Builder) Count() uint32 {
	return b.count
}

// Commit finalizes the record count and renames the new index into place
func (b *Builder) Commit() error {
	if err := b.writer.Flush(); err != nil {
		b.Abort()
		return fmt.Errorf("failed to flush index: %w", err)
	}

	countBuf := make([]byte, CountSize)
	binary.LittleEndian.PutUint32(countBuf, b.count)
	if _, err := b.file.WriteAt(countBuf, 0); err != nil {
		b.Abort()
		return fmt.Errorf("failed to write record count: %w", err)
	}

	if b.sync {
		if err := b.file.Sync(); err != nil {
			b.Abort()
			return fmt.Errorf("failed to sync index: %w", err)
		}
	}

	if err := b.file.Close(); err != nil {
		os.Remove(b.tempPath)
		return fmt.Errorf("failed to close index: %w", err)
	}

	if err := os.Rename(b.tempPath, b.path); err != nil {
		os.Remove(b.tempPath)
		return fmt.Errorf("failed to rename index: %w", err)
	}

	return nil
}

// Abort discards the partially built index
func (b *Builder) Abort() {
	b.file.Close()
	os.Remove(b.tempPath)
}

// Package archive packs a chain's data file into a single compressed file and
// restores chains from such files.
//
// An archive is the data file run through the selected codec, followed by a
// fixed-size Footer recording the codec, the block count, the raw and stored
// sizes, the head hash and an xxhash of the raw bytes. The index is not
// archived; Import rebuilds it.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/stats"
	"github.com/KevoDB/chainlog/pkg/telemetry"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrCorruptArchive is returned when an archive body does not match its footer
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrEmptyChain is returned when exporting a chain with no blocks
	ErrEmptyChain = errors.New("chain has no blocks")
)

type options struct {
	logger log.Logger
	tel    telemetry.Telemetry
}

// Option configures Export and Import
type Option func(*options)

// WithLogger sets the logger for archive events
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry sets where archive durations, sizes and spans are recorded
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = tel
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.tel == nil {
		o.tel = telemetry.NewNoop()
	}
	o.logger = o.logger.WithField("component", "archive")
	return o
}

// Export validates c and writes its data file to archivePath compressed with
// codec. The archive is written to a temporary file and renamed into place.
func Export(c *chain.Chain, archivePath string, codec Codec, opts ...Option) (*Footer, error) {
	o := newOptions(opts)
	start := time.Now()

	ctx, span := o.tel.StartSpan(context.Background(), "archive.export",
		attribute.String(telemetry.AttrCodec, codec.String()))
	defer span.End()

	footer, err := export(c, archivePath, codec)
	o.observe(ctx, c.Stats(), stats.OpExport, codec, start, footer, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"blocks":          footer.Blocks,
		"raw_size":        footer.RawSize,
		"compressed_size": footer.CompressedSize,
		"codec":           codec.String(),
	}).Info("Exported chain to %s", archivePath)

	return footer, nil
}

func export(c *chain.Chain, archivePath string, codec Codec) (*Footer, error) {
	if codec > CodecZstd {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}

	report, err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("refusing to export: %w", err)
	}
	if report.Blocks == 0 {
		return nil, ErrEmptyChain
	}

	src, err := os.Open(c.DataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer src.Close()

	tmpPath := archivePath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	footer, err := writeArchive(out, src, report, codec)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close archive: %w", closeErr)
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename archive: %w", err)
	}
	return footer, nil
}

// writeArchive compresses the validated prefix of src into out and appends
// the footer. Blocks appended after validation are not included.
func writeArchive(out *os.File, src io.Reader, report chain.ValidationReport, codec Codec) (*Footer, error) {
	bw := bufio.NewWriterSize(out, 64*1024)
	counter := &countingWriter{w: bw}

	zw, err := newCompressWriter(counter, codec)
	if err != nil {
		return nil, err
	}

	h := xxhash.New()
	n, err := io.Copy(zw, io.TeeReader(io.LimitReader(src, report.DataSize), h))
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to compress data file: %w", err)
	}
	if n != report.DataSize {
		zw.Close()
		return nil, fmt.Errorf("data file shrank during export: read %d of %d bytes", n, report.DataSize)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}

	footer := &Footer{
		Codec:          codec,
		Blocks:         report.Blocks,
		RawSize:        uint64(report.DataSize),
		CompressedSize: counter.n,
		Head:           report.Head,
		BodyChecksum:   h.Sum64(),
	}
	if _, err := bw.Write(footer.Encode()); err != nil {
		return nil, fmt.Errorf("failed to write footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	return footer, nil
}

// ReadFooter returns the verified footer of the archive at path
func ReadFooter(path string) (*Footer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	footer, _, err := readFooter(f)
	return footer, err
}

func readFooter(f *os.File) (*Footer, int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	size := stat.Size()
	if size < FooterSize {
		return nil, size, fmt.Errorf("%w: archive is only %d bytes", ErrInvalidFooter, size)
	}

	buf := make([]byte, FooterSize)
	if _, err := f.ReadAt(buf, size-FooterSize); err != nil {
		return nil, size, fmt.Errorf("failed to read footer: %w", err)
	}
	footer, err := DecodeFooter(buf)
	if err != nil {
		return nil, size, err
	}
	if footer.CompressedSize != uint64(size-FooterSize) {
		return nil, size, fmt.Errorf("%w: body is %d bytes, footer says %d",
			ErrCorruptArchive, size-FooterSize, footer.CompressedSize)
	}
	return footer, size, nil
}

// Import restores the archive at archivePath into dst, which must not exist
// yet. The data file is written and checked against the footer, then the
// index is rebuilt and the chain validated. On failure nothing is left at
// the destination paths.
func Import(archivePath string, dst *chain.Chain, opts ...Option) (*Footer, error) {
	o := newOptions(opts)
	start := time.Now()

	ctx, span := o.tel.StartSpan(context.Background(), "archive.import")
	defer span.End()

	footer, err := importArchive(archivePath, dst)
	codec := CodecNone
	if footer != nil {
		codec = footer.Codec
	}
	o.observe(ctx, dst.Stats(), stats.OpImport, codec, start, footer, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"blocks": footer.Blocks,
		"head":   footer.Head.String(),
	}).Info("Imported chain from %s", archivePath)

	return footer, nil
}

func importArchive(archivePath string, dst *chain.Chain) (*Footer, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	footer, _, err := readFooter(f)
	if err != nil {
		return nil, err
	}

	for _, path := range []string{dst.DataPath(), dst.IndexPath()} {
		if _, err := os.Stat(path); err == nil {
			return footer, fmt.Errorf("%w: %s", chain.ErrAlreadyExists, path)
		}
	}

	if err := restoreData(f, footer, dst.DataPath()); err != nil {
		return footer, err
	}

	if err := verifyRestored(dst, footer); err != nil {
		os.Remove(dst.IndexPath())
		os.Remove(dst.DataPath())
		return footer, err
	}
	return footer, nil
}

// restoreData decompresses the body into a temporary file, checks it and
// links it into place under the writer lock
func restoreData(f *os.File, footer *Footer, dataPath string) error {
	lock, err := chain.AcquireLock(dataPath, 0)
	if err != nil {
		return err
	}
	defer lock.Release()

	tmpPath := dataPath + ".import"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer os.Remove(tmpPath)

	err = decompressBody(out, f, footer)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close data file: %w", closeErr)
	}
	if err != nil {
		return err
	}

	// Link fails if the destination appeared since the existence check
	if err := os.Link(tmpPath, dataPath); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", chain.ErrAlreadyExists, dataPath)
		}
		return fmt.Errorf("failed to place data file: %w", err)
	}
	return nil
}

func decompressBody(out *os.File, f *os.File, footer *Footer) error {
	body := io.NewSectionReader(f, 0, int64(footer.CompressedSize))
	zr, err := newCompressReader(body, footer.Codec)
	if err != nil {
		return err
	}
	defer zr.Close()

	h := xxhash.New()
	bw := bufio.NewWriterSize(out, 64*1024)
	n, err := io.Copy(io.MultiWriter(bw, h), io.LimitReader(zr, int64(footer.RawSize)+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if uint64(n) != footer.RawSize {
		return fmt.Errorf("%w: body holds %d bytes, footer says %d", ErrCorruptArchive, n, footer.RawSize)
	}
	if sum := h.Sum64(); sum != footer.BodyChecksum {
		return fmt.Errorf("%w: body checksum %x, footer says %x", ErrCorruptArchive, sum, footer.BodyChecksum)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	return out.Sync()
}

// verifyRestored rebuilds the index and checks the chain against the footer
func verifyRestored(dst *chain.Chain, footer *Footer) error {
	repaired, err := dst.Repair()
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	if repaired.TruncatedBytes != 0 || repaired.Blocks != footer.Blocks {
		return fmt.Errorf("%w: found %d blocks, footer says %d", ErrCorruptArchive, repaired.Blocks, footer.Blocks)
	}

	report, err := dst.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	if report.Head != footer.Head {
		return fmt.Errorf("%w: head is %s, footer says %s", ErrCorruptArchive, report.Head, footer.Head)
	}
	return nil
}

func (o options) observe(ctx context.Context, collector stats.Collector, op stats.OperationType, codec Codec, start time.Time, footer *Footer, err error) {
	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusError
		collector.TrackError(string(op) + "_error")
	} else {
		collector.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
		collector.TrackBytes(op == stats.OpImport, footer.RawSize)
	}

	telemetry.RecordDuration(ctx, o.tel, "chainlog.archive.duration", start,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentArchive),
		attribute.String(telemetry.AttrOperationType, string(op)),
		attribute.String(telemetry.AttrCodec, codec.String()),
		attribute.String(telemetry.AttrStatus, status),
	)
	if err == nil {
		telemetry.RecordBytes(ctx, o.tel, "chainlog.archive.bytes", int64(footer.CompressedSize),
			attribute.String(telemetry.AttrComponent, telemetry.ComponentArchive),
			attribute.String(telemetry.AttrOperationType, string(op)),
			attribute.String(telemetry.AttrCodec, codec.String()),
		)
	}
}

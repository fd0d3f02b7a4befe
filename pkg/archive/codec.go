package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownCodec is returned when an unsupported compression codec is specified
var ErrUnknownCodec = errors.New("unknown compression codec")

// Codec selects how the archive body is compressed
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
)

// String returns the codec name used on the command line
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a codec name to a Codec
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// newCompressWriter returns a writer that compresses into w
func newCompressWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopCloser{w}, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// newCompressReader returns a reader that decompresses r
func newCompressReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReadCloser{decoder}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// zstdReadCloser adapts zstd.Decoder, whose Close returns nothing
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// countingWriter counts bytes passed through to w
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

package archive

import (
	"errors"
	"testing"

	"github.com/KevoDB/chainlog/pkg/block"
)

func TestFooterEncodeDecode(t *testing.T) {
	head := block.ComputeHash([]byte("header"), []byte("data"))
	f := &Footer{
		Codec:          CodecZstd,
		Blocks:         12,
		RawSize:        4096,
		CompressedSize: 1024,
		Head:           head,
		BodyChecksum:   0xDEADBEEF,
	}

	data := f.Encode()
	if len(data) != FooterSize {
		t.Fatalf("expected %d bytes, got %d", FooterSize, len(data))
	}

	decoded, err := DecodeFooter(data)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}
	if *decoded != *f {
		t.Errorf("decoded footer differs: %+v vs %+v", decoded, f)
	}
}

func TestFooterCorruption(t *testing.T) {
	f := &Footer{Codec: CodecSnappy, Blocks: 1, RawSize: 50, CompressedSize: 40}
	data := f.Encode()

	// Magic
	bad := append([]byte(nil), data...)
	bad[0] ^= 0xFF
	if _, err := DecodeFooter(bad); !errors.Is(err, ErrInvalidFooter) {
		t.Errorf("expected ErrInvalidFooter for bad magic, got %v", err)
	}

	// Any covered field
	bad = append([]byte(nil), data...)
	bad[20] ^= 0xFF
	if _, err := DecodeFooter(bad); !errors.Is(err, ErrInvalidFooter) {
		t.Errorf("expected ErrInvalidFooter for checksum mismatch, got %v", err)
	}

	if _, err := DecodeFooter(data[:10]); !errors.Is(err, ErrInvalidFooter) {
		t.Errorf("expected ErrInvalidFooter for short input, got %v", err)
	}

	// Unknown codec with a valid checksum
	f.Codec = Codec(9)
	if _, err := DecodeFooter(f.Encode()); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	testCases := map[string]Codec{
		"":       CodecNone,
		"none":   CodecNone,
		"snappy": CodecSnappy,
		"ZSTD":   CodecZstd,
	}
	for in, want := range testCases {
		got, err := ParseCodec(in)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
	if s := Codec(7).String(); s != "codec(7)" {
		t.Errorf("unexpected name for unknown codec: %s", s)
	}
}

package archive

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 81
	// FooterMagic identifies a chainlog archive
	FooterMagic = uint64(0xC4A1B10CA4C41FE0)
	// CurrentVersion is the current archive format version
	CurrentVersion = uint32(1)
)

// ErrInvalidFooter is returned when an archive footer cannot be trusted
var ErrInvalidFooter = errors.New("invalid archive footer")

// Footer trails the compressed body of an archive
type Footer struct {
	// Magic number for integrity checking
	Magic uint64
	// Version of the archive format
	Version uint32
	// Codec used for the body
	Codec Codec
	// Number of blocks in the archived chain
	Blocks uint32
	// Size of the data file before compression
	RawSize uint64
	// Size of the body as stored
	CompressedSize uint64
	// Hash of the last block
	Head block.Hash
	// xxhash of the uncompressed body
	BodyChecksum uint64
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

// Encode serializes the footer, filling in Magic, Version and Checksum
func (f *Footer) Encode() []byte {
	f.Magic = FooterMagic
	f.Version = CurrentVersion

	result := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	result[12] = byte(f.Codec)
	binary.LittleEndian.PutUint32(result[13:17], f.Blocks)
	binary.LittleEndian.PutUint64(result[17:25], f.RawSize)
	binary.LittleEndian.PutUint64(result[25:33], f.CompressedSize)
	copy(result[33:65], f.Head[:])
	binary.LittleEndian.PutUint64(result[65:73], f.BodyChecksum)

	f.Checksum = xxhash.Sum64(result[:73])
	binary.LittleEndian.PutUint64(result[73:], f.Checksum)

	return result
}

// DecodeFooter parses and verifies a footer
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalidFooter, len(data), FooterSize)
	}
	data = data[len(data)-FooterSize:]

	f := &Footer{
		Magic:          binary.LittleEndian.Uint64(data[0:8]),
		Version:        binary.LittleEndian.Uint32(data[8:12]),
		Codec:          Codec(data[12]),
		Blocks:         binary.LittleEndian.Uint32(data[13:17]),
		RawSize:        binary.LittleEndian.Uint64(data[17:25]),
		CompressedSize: binary.LittleEndian.Uint64(data[25:33]),
		BodyChecksum:   binary.LittleEndian.Uint64(data[65:73]),
		Checksum:       binary.LittleEndian.Uint64(data[73:]),
	}
	copy(f.Head[:], data[33:65])

	if f.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: magic %x, expected %x", ErrInvalidFooter, f.Magic, FooterMagic)
	}
	if expected := xxhash.Sum64(data[:73]); f.Checksum != expected {
		return nil, fmt.Errorf("%w: checksum mismatch: file has %d, calculated %d", ErrInvalidFooter, f.Checksum, expected)
	}
	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFooter, f.Version)
	}
	if f.Codec > CodecZstd {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, f.Codec)
	}

	return f, nil
}

// Package block implements the on-disk block format of a chainlog data file:
// a fixed 45 byte little-endian header followed by an opaque payload.
package block

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the fixed size of a block header in bytes
	HeaderSize = 45
	// HashSize is the size of a block hash in bytes
	HashSize = sha256.Size
	// Magic identifies the chainlog block format
	Magic = uint32(0xD5E8A97F)
	// CurrentVersion is the block format version written by this package
	CurrentVersion = uint8(1)

	// Header layout
	// - Magic (4 bytes)
	// - Version (1 byte)
	// - Timestamp (4 bytes)
	// - PrevHash (32 bytes)
	// - DataLength (4 bytes)
	magicOffset     = 0
	versionOffset   = 4
	timestampOffset = 5
	prevHashOffset  = 9
	dataLenOffset   = prevHashOffset + HashSize
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMalformedHeader = errors.New("malformed block header")
)

// Hash is a SHA-256 block digest
type Hash [HashSize]byte

// ZeroHash is the prevHash carried by a genesis block
var ZeroHash Hash

// String returns the lowercase hex form of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero genesis prevHash
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash decodes a 64 character hex string, in either case, into a Hash
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimSpace(s)
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("%w: hash must be %d hex characters, got %d", ErrInvalidInput, 2*HashSize, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return h, nil
}

// Header is the decoded form of a block header
type Header struct {
	Magic      uint32
	Version    uint8
	Timestamp  uint32
	PrevHash   Hash
	DataLength uint32
}

// NewHeader creates a header for a payload of dataLength bytes chained to prevHash
func NewHeader(timestamp uint32, prevHash Hash, dataLength uint32) *Header {
	return &Header{
		Magic:      Magic,
		Version:    CurrentVersion,
		Timestamp:  timestamp,
		PrevHash:   prevHash,
		DataLength: dataLength,
	}
}

// Encode serializes the header into HeaderSize bytes
func (h *Header) Encode() []byte {
	result := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(result[magicOffset:versionOffset], h.Magic)
	result[versionOffset] = h.Version
	binary.LittleEndian.PutUint32(result[timestampOffset:prevHashOffset], h.Timestamp)
	copy(result[prevHashOffset:dataLenOffset], h.PrevHash[:])
	binary.LittleEndian.PutUint32(result[dataLenOffset:HeaderSize], h.DataLength)

	return result
}

// BlockLength returns the total on-disk size of the block this header describes
func (h *Header) BlockLength() uint32 {
	return HeaderSize + h.DataLength
}

// EncodeHeader serializes the given header fields. prevHash must be exactly
// HashSize raw bytes.
func EncodeHeader(magic uint32, version uint8, timestamp uint32, prevHash []byte, dataLength uint32) ([]byte, error) {
	if len(prevHash) != HashSize {
		return nil, fmt.Errorf("%w: prevHash is %d bytes, expected %d", ErrInvalidInput, len(prevHash), HashSize)
	}

	h := &Header{
		Magic:      magic,
		Version:    version,
		Timestamp:  timestamp,
		DataLength: dataLength,
	}
	copy(h.PrevHash[:], prevHash)

	return h.Encode(), nil
}

// DecodeHeader parses a header from the first HeaderSize bytes of data
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrMalformedHeader, len(data), HeaderSize)
	}

	h := &Header{
		Magic:      binary.LittleEndian.Uint32(data[magicOffset:versionOffset]),
		Version:    data[versionOffset],
		Timestamp:  binary.LittleEndian.Uint32(data[timestampOffset:prevHashOffset]),
		DataLength: binary.LittleEndian.Uint32(data[dataLenOffset:HeaderSize]),
	}
	copy(h.PrevHash[:], data[prevHashOffset:dataLenOffset])

	return h, nil
}

// ComputeHash returns the block hash: SHA-256 over the serialized header
// immediately followed by the payload
func ComputeHash(header, data []byte) Hash {
	hasher := sha256.New()
	hasher.Write(header)
	hasher.Write(data)

	var h Hash
	hasher.Sum(h[:0])
	return h
}

package block

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Record describes one block as it sits in a chain: where it lives in the
// data file, its decoded header fields, its computed hash and its payload.
// Records are values; nothing in this module mutates one after NewRecord.
type Record struct {
	Position   uint32
	Offset     uint32
	OffsetEnd  uint32
	Magic      uint32
	Version    uint8
	Timestamp  uint32
	PrevHash   Hash
	Hash       Hash
	DataLength uint32
	Data       []byte
}

// NewRecord builds the Record for a block at the given 1-indexed position
// and data file offset
func NewRecord(position, offset uint32, header *Header, hash Hash, data []byte) Record {
	return Record{
		Position:   position,
		Offset:     offset,
		OffsetEnd:  offset + header.BlockLength(),
		Magic:      header.Magic,
		Version:    header.Version,
		Timestamp:  header.Timestamp,
		PrevHash:   header.PrevHash,
		Hash:       hash,
		DataLength: header.DataLength,
		Data:       data,
	}
}

// Length returns the on-disk size of the block
func (r Record) Length() uint32 {
	return r.OffsetEnd - r.Offset
}

// Header reconstructs the header the record was decoded from
func (r Record) Header() *Header {
	return &Header{
		Magic:      r.Magic,
		Version:    r.Version,
		Timestamp:  r.Timestamp,
		PrevHash:   r.PrevHash,
		DataLength: r.DataLength,
	}
}

// IsGenesis reports whether the record is the first block of its chain
func (r Record) IsGenesis() bool {
	return r.Position == 1
}

type recordJSON struct {
	Position     uint32 `json:"position"`
	Offset       uint32 `json:"offset"`
	OffsetEnd    uint32 `json:"offset_end"`
	Magic        string `json:"magic"`
	Version      uint8  `json:"version"`
	Timestamp    uint32 `json:"timestamp"`
	PrevHash     string `json:"prevhash"`
	Hash         string `json:"hash"`
	DataLength   uint32 `json:"datalen"`
	Data         string `json:"data"`
	DataEncoding string `json:"data_encoding,omitempty"`
}

// MarshalJSON renders the record in the external chainlog JSON shape.
// Payloads that are not valid UTF-8 are emitted as base64 and flagged with
// data_encoding.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Position:   r.Position,
		Offset:     r.Offset,
		OffsetEnd:  r.OffsetEnd,
		Magic:      fmt.Sprintf("%x", r.Magic),
		Version:    r.Version,
		Timestamp:  r.Timestamp,
		PrevHash:   r.PrevHash.String(),
		Hash:       r.Hash.String(),
		DataLength: r.DataLength,
	}

	if utf8.Valid(r.Data) {
		out.Data = string(r.Data)
	} else {
		out.Data = base64.StdEncoding.EncodeToString(r.Data)
		out.DataEncoding = "base64"
	}

	return json.Marshal(out)
}

package service

import (
	"fmt"

	"github.com/KevoDB/chainlog/pkg/block"
	"google.golang.org/protobuf/encoding/protowire"
)

// Empty is the request of RPCs that take no arguments
type Empty struct{}

func (*Empty) MarshalWire() []byte { return nil }

func (*Empty) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(field) {})
}

// AppendRequest carries the payload of a new block
type AppendRequest struct {
	Data []byte
}

func (m *AppendRequest) MarshalWire() []byte {
	return appendBytes(nil, 1, m.Data)
}

func (m *AppendRequest) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		if f.num == 1 {
			m.Data = clone(f.bytes)
		}
	})
}

// HashRequest names a block by a hex hash
type HashRequest struct {
	Hash string
}

func (m *HashRequest) MarshalWire() []byte {
	return appendString(nil, 1, m.Hash)
}

func (m *HashRequest) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		if f.num == 1 {
			m.Hash = string(f.bytes)
		}
	})
}

// BlockMessage is one decoded block
type BlockMessage struct {
	Position   uint32
	Offset     uint32
	OffsetEnd  uint32
	Magic      uint32
	Version    uint32
	Timestamp  uint32
	PrevHash   []byte
	Hash       []byte
	DataLength uint32
	Data       []byte
}

// NewBlockMessage converts a record for the wire
func NewBlockMessage(rec block.Record) *BlockMessage {
	return &BlockMessage{
		Position:   rec.Position,
		Offset:     rec.Offset,
		OffsetEnd:  rec.OffsetEnd,
		Magic:      rec.Magic,
		Version:    uint32(rec.Version),
		Timestamp:  rec.Timestamp,
		PrevHash:   clone(rec.PrevHash[:]),
		Hash:       clone(rec.Hash[:]),
		DataLength: rec.DataLength,
		Data:       rec.Data,
	}
}

// Record converts the message back into a record
func (m *BlockMessage) Record() (block.Record, error) {
	if len(m.PrevHash) != block.HashSize || len(m.Hash) != block.HashSize {
		return block.Record{}, fmt.Errorf("block %d: hashes must be %d bytes", m.Position, block.HashSize)
	}
	rec := block.Record{
		Position:   m.Position,
		Offset:     m.Offset,
		OffsetEnd:  m.OffsetEnd,
		Magic:      m.Magic,
		Version:    uint8(m.Version),
		Timestamp:  m.Timestamp,
		DataLength: m.DataLength,
		Data:       m.Data,
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	copy(rec.PrevHash[:], m.PrevHash)
	copy(rec.Hash[:], m.Hash)
	return rec, nil
}

func (m *BlockMessage) MarshalWire() []byte {
	b := make([]byte, 0, 2*block.HashSize+len(m.Data)+48)
	b = appendVarint(b, 1, uint64(m.Position))
	b = appendVarint(b, 2, uint64(m.Offset))
	b = appendVarint(b, 3, uint64(m.OffsetEnd))
	b = appendVarint(b, 4, uint64(m.Magic))
	b = appendVarint(b, 5, uint64(m.Version))
	b = appendVarint(b, 6, uint64(m.Timestamp))
	b = appendBytes(b, 7, m.PrevHash)
	b = appendBytes(b, 8, m.Hash)
	b = appendVarint(b, 9, uint64(m.DataLength))
	b = appendBytes(b, 10, m.Data)
	return b
}

func (m *BlockMessage) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		switch f.num {
		case 1:
			m.Position = uint32(f.value)
		case 2:
			m.Offset = uint32(f.value)
		case 3:
			m.OffsetEnd = uint32(f.value)
		case 4:
			m.Magic = uint32(f.value)
		case 5:
			m.Version = uint32(f.value)
		case 6:
			m.Timestamp = uint32(f.value)
		case 7:
			m.PrevHash = clone(f.bytes)
		case 8:
			m.Hash = clone(f.bytes)
		case 9:
			m.DataLength = uint32(f.value)
		case 10:
			m.Data = clone(f.bytes)
		}
	})
}

// ValidateResponse mirrors chain.ValidationReport
type ValidateResponse struct {
	Valid        bool
	Blocks       uint32
	DataSize     uint64
	Head         []byte
	BrokenAt     uint32
	Problem      string
	IndexChecked bool
	IndexCount   uint32
	// Kind is the chain.ErrorKind of the problem
	Kind string
}

func (m *ValidateResponse) MarshalWire() []byte {
	var b []byte
	b = appendBool(b, 1, m.Valid)
	b = appendVarint(b, 2, uint64(m.Blocks))
	b = appendVarint(b, 3, m.DataSize)
	b = appendBytes(b, 4, m.Head)
	b = appendVarint(b, 5, uint64(m.BrokenAt))
	b = appendString(b, 6, m.Problem)
	b = appendBool(b, 7, m.IndexChecked)
	b = appendVarint(b, 8, uint64(m.IndexCount))
	b = appendString(b, 9, m.Kind)
	return b
}

func (m *ValidateResponse) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		switch f.num {
		case 1:
			m.Valid = protowire.DecodeBool(f.value)
		case 2:
			m.Blocks = uint32(f.value)
		case 3:
			m.DataSize = f.value
		case 4:
			m.Head = clone(f.bytes)
		case 5:
			m.BrokenAt = uint32(f.value)
		case 6:
			m.Problem = string(f.bytes)
		case 7:
			m.IndexChecked = protowire.DecodeBool(f.value)
		case 8:
			m.IndexCount = uint32(f.value)
		case 9:
			m.Kind = string(f.bytes)
		}
	})
}

// StatsRequest selects statistics by key prefix; empty selects all
type StatsRequest struct {
	Prefix string
}

func (m *StatsRequest) MarshalWire() []byte {
	return appendString(nil, 1, m.Prefix)
}

func (m *StatsRequest) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		if f.num == 1 {
			m.Prefix = string(f.bytes)
		}
	})
}

// StatsResponse carries the server's statistics as a JSON object
type StatsResponse struct {
	JSON []byte
}

func (m *StatsResponse) MarshalWire() []byte {
	return appendBytes(nil, 1, m.JSON)
}

func (m *StatsResponse) UnmarshalWire(b []byte) error {
	return consumeFields(b, func(f field) {
		if f.num == 1 {
			m.JSON = clone(f.bytes)
		}
	})
}

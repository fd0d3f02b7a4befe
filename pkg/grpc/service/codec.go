// Package service exposes a chain over gRPC.
//
// There is no generated code. The service descriptor is written by hand and
// messages are plain structs that encode themselves with protowire, carried
// by a codec registered under the name "chainwire". The field numbers are
// stable, so the messages are wire-compatible with an equivalent .proto.
package service

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// CodecName is the content-subtype of the chain wire codec
const CodecName = "chainwire"

// Message is implemented by every request and response type
type Message interface {
	MarshalWire() []byte
	UnmarshalWire([]byte) error
}

// WireCodec implements grpc/encoding.Codec for Message values
type WireCodec struct{}

func (WireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("chainwire marshal: unsupported type %T", v)
	}
	return m.MarshalWire(), nil
}

func (WireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("chainwire unmarshal: unsupported type %T", v)
	}
	if err := m.UnmarshalWire(data); err != nil {
		return fmt.Errorf("chainwire unmarshal: %w", err)
	}
	return nil
}

func (WireCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(WireCodec{})
}

// field is one decoded field value
type field struct {
	num   protowire.Number
	value uint64
	bytes []byte
}

// consumeFields calls fn for every varint and length-delimited field in b,
// skipping other wire types
func consumeFields(b []byte, fn func(f field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		fn(f)
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// clone copies a slice that aliases the receive buffer
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

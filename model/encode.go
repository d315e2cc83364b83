package model

import (
	"fmt"

	"github.com/hupe1980/tinycache/codec"
)

// EncodeValue serializes v with c. A nil codec selects codec.Default.
// Channel subscribers are not encoded.
func EncodeValue(c codec.Codec, v Value) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}

	return c.Marshal(v)
}

// DecodeValue deserializes data produced by EncodeValue for entry type t.
func DecodeValue(c codec.Codec, t EntryType, data []byte) (Value, error) {
	if c == nil {
		c = codec.Default
	}

	v, err := newValue(t)
	if err != nil {
		return nil, err
	}

	if err := c.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("model: decode %s: %w", t, err)
	}

	return v, nil
}

func newValue(t EntryType) (Value, error) {
	switch t {
	case TypeKeyValue:
		return &KeyValue{}, nil
	case TypeDocument:
		return &Document{}, nil
	case TypeChannel:
		return &Channel{}, nil
	case TypeStream:
		return &Stream{}, nil
	case TypeQueue:
		return &Queue{}, nil
	case TypeVector:
		return &Vector{}, nil
	case TypeHybrid:
		return &Hybrid{}, nil
	default:
		return nil, fmt.Errorf("model: unknown entry type %d", t)
	}
}

package model

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// Value is the closed set of payloads an item may carry.
type Value interface {
	// Type returns the entry type of the variant.
	Type() EntryType
	// Clone returns a deep copy safe to hand out to callers.
	Clone() Value

	isValue()
}

// Fielded is implemented by values that take part in the document index.
type Fielded interface {
	Value
	DocumentFields() map[string]any
}

// Embedded is implemented by values that take part in the vector index.
type Embedded interface {
	Value
	Embedding() []float32
}

// KVKind selects the payload of a KeyValue.
type KVKind uint8

const (
	// KindString is a plain string.
	KindString KVKind = iota
	// KindJSON is a raw JSON scalar or object.
	KindJSON
	// KindList is an ordered list of strings.
	KindList
	// KindSet is an unordered set of strings, stored sorted.
	KindSet
)

// KeyValue is a plain key-value payload.
type KeyValue struct {
	Kind KVKind          `json:"kind"`
	Str  string          `json:"str,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
	List []string        `json:"list,omitempty"`
	Set  []string        `json:"set,omitempty"`
}

// NewString returns a string KeyValue.
func NewString(s string) *KeyValue { return &KeyValue{Kind: KindString, Str: s} }

// NewJSON returns a JSON KeyValue.
func NewJSON(raw json.RawMessage) *KeyValue { return &KeyValue{Kind: KindJSON, JSON: slices.Clone(raw)} }

// NewList returns a list KeyValue.
func NewList(items ...string) *KeyValue { return &KeyValue{Kind: KindList, List: slices.Clone(items)} }

// NewSet returns a set KeyValue. Duplicates are dropped.
func NewSet(members ...string) *KeyValue {
	set := slices.Clone(members)
	slices.Sort(set)

	return &KeyValue{Kind: KindSet, Set: slices.Compact(set)}
}

// Type implements Value.
func (*KeyValue) Type() EntryType { return TypeKeyValue }

// Clone implements Value.
func (kv *KeyValue) Clone() Value {
	return &KeyValue{
		Kind: kv.Kind,
		Str:  kv.Str,
		JSON: slices.Clone(kv.JSON),
		List: slices.Clone(kv.List),
		Set:  slices.Clone(kv.Set),
	}
}

func (*KeyValue) isValue() {}

// Contains reports whether a set KeyValue holds member.
func (kv *KeyValue) Contains(member string) bool {
	_, ok := slices.BinarySearch(kv.Set, member)
	return ok
}

// Int returns the integer held by a string or JSON KeyValue.
func (kv *KeyValue) Int() (int64, error) {
	var s string

	switch kv.Kind {
	case KindString:
		s = kv.Str
	case KindJSON:
		s = string(kv.JSON)
	default:
		return 0, ErrNotNumeric
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}

	return n, nil
}

// SetInt stores n, keeping the current kind.
func (kv *KeyValue) SetInt(n int64) {
	s := strconv.FormatInt(n, 10)
	if kv.Kind == KindJSON {
		kv.JSON = json.RawMessage(s)
		return
	}

	kv.Str = s
}

// Document is a JSON object.
type Document struct {
	Fields map[string]any `json:"fields"`
}

// NewDocument returns a Document holding a copy of fields.
func NewDocument(fields map[string]any) *Document {
	return &Document{Fields: cloneMap(fields)}
}

// Type implements Value.
func (*Document) Type() EntryType { return TypeDocument }

// Clone implements Value.
func (d *Document) Clone() Value { return &Document{Fields: cloneMap(d.Fields)} }

func (*Document) isValue() {}

// DocumentFields implements Fielded.
func (d *Document) DocumentFields() map[string]any { return d.Fields }

// Vector is a fixed-length embedding with optional metadata.
type Vector struct {
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewVector returns a Vector holding a copy of values.
func NewVector(values []float32, metadata map[string]any) *Vector {
	return &Vector{Values: slices.Clone(values), Metadata: cloneMap(metadata)}
}

// Type implements Value.
func (*Vector) Type() EntryType { return TypeVector }

// Clone implements Value.
func (v *Vector) Clone() Value {
	return &Vector{Values: slices.Clone(v.Values), Metadata: cloneMap(v.Metadata)}
}

func (*Vector) isValue() {}

// Embedding implements Embedded.
func (v *Vector) Embedding() []float32 { return v.Values }

// Hybrid is a document and a vector stored under one key.
type Hybrid struct {
	Fields map[string]any `json:"fields"`
	Values []float32      `json:"values"`
}

// NewHybrid returns a Hybrid holding copies of fields and values.
func NewHybrid(fields map[string]any, values []float32) *Hybrid {
	return &Hybrid{Fields: cloneMap(fields), Values: slices.Clone(values)}
}

// Type implements Value.
func (*Hybrid) Type() EntryType { return TypeHybrid }

// Clone implements Value.
func (h *Hybrid) Clone() Value {
	return &Hybrid{Fields: cloneMap(h.Fields), Values: slices.Clone(h.Values)}
}

func (*Hybrid) isValue() {}

// DocumentFields implements Fielded.
func (h *Hybrid) DocumentFields() map[string]any { return h.Fields }

// Embedding implements Embedded.
func (h *Hybrid) Embedding() []float32 { return h.Values }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}

	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}

		return out
	case json.RawMessage:
		return slices.Clone(t)
	default:
		return v
	}
}

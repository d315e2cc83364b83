// Package codec encodes the payloads of WAL records and checkpoints.
//
// The codec name is written into every WAL file header and replay refuses
// files written under another name, so switching codecs requires a fresh
// WAL directory.
package codec

import (
	"bytes"
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Codec encodes and decodes record payloads. Implementations must be safe
// for concurrent use. Document fields round-trip through map[string]any, so
// numbers decode as float64 under every codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}

// ByName returns the built-in codec registered under name.
func ByName(name string) (Codec, bool) {
	switch name {
	case JSON{}.Name():
		return JSON{}, true
	case GoJSON{}.Name(), "":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// JSON encodes with encoding/json. HTML characters are not escaped, so its
// output matches GoJSON byte for byte.
type JSON struct{}

// Marshal implements Codec.
func (JSON) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name implements Codec.
func (JSON) Name() string { return "json" }

// GoJSON encodes with github.com/goccy/go-json.
type GoJSON struct{}

// Marshal implements Codec.
func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.MarshalNoEscape(v) }

// Unmarshal implements Codec.
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name implements Codec.
func (GoJSON) Name() string { return "go-json" }

// Package json wraps bytedance/sonic behind the familiar encoding/json
// surface so call sites never import the codec directly.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// RawMessage defers decoding of a JSON fragment, std-compatible.
type RawMessage = stdjson.RawMessage

// Marshal serializes v using sonic's std-compatible config.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

// MarshalIndent serializes v with indentation for human-readable output.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return sonic.ConfigStd.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return sonic.ConfigStd.NewDecoder(r)
}

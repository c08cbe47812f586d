// Package json wraps sonic for the architectures it supports and falls back
// to encoding/json everywhere else.
package json

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

var (
	// Marshal encodes v into JSON bytes.
	Marshal func(v any) ([]byte, error)

	// Unmarshal decodes JSON bytes into v.
	Unmarshal func(data []byte, v any) error

	// NewEncoder creates a JSON encoder writing to w.
	NewEncoder func(w io.Writer) Encoder

	// NewDecoder creates a JSON decoder reading from r.
	NewDecoder func(r io.Reader) Decoder

	usingSonic bool
)

// Encoder is a streaming JSON encoder.
type Encoder interface {
	Encode(v any) error
}

// Decoder is a streaming JSON decoder.
type Decoder interface {
	Decode(v any) error
}

func init() {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		Marshal = stdjson.Marshal
		Unmarshal = stdjson.Unmarshal
		NewEncoder = func(w io.Writer) Encoder { return stdjson.NewEncoder(w) }
		NewDecoder = func(r io.Reader) Decoder { return stdjson.NewDecoder(r) }
		return
	}
	useSonic(sonic.ConfigStd)
}

func useSonic(api sonic.API) {
	Marshal = api.Marshal
	Unmarshal = api.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return api.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return api.NewDecoder(r) }
	usingSonic = true
}

// MarshalIndent encodes v with two-space indentation, used by CLI output.
func MarshalIndent(v any) ([]byte, error) {
	if usingSonic {
		return sonic.ConfigStd.MarshalIndent(v, "", "  ")
	}
	return stdjson.MarshalIndent(v, "", "  ")
}

// IsUsingSonic reports whether sonic backs the package functions.
func IsUsingSonic() bool {
	return usingSonic
}

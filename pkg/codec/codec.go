// Package codec isolates the JSON serialization concern behind a small
// interface, per spec.md §1: the wire and configuration-block encoding is
// "an external collaborator... specified only by the contracts the core
// consumes from them." The core never imports encoding/json or goccy/go-json
// directly; it depends on Codec.
package codec

import gojson "github.com/goccy/go-json"

// Codec marshals and unmarshals the values that cross the mKTL wire: the
// Envelope header, Payload values, and configuration blocks.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// goJSONCodec adapts github.com/goccy/go-json, a drop-in, allocation-light
// replacement for encoding/json used elsewhere in the pack for high
// throughput JSON paths.
type goJSONCodec struct{}

// Default is the process-wide codec used unless a caller supplies its own,
// e.g. in tests that want to assert on encoding/json's exact output.
var Default Codec = goJSONCodec{}

func (goJSONCodec) Marshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

func (goJSONCodec) Unmarshal(data []byte, v any) error {
	return gojson.Unmarshal(data, v)
}

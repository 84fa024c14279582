// payload.go
// ----------
// The backend speaks schema-less JSON objects. Payload is the transport-boundary
// representation of such an object: string keys mapped to the small set of
// variants encoding/json produces (string, float64, bool, nil, nested object,
// array). Typed accessors let higher-level operations pull fields out without
// repeating type switches, and Decode converts a payload (or a sub-payload such
// as the conventional "data" field) into a typed domain struct.
//
// Most backend responses additionally carry envelope fields: "success", "data",
// "message"/"error" and "code"/"error_code". Success of a call is decided by
// HTTP status alone; the envelope accessors exist for callers that want the
// extra context.
package ledgerbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is a schema-less JSON object as decoded at the transport boundary.
type Payload map[string]any

// ParsePayload decodes raw response bytes into a Payload. Empty input yields an
// empty payload. A non-empty body that is not a JSON object is an error; the
// executor classifies that as a parse failure.
func ParsePayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Payload{}, nil
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// String returns the string value under key, if present and a string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64 returns the numeric value under key as an int64.
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// Float64 returns the numeric value under key as a float64.
func (p Payload) Float64(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

// Bool returns the boolean value under key.
func (p Payload) Bool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Object returns the nested object under key.
func (p Payload) Object(key string) (Payload, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	switch o := v.(type) {
	case Payload:
		return o, true
	case map[string]any:
		return Payload(o), true
	}
	return nil, false
}

// Array returns the array under key.
func (p Payload) Array(key string) ([]any, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

// Decode marshals the payload back to JSON and unmarshals it into v. This is
// how typed domain structures are produced immediately above the transport
// boundary.
func (p Payload) Decode(v any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding payload into %T: %w", v, err)
	}
	return nil
}

// Success reports the body-level "success" flag. It is informational only;
// call success is decided by HTTP status.
func (p Payload) Success() bool {
	b, _ := p.Bool("success")
	return b
}

// Data returns the conventional "data" object of a response envelope.
func (p Payload) Data() (Payload, bool) {
	return p.Object("data")
}

// DataArray returns the "data" field when it is an array (list endpoints).
func (p Payload) DataArray() ([]any, bool) {
	return p.Array("data")
}

// Message returns the human-readable "message" field, falling back to "error".
func (p Payload) Message() string {
	if s, ok := p.String("message"); ok && s != "" {
		return s
	}
	s, _ := p.String("error")
	return s
}

// ErrorCode returns the machine error code field ("code" or "error_code").
func (p Payload) ErrorCode() string {
	if s, ok := p.String("code"); ok && s != "" {
		return s
	}
	s, _ := p.String("error_code")
	return s
}

// Package topic builds canonical subscription topic strings.
//
// A topic is "<route>:<canonical-params>" where canonical-params is a
// deterministic JSON-like serialization: object keys sorted
// lexicographically, no whitespace, arrays in input order, null and
// absent values rendered as a zero-width value. Server and client must
// produce byte-identical strings for the same parameters — a mismatch
// means a connected client silently receives no data.
package topic

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

// Build returns the canonical topic for a route and its parameters.
// Params may be a typed request struct, a map decoded from client JSON
// or any JSON-representable value.
func Build(route string, params any) (string, error) {
	canonical, err := Canonical(params)
	if err != nil {
		return "", err
	}
	return route + ":" + canonical, nil
}

// Route extracts the route prefix from a topic string.
func Route(t string) string {
	if i := strings.IndexByte(t, ':'); i >= 0 {
		return t[:i]
	}
	return t
}

// Canonical serializes a value into its canonical form.
func Canonical(v any) (string, error) {
	var b strings.Builder
	if err := appendCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func appendCanonical(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		// Zero-width value: null and absent collapse to nothing.
		return nil
	case json.Number:
		b.WriteString(x.String())
		return nil
	case string:
		return appendScalar(b, x)
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case float32, float64, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return appendScalar(b, x)
	case []byte:
		return fmt.Errorf("%w: binary values are not representable in a topic", protocol.ErrInvalidParams)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := appendScalar(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := appendCanonical(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := appendCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("%w: %s values are not representable in a topic", protocol.ErrInvalidParams, rv.Kind())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}

	// Typed structs, maps and slices take a round trip through JSON so
	// field tags and omitempty behave exactly as they do on the wire.
	// UseNumber keeps numeric literals byte-identical.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidParams, err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidParams, err)
	}
	return appendCanonical(b, decoded)
}

// appendScalar writes the JSON form of a primitive.
func appendScalar(b *strings.Builder, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidParams, err)
	}
	b.Write(raw)
	return nil
}

// Params parses the canonical parameter object back out of a topic
// string. Engines receive only the topic on CreateTopic and use this to
// recover the subscription parameters.
func Params(t string) (map[string]any, error) {
	i := strings.IndexByte(t, ':')
	if i < 0 {
		return nil, fmt.Errorf("%w: topic %q has no parameter section", protocol.ErrInvalidParams, t)
	}
	return DecodeParams(json.RawMessage(t[i+1:]))
}

// DecodeParams decodes raw client JSON into a generic tree, preserving
// numeric literals. Routes decode into their typed request structs
// separately; this form feeds Canonical so the topic reflects exactly
// what the client sent.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	return m, nil
}

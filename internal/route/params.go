package route

import (
	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

// FieldKind is the wire type a subscription parameter must carry.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldStringArray
)

// Fields builds a ValidateFunc from a schema of required fields. The
// check is exact: every field must be present with the right type and
// nothing else may appear, because extra or missing fields change the
// canonical topic string.
func Fields(schema map[string]FieldKind) ValidateFunc {
	return func(params map[string]any) error {
		for name, kind := range schema {
			v, ok := params[name]
			if !ok {
				return protocol.ValidationError(name, "is required")
			}
			switch kind {
			case FieldString:
				s, ok := v.(string)
				if !ok {
					return protocol.ValidationError(name, "must be a string")
				}
				if s == "" {
					return protocol.ValidationError(name, "must not be empty")
				}
			case FieldStringArray:
				arr, ok := v.([]any)
				if !ok {
					return protocol.ValidationError(name, "must be an array of strings")
				}
				if len(arr) == 0 {
					return protocol.ValidationError(name, "must not be empty")
				}
				for _, item := range arr {
					if _, ok := item.(string); !ok {
						return protocol.ValidationError(name, "must be an array of strings")
					}
				}
			}
		}
		for name := range params {
			if _, ok := schema[name]; !ok {
				return protocol.ValidationError(name, "is not a recognized field for this route")
			}
		}
		return nil
	}
}

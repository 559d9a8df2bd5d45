package protocol

import (
	"errors"
	"fmt"
)

// Error kinds, ordered roughly by blast radius. Subscribe and
// unsubscribe failures never tear down the connection; only protocol
// and I/O failures do, and only ConfigError terminates the process.
var (
	// ErrProtocol covers malformed frames, unknown envelope types and
	// invalid JSON. The connection is closed with UnsupportedData.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation covers subscribe payloads failing the route schema.
	// The client gets an error response; the connection survives.
	ErrValidation = errors.New("validation error")

	// ErrInvalidParams is returned by the topic builder when a value
	// cannot be canonicalized. Handled like ErrValidation.
	ErrInvalidParams = errors.New("invalid params")

	// ErrEngineBusy means CreateTopic failed; the route unwinds its
	// tracker increment and replies with an error envelope.
	ErrEngineBusy = errors.New("engine busy")

	// ErrConfig is a startup configuration failure. Fail fast.
	ErrConfig = errors.New("config error")
)

// ValidationError builds a schema failure for a named field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: field %q %s", ErrValidation, field, reason)
}

// Package protocol defines the JSON wire envelopes exchanged over the
// WebSocket fabric and the error taxonomy shared by routes and engines.
//
// Every frame, inbound or outbound, is a single envelope:
//
//	{"type":"bars.subscribe","payload":{...}}
//
// The type string is "<route>.<op>" where op is one of subscribe,
// subscribe.response, unsubscribe, unsubscribe.response or update.
package protocol

import (
	"encoding/json"
	"strings"
)

// Envelope is the outer frame for every WebSocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Status values used in subscribe/unsubscribe responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// SubscribeResponse acknowledges a subscribe or unsubscribe request.
// Topic is the canonical topic string the client must match updates
// against; byte-exact agreement with the server is required.
type SubscribeResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Update is the payload of a "<route>.update" envelope.
type Update struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Message type suffixes.
const (
	OpSubscribe           = "subscribe"
	OpSubscribeResponse   = "subscribe.response"
	OpUnsubscribe         = "unsubscribe"
	OpUnsubscribeResponse = "unsubscribe.response"
	OpUpdate              = "update"
)

// SplitType splits an envelope type into route and operation.
// "bars.subscribe" → ("bars", "subscribe"). The route never contains a
// dot; everything after the first dot is the operation.
func SplitType(t string) (route, op string) {
	i := strings.IndexByte(t, '.')
	if i < 0 {
		return t, ""
	}
	return t[:i], t[i+1:]
}

// MessageType builds "<route>.<op>".
func MessageType(route, op string) string {
	return route + "." + op
}

// Marshal wraps a payload value in an envelope and serializes it.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

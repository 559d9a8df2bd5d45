// Package route implements the generic subscribe/unsubscribe state
// machine shared by every logical stream (bars, quotes, orders, …) and
// the per-route broadcast pump that fans updates out to subscribers.
package route

// EmitFunc is the callback an engine invokes to publish an update for a
// topic. Implementations must be pure enqueue operations: non-blocking
// and free of I/O, so an engine can call them while holding its own
// state lock without risking a cascade interleave.
type EmitFunc func(payload any)

// Engine is the capability interface a route holds on its domain
// engine. The engine owns data generation; the route owns delivery.
//
// CreateTopic is invoked exactly once when a topic gains its first
// subscriber, RemoveTopic exactly once when it loses its last. The
// route serializes both under its registry lock.
type Engine interface {
	CreateTopic(topic string, emit EmitFunc) error
	RemoveTopic(topic string)
}

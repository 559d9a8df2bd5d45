// Package ws owns the per-connection transport: one Client per accepted
// WebSocket, with a serialized send path, heartbeat enforcement and a
// hard lifespan cap. Everything above this package speaks []byte frames.
package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/faroukBakari/trader-pro-sub005/internal/auth"
	"github.com/faroukBakari/trader-pro-sub005/internal/limits"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
)

// State of a connection: connecting, open, closing or closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Disconnect reasons used in metrics and close hooks.
const (
	ReasonReadError   = "read_error"
	ReasonWriteError  = "write_error"
	ReasonHeartbeat   = "heartbeat_timeout"
	ReasonLifespan    = "max_lifetime"
	ReasonSlowClient  = "slow_client"
	ReasonProtocol    = "protocol_error"
	ReasonShutdown    = "server_shutdown"
	ReasonClientClose = "client_close"
)

// slowClientStrikes is how many consecutive full-buffer sends a client
// survives before being torn down.
const slowClientStrikes = 3

// Options configures a Client.
type Options struct {
	HeartbeatTimeout time.Duration
	MaxLifetime      time.Duration
	SendBufferSize   int
	RatePerSec       int
	RateBurst        int
}

// Client is one logical duplex frame stream.
type Client struct {
	ID        string
	Principal auth.Principal

	conn net.Conn

	// writeMu serializes every socket write: the write pump's batches
	// and pings, control replies from the read pump, and the close
	// frame. The socket never sees two interleaved writers.
	writeMu sync.Mutex

	send        chan []byte
	done        chan struct{}
	state       atomic.Int32
	closeOnce   sync.Once
	logger      zerolog.Logger
	limiter     *rate.Limiter
	opts        Options
	connectedAt time.Time
	expiresAt   time.Time

	sendAttempts atomic.Int32

	// closeHook fires exactly once when the connection dies, with the
	// disconnect reason. The server uses it to tear down subscriptions.
	closeHook func(c *Client, reason string)

	// Listeners maps client-chosen listener ids to subscription handles
	// so unsubscribe-by-listener and disconnect teardown can find them.
	// Owned by the server's dispatch loop plus route locks.
	listeners   map[string]Listener
	listenersMu sync.Mutex
}

// Listener is the connection-side record of one subscription.
type Listener struct {
	Route string
	Topic string
}

// NewClient wraps an upgraded connection.
func NewClient(conn net.Conn, principal auth.Principal, opts Options, logger zerolog.Logger) *Client {
	now := time.Now()
	c := &Client{
		ID:          uuid.NewString(),
		Principal:   principal,
		conn:        conn,
		send:        make(chan []byte, opts.SendBufferSize),
		done:        make(chan struct{}),
		limiter:     limits.NewInboundLimiter(opts.RatePerSec, opts.RateBurst),
		opts:        opts,
		connectedAt: now,
		expiresAt:   now.Add(opts.MaxLifetime),
	}
	c.logger = logger.With().Str("client_id", c.ID).Logger()
	c.state.Store(int32(StateOpen))
	return c
}

// State returns the connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// OnClose registers the close hook. Must be set before pumps start.
func (c *Client) OnClose(hook func(c *Client, reason string)) {
	c.closeHook = hook
}

// Send enqueues a frame for the write pump. Non-blocking: a full buffer
// counts as a strike, and three consecutive strikes tear the client
// down so one slow consumer cannot stall a broadcast.
func (c *Client) Send(msg []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		c.sendAttempts.Store(0)
		return true
	default:
		attempts := c.sendAttempts.Add(1)
		if attempts == 1 {
			c.logger.Warn().Str("reason", "send_buffer_full").Msg("client is slow")
		}
		if attempts >= slowClientStrikes {
			c.logger.Warn().Int32("consecutive_failures", attempts).Msg("disconnecting slow client")
			// Teardown is scheduled, not run inline: Send is called under
			// route locks, and the close hook re-enters them.
			go c.Close(ws.StatusPolicyViolation, "client too slow to process messages", ReasonSlowClient)
		}
		return false
	}
}

// TrySend enqueues without the strike policy, for best-effort replies.
func (c *Client) TrySend(msg []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Idempotent; the first caller wins
// and its reason is reported to the close hook.
func (c *Client) Close(code ws.StatusCode, text, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		if c.conn != nil {
			c.writeMu.Lock()
			body := ws.NewCloseFrameBody(code, text)
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
			c.conn.Close()
			c.writeMu.Unlock()
		}
		c.state.Store(int32(StateClosed))
		close(c.done)

		duration := time.Since(c.connectedAt)
		metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
		c.logger.Info().
			Str("reason", reason).
			Dur("duration", duration).
			Msg("client disconnected")

		if c.closeHook != nil {
			c.closeHook(c, reason)
		}
	})
}

// AddListener records a subscription handle for this connection.
// Returns false if the listener id already exists with a different
// topic (same-topic re-subscribes are idempotent and return true).
func (c *Client) AddListener(id string, l Listener) bool {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if existing, ok := c.listeners[id]; ok {
		return existing == l
	}
	if c.listeners == nil {
		c.listeners = make(map[string]Listener)
	}
	c.listeners[id] = l
	return true
}

// Listener looks up a subscription handle by listener id.
func (c *Client) Listener(id string) (Listener, bool) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	l, ok := c.listeners[id]
	return l, ok
}

// RemoveListener deletes a handle. Unknown ids are a no-op.
func (c *Client) RemoveListener(id string) (Listener, bool) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	l, ok := c.listeners[id]
	if ok {
		delete(c.listeners, id)
	}
	return l, ok
}

// DrainListeners removes and returns every handle, for disconnect
// teardown.
func (c *Client) DrainListeners() map[string]Listener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := c.listeners
	c.listeners = nil
	return out
}

// ConnectedAt reports when the connection was accepted.
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

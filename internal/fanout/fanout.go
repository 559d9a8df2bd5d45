// Package fanout republishes delivered updates to NATS so other
// processes can observe the same streams the WebSocket clients see.
// It is strictly best-effort: publish failures are counted and logged,
// never propagated back into the delivery path.
package fanout

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher mirrors route updates onto NATS subjects of the form
// trader.<route>.updates.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials the NATS server. An empty URL disables fan-out and
// returns a nil publisher, which every method tolerates.
func Connect(url string, logger zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("trader-fabric"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	logger.Info().Str("url", url).Msg("nats fan-out enabled")
	return &Publisher{conn: conn, logger: logger.With().Str("component", "fanout").Logger()}, nil
}

// Publish mirrors one serialized update envelope. Matches the pump's
// FanoutFunc signature and never blocks; nats.Publish only buffers.
func (p *Publisher) Publish(route, topic string, update []byte) {
	if p == nil {
		return
	}
	subject := "trader." + route + ".updates"
	if err := p.conn.Publish(subject, update); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Str("topic", topic).Msg("fan-out publish failed")
	}
}

// Func adapts the publisher for route wiring; nil publisher yields a
// nil func so routes skip fan-out entirely.
func (p *Publisher) Func() func(route, topic string, update []byte) {
	if p == nil {
		return nil
	}
	return p.Publish
}

// Close flushes and drops the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

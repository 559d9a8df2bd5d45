// Package server accepts WebSocket connections, dispatches inbound
// envelopes to routes, and supervises the whole fabric's lifecycle.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/auth"
	"github.com/faroukBakari/trader-pro-sub005/internal/config"
	"github.com/faroukBakari/trader-pro-sub005/internal/limits"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
	"github.com/faroukBakari/trader-pro-sub005/internal/route"
	"github.com/faroukBakari/trader-pro-sub005/internal/ws"
)

// Server owns the live connection set and the route table.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	routes   map[string]*route.Route
	verifier *auth.Verifier
	guard    *limits.ResourceGuard

	mu      sync.Mutex
	clients map[*ws.Client]struct{}
	closed  atomic.Bool

	wg sync.WaitGroup
}

func NewServer(cfg *config.Config, routes map[string]*route.Route, guard *limits.ResourceGuard, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		routes:   routes,
		verifier: auth.NewVerifier(cfg.AuthSecret),
		guard:    guard,
		clients:  make(map[*ws.Client]struct{}),
	}
}

// HandleWS upgrades an HTTP request and runs the connection until it
// dies. The handler goroutine doubles as the read pump.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if ok, reason := s.guard.ShouldAccept(); !ok {
		metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
		s.logger.Warn().Str("reason", reason).Msg("connection rejected")
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}
	if s.ClientCount() >= s.cfg.MaxConnections {
		metrics.ConnectionsRejected.WithLabelValues("max_connections").Inc()
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	principal, err := s.verifier.Principal(r)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := gws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, principal, ws.Options{
		HeartbeatTimeout: s.cfg.HeartbeatTimeout,
		MaxLifetime:      s.cfg.MaxConnLifetime,
		SendBufferSize:   s.cfg.SendBufferSize,
		RatePerSec:       s.cfg.InboundRatePerSec,
		RateBurst:        s.cfg.InboundRateBurst,
	}, s.logger)
	client.OnClose(s.teardown)

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	s.logger.Info().
		Str("client_id", client.ID).
		Str("principal", principal.Subject).
		Msg("client connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.WritePump()
	}()

	s.wg.Add(1)
	defer s.wg.Done()
	client.ReadPump(s.dispatch)
}

// dispatch routes one inbound text frame. Malformed frames and unknown
// types are protocol errors that close the connection; route-level
// failures are answered in-band and never tear it down.
func (s *Server) dispatch(c *ws.Client, frame []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		s.protocolError(c, "malformed envelope")
		return
	}

	// Application-level heartbeat, for clients that cannot send WS
	// pings. Reaching dispatch already reset the read deadline.
	if env.Type == "heartbeat" {
		if frame, err := protocol.Marshal("pong", map[string]int64{"time": time.Now().UnixMilli()}); err == nil {
			c.TrySend(frame)
		}
		return
	}

	routeName, op := protocol.SplitType(env.Type)
	r, ok := s.routes[routeName]
	if !ok {
		s.protocolError(c, "unknown route "+routeName)
		return
	}

	switch op {
	case protocol.OpSubscribe:
		r.HandleSubscribe(c, env.Payload)
	case protocol.OpUnsubscribe:
		r.HandleUnsubscribe(c, env.Payload)
	default:
		s.protocolError(c, "unsupported operation "+op)
	}
}

func (s *Server) protocolError(c *ws.Client, detail string) {
	metrics.ProtocolErrors.Inc()
	s.logger.Warn().Str("client_id", c.ID).Str("detail", detail).Msg("protocol error")
	c.Close(gws.StatusUnsupportedData, detail, ws.ReasonProtocol)
}

// teardown is the close hook: it unwinds every subscription the
// connection held. Runs exactly once per connection.
func (s *Server) teardown(c *ws.Client, reason string) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		metrics.ConnectionsActive.Dec()
	}
	s.mu.Unlock()

	for _, l := range c.DrainListeners() {
		if r, ok := s.routes[l.Route]; ok {
			r.Drop(c, l.Topic)
		}
	}
}

// ClientCount reports live connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown stops admitting connections and closes every live client,
// then waits for their pumps to exit.
func (s *Server) Shutdown() {
	s.closed.Store(true)

	s.mu.Lock()
	open := make([]*ws.Client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.Close(gws.StatusGoingAway, "server shutting down", ws.ReasonShutdown)
	}
	s.wg.Wait()
}

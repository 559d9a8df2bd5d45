package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/config"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/broker"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/datafeed"
	"github.com/faroukBakari/trader-pro-sub005/internal/fanout"
	"github.com/faroukBakari/trader-pro-sub005/internal/limits"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
	"github.com/faroukBakari/trader-pro-sub005/internal/rest"
	"github.com/faroukBakari/trader-pro-sub005/internal/route"
)

// Supervisor assembles engines, routes, pumps and the HTTP listener,
// and owns their start and stop order.
type Supervisor struct {
	cfg    *config.Config
	logger zerolog.Logger

	datafeed *datafeed.Engine
	broker   *broker.Engine
	routes   map[string]*route.Route
	server   *Server
	guard    *limits.ResourceGuard
	fanout   *fanout.Publisher
	httpSrv  *http.Server

	startedAt time.Time
	stop      chan struct{}
}

func NewSupervisor(cfg *config.Config, logger zerolog.Logger) (*Supervisor, error) {
	df := datafeed.New(datafeed.Config{
		Enabled:     cfg.BroadcasterEnabled,
		Interval:    cfg.BroadcasterInterval,
		Symbols:     cfg.Symbols(),
		Resolutions: cfg.Resolutions(),
	}, logger)

	delay, autoExecute, err := cfg.ExecutionMode()
	if err != nil {
		return nil, err
	}
	bk := broker.New(broker.Config{
		AutoExecute:    autoExecute,
		ExecutionDelay: delay,
		Quotes:         df,
	}, logger)

	pub, err := fanout.Connect(cfg.NATSURL, logger)
	if err != nil {
		return nil, err
	}

	guard := limits.NewResourceGuard(cfg.CPURejectThreshold, logger)
	routes := BuildRoutes(cfg, df, bk, pub.Func(), logger)
	srv := NewServer(cfg, routes, guard, logger)

	sup := &Supervisor{
		cfg:       cfg,
		logger:    logger.With().Str("component", "supervisor").Logger(),
		datafeed:  df,
		broker:    bk,
		routes:    routes,
		server:    srv,
		guard:     guard,
		fanout:    pub,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.HandleWS)
	mux.HandleFunc("GET /health", sup.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	rest.NewHandler(bk, df, logger).Register(mux)

	sup.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}
	return sup, nil
}

// Start launches pumps and the listener. Errors from the listener are
// reported on the returned channel; a clean shutdown sends nil.
func (s *Supervisor) Start() <-chan error {
	for _, r := range s.routes {
		r.Pump().Start()
	}
	s.guard.Start(2*time.Second, s.stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		err := s.httpSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()
	return errCh
}

// Serve runs on an existing listener, for tests that need an ephemeral
// port.
func (s *Supervisor) Serve(l net.Listener) <-chan error {
	for _, r := range s.routes {
		r.Pump().Start()
	}
	s.guard.Start(2*time.Second, s.stop)

	errCh := make(chan error, 1)
	go func() {
		err := s.httpSrv.Serve(l)
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()
	return errCh
}

// Shutdown unwinds in reverse dependency order: stop admitting, drain
// the pumps, stop the engines, then close whatever connections remain.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down")
	close(s.stop)

	if err := s.httpSrv.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
		s.logger.Warn().Err(err).Msg("listener shutdown")
	}

	for _, r := range s.routes {
		r.Pump().Stop()
	}
	s.datafeed.Shutdown()
	s.broker.Shutdown()
	s.server.Shutdown()
	s.fanout.Close()

	s.logger.Info().Msg("shutdown complete")
	return nil
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	topics := 0
	for _, r := range s.routes {
		topics += r.TopicCount()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"connections": s.server.ClientCount(),
		"topics":      topics,
		"cpu_percent": fmt.Sprintf("%.1f", s.guard.CPUPercent()),
	})
}

// Package datafeed generates mock market data for subscribed topics:
// OHLCV bars per (symbol, resolution) and quotes per symbol list. One
// generator task runs per topic regardless of subscriber count; the
// engine holds no per-subscriber state.
package datafeed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
	"github.com/faroukBakari/trader-pro-sub005/internal/route"
	"github.com/faroukBakari/trader-pro-sub005/internal/topic"
)

// Route names served by this engine.
const (
	RouteBars   = "bars"
	RouteQuotes = "quotes"
)

// Config controls the generators.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	Symbols     []string
	Resolutions []string
}

// Engine implements route.Engine for the bars and quotes routes.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	generators map[string]context.CancelFunc
	prices     map[string]*symbolState
	universe   map[string]struct{}

	wg sync.WaitGroup
}

// symbolState is the shared random-walk state for one symbol, advanced
// by whichever generator ticks and read by quote snapshots.
type symbolState struct {
	base      float64
	price     float64
	prevClose float64
	rng       *rand.Rand
}

func New(cfg Config, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "datafeed").Logger(),
		generators: make(map[string]context.CancelFunc),
		prices:     make(map[string]*symbolState),
		universe:   make(map[string]struct{}, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		e.universe[s] = struct{}{}
	}
	return e
}

// CreateTopic spawns the periodic generator for a topic. Called by a
// route when the first subscriber arrives.
func (e *Engine) CreateTopic(topicStr string, emit route.EmitFunc) error {
	params, err := topic.Params(topicStr)
	if err != nil {
		return err
	}

	var tick func()
	switch topic.Route(topicStr) {
	case RouteBars:
		symbol, _ := params["symbol"].(string)
		resolution, _ := params["resolution"].(string)
		if symbol == "" || resolution == "" {
			return fmt.Errorf("bars topic %q missing symbol or resolution", topicStr)
		}
		tick = func() { e.emitBar(symbol, resolution, emit) }
	case RouteQuotes:
		symbols := stringSlice(params["symbols"])
		if len(symbols) == 0 {
			return fmt.Errorf("quotes topic %q has no symbols", topicStr)
		}
		tick = func() { e.emitQuotes(symbols, emit) }
	default:
		return fmt.Errorf("datafeed does not serve route %q", topic.Route(topicStr))
	}

	if !e.cfg.Enabled {
		e.logger.Debug().Str("topic", topicStr).Msg("broadcaster disabled, topic registered without generator")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if _, exists := e.generators[topicStr]; exists {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("generator already running for topic %q", topicStr)
	}
	e.generators[topicStr] = cancel
	e.mu.Unlock()

	metrics.DatafeedGenerators.Inc()
	e.wg.Add(1)
	go e.run(ctx, topicStr, tick)
	return nil
}

// RemoveTopic cancels the topic's generator. Called by a route when the
// last subscriber leaves.
func (e *Engine) RemoveTopic(topicStr string) {
	e.mu.Lock()
	cancel, ok := e.generators[topicStr]
	if ok {
		delete(e.generators, topicStr)
	}
	e.mu.Unlock()
	if ok {
		cancel()
		metrics.DatafeedGenerators.Dec()
	}
}

// GeneratorCount reports running generator tasks.
func (e *Engine) GeneratorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.generators)
}

// Shutdown cancels all generators and waits for them to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for t, cancel := range e.generators {
		cancel()
		delete(e.generators, t)
		metrics.DatafeedGenerators.Dec()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// run is the per-topic generator loop. A failing tick is logged and the
// loop continues; the task never tears itself down implicitly.
func (e *Engine) run(ctx context.Context, topicStr string, tick func()) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeTick(topicStr, tick)
		}
	}
}

func (e *Engine) safeTick(topicStr string, tick func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("topic", topicStr).Interface("panic_value", r).Msg("generator tick panicked")
		}
	}()
	tick()
}

// stateLocked returns (creating on demand) the walk state for a
// symbol. Caller holds e.mu.
func (e *Engine) stateLocked(symbol string) *symbolState {
	st, ok := e.prices[symbol]
	if !ok {
		s := seed(symbol)
		base := 50.0 + float64(s%45000)/100.0 // 50.00 .. 499.99
		st = &symbolState{
			base:      base,
			price:     base,
			prevClose: base,
			rng:       rand.New(rand.NewSource(int64(s))),
		}
		e.prices[symbol] = st
	}
	return st
}

// advance moves the symbol's random walk one step and returns the new
// price. Mean-reverting so prices stay near the seeded base.
func (e *Engine) advance(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(symbol)
	drift := (st.base - st.price) * 0.05
	step := (st.rng.Float64() - 0.5) * st.base * 0.01
	st.price = round2(st.price + drift + step)
	return st.price
}

func seed(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// round2 rounds half away from zero so negative deltas round the same
// way positive ones do.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

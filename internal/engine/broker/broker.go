// Package broker simulates a single-account brokerage: order entry,
// random execution, and the resulting accounting cascade. All state is
// guarded by one engine-wide mutex; update callbacks registered by
// routes are pure enqueue operations, so broadcasts inside the cascade
// never yield and observers always see executions, orders, equity,
// positions in that order.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/route"
	"github.com/faroukBakari/trader-pro-sub005/internal/topic"
)

// Route names served by this engine.
const (
	RouteOrders           = "orders"
	RoutePositions        = "positions"
	RouteExecutions       = "executions"
	RouteEquity           = "equity"
	RouteBrokerConnection = "broker-connection"
)

// StatusConnected is the only broker-connection status emitted today.
// Disconnect and reconnect transitions are a future extension.
const StatusConnected = "Connected"

// ConnectionStatus is the broker-connection payload.
type ConnectionStatus struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// QuoteSource resolves the current market for a symbol. The datafeed
// engine satisfies it.
type QuoteSource interface {
	LastQuote(symbol string) (bid, ask float64, ok bool)
}

const (
	defaultBalance      = 100000.0
	defaultCascadeDelay = 200 * time.Millisecond
	minAutoDelay        = time.Second
	maxAutoDelay        = 2 * time.Second
)

// Config assembles the engine.
type Config struct {
	// AutoExecute enables the background simulator. Off, orders fill
	// only through ExecuteOrder.
	AutoExecute bool
	// ExecutionDelay fixes the simulator sleep; zero means a random
	// duration in [1s, 2s) per iteration.
	ExecutionDelay time.Duration
	// CascadeDelay is the realism pause before a fill lands. Zero
	// selects the 200ms default; tests set it negative to skip.
	CascadeDelay time.Duration
	// Quotes, when set, resolves market prices for incoming orders.
	Quotes QuoteSource
	// InitialBalance seeds the account; zero selects 100000.
	InitialBalance float64
}

// Engine owns orders, positions, executions and accounting for the
// single simulated account.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	orders       map[string]*Order
	orderSeq     int
	positions    map[string]*Position
	executions   []Execution
	accounting   Accounting
	unrealized   map[string]float64
	callbacks    map[string]route.EmitFunc
	simCancel    context.CancelFunc
	cascadeDelay time.Duration

	wg sync.WaitGroup
}

func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.InitialBalance == 0 {
		cfg.InitialBalance = defaultBalance
	}
	delay := cfg.CascadeDelay
	switch {
	case delay == 0:
		delay = defaultCascadeDelay
	case delay < 0:
		delay = 0
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "broker").Logger(),
		orders:     make(map[string]*Order),
		positions:  make(map[string]*Position),
		executions: make([]Execution, 0, 64),
		accounting: Accounting{
			Balance: cfg.InitialBalance,
			Equity:  cfg.InitialBalance,
		},
		unrealized:   make(map[string]float64),
		callbacks:    make(map[string]route.EmitFunc),
		cascadeDelay: delay,
	}
}

// CreateTopic registers the route's emit callback for the topic type.
// One callback per type, shared by every parameter variant; the engine
// serves a single logical account. The first registration starts the
// simulator; broker-connection additionally gets an immediate
// Connected status so the subscriber never waits for a periodic tick.
func (e *Engine) CreateTopic(topicStr string, emit route.EmitFunc) error {
	topicType := topic.Route(topicStr)
	switch topicType {
	case RouteOrders, RoutePositions, RouteExecutions, RouteEquity, RouteBrokerConnection:
	default:
		return fmt.Errorf("broker does not serve route %q", topicType)
	}

	e.mu.Lock()
	if _, exists := e.callbacks[topicType]; !exists {
		e.callbacks[topicType] = emit
	}
	e.startSimulatorLocked()
	e.mu.Unlock()

	if topicType == RouteBrokerConnection {
		emit(ConnectionStatus{Status: StatusConnected, Timestamp: time.Now().UnixMilli()})
	}
	return nil
}

// RemoveTopic drops the callback for the topic type and stops the
// simulator when no callbacks remain.
func (e *Engine) RemoveTopic(topicStr string) {
	topicType := topic.Route(topicStr)

	e.mu.Lock()
	delete(e.callbacks, topicType)
	var cancel context.CancelFunc
	if len(e.callbacks) == 0 && e.simCancel != nil {
		cancel = e.simCancel
		e.simCancel = nil
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Shutdown stops the simulator and waits for it to exit. A cascade in
// flight completes first.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	cancel := e.simCancel
	e.simCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// SimulatorRunning reports whether the background execution task is up.
func (e *Engine) SimulatorRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.simCancel != nil
}

// emitLocked fires the registered callback for a topic type. Caller
// holds e.mu; callbacks are enqueue-only so this never blocks.
func (e *Engine) emitLocked(topicType string, payload any) {
	if cb, ok := e.callbacks[topicType]; ok {
		cb(payload)
	}
}

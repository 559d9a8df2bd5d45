package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faroukBakari/trader-pro-sub005/internal/topic"
)

// recorder captures broadcasts in arrival order, standing in for the
// route pumps.
type recorder struct {
	mu     sync.Mutex
	events []event
}

type event struct {
	topicType string
	payload   any
}

func (r *recorder) emitFor(topicType string) func(any) {
	return func(payload any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event{topicType: topicType, payload: payload})
	}
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	e := New(Config{CascadeDelay: -1}, zerolog.Nop())
	t.Cleanup(e.Shutdown)

	rec := &recorder{}
	for _, tt := range []string{RouteExecutions, RouteOrders, RouteEquity, RoutePositions} {
		topicStr, err := topic.Build(tt, map[string]any{"accountId": "TEST-001"})
		require.NoError(t, err)
		require.NoError(t, e.CreateTopic(topicStr, rec.emitFor(tt)))
	}
	return e, rec
}

func ptr(v float64) *float64 { return &v }

func placeAndFill(t *testing.T, e *Engine, side Side, qty, price float64) string {
	t.Helper()
	id, err := e.PlaceOrder(PreOrder{
		Symbol:     "AAPL",
		Type:       OrderMarket,
		Side:       side,
		Qty:        qty,
		LimitPrice: ptr(price),
	})
	require.NoError(t, err)
	require.NoError(t, e.ExecuteOrder(id))
	return id
}

func TestCascadeOrdering(t *testing.T) {
	e, rec := newTestEngine(t)

	id, err := e.PlaceOrder(PreOrder{
		Symbol:     "AAPL",
		Type:       OrderMarket,
		Side:       SideBuy,
		Qty:        10,
		LimitPrice: ptr(150),
	})
	require.NoError(t, err)
	rec.reset() // drop the placement broadcast
	require.NoError(t, e.ExecuteOrder(id))

	events := rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, RouteExecutions, events[0].topicType)
	assert.Equal(t, RouteOrders, events[1].topicType)
	assert.Equal(t, RouteEquity, events[2].topicType)
	assert.Equal(t, RoutePositions, events[3].topicType)

	exec := events[0].payload.(Execution)
	assert.Equal(t, "AAPL", exec.Symbol)
	assert.Equal(t, 150.0, exec.Price)
	assert.Equal(t, 10.0, exec.Qty)
	assert.Equal(t, SideBuy, exec.Side)

	order := events[1].payload.(Order)
	assert.Equal(t, id, order.ID)
	assert.Equal(t, StatusFilled, order.Status)
	assert.Equal(t, 10.0, order.FilledQty)
	require.NotNil(t, order.AvgPrice)
	assert.Equal(t, 150.0, *order.AvgPrice)

	acct := events[2].payload.(Accounting)
	assert.Equal(t, 100000.0, acct.Balance)
	assert.Equal(t, 0.0, acct.UnrealizedPL)
	assert.Equal(t, 100000.0, acct.Equity)

	pos := events[3].payload.(Position)
	assert.Equal(t, Position{Symbol: "AAPL", Side: SideBuy, Qty: 10, AvgPrice: 150}, pos)
}

func TestClosePosition(t *testing.T) {
	e, rec := newTestEngine(t)

	placeAndFill(t, e, SideBuy, 10, 150)
	rec.reset()
	placeAndFill(t, e, SideSell, 10, 155)

	events := rec.all()
	require.Len(t, events, 5) // placement + cascade of four

	acct := events[3].payload.(Accounting)
	assert.Equal(t, 100050.0, acct.Balance)
	assert.Equal(t, 50.0, acct.RealizedPL)
	assert.Equal(t, 0.0, acct.UnrealizedPL)
	assert.Equal(t, 100050.0, acct.Equity)

	pos := events[4].payload.(Position)
	assert.Equal(t, "AAPL", pos.Symbol)
	assert.Equal(t, 0.0, pos.Qty)

	assert.Empty(t, e.Positions(), "closed position must be deleted after the qty=0 broadcast")
}

func TestFlipPosition(t *testing.T) {
	e, rec := newTestEngine(t)

	placeAndFill(t, e, SideBuy, 10, 150)
	rec.reset()
	placeAndFill(t, e, SideSell, 15, 155)

	events := rec.all()
	require.Len(t, events, 5)

	pos := events[4].payload.(Position)
	assert.Equal(t, Position{Symbol: "AAPL", Side: SideSell, Qty: 5, AvgPrice: 155}, pos,
		"flip broadcasts the flipped state, not an intermediate qty=0")

	acct := e.Account()
	assert.Equal(t, 50.0, acct.RealizedPL)

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, SideSell, positions[0].Side)
	assert.Equal(t, 5.0, positions[0].Qty)
}

func TestAverageUp(t *testing.T) {
	e, _ := newTestEngine(t)

	placeAndFill(t, e, SideBuy, 10, 100)
	placeAndFill(t, e, SideBuy, 10, 110)

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 20.0, positions[0].Qty)
	assert.Equal(t, 105.0, positions[0].AvgPrice)

	acct := e.Account()
	assert.Equal(t, acct.Balance+acct.UnrealizedPL, acct.Equity)
}

func TestEquityInvariantAfterEveryBroadcast(t *testing.T) {
	e, rec := newTestEngine(t)

	placeAndFill(t, e, SideBuy, 10, 150)
	placeAndFill(t, e, SideBuy, 5, 160)
	placeAndFill(t, e, SideSell, 20, 140)
	placeAndFill(t, e, SideSell, 5, 145)

	for _, ev := range rec.all() {
		if acct, ok := ev.payload.(Accounting); ok {
			assert.Equal(t, acct.Balance+acct.UnrealizedPL, acct.Equity)
		}
	}
}

func TestExecutionPriceResolution(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name  string
		pre   PreOrder
		price float64
	}{
		{
			"market with limit price",
			PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideBuy, Qty: 1, LimitPrice: ptr(150)},
			150,
		},
		{
			"market with seen price",
			PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideBuy, Qty: 1, SeenPrice: ptr(151)},
			151,
		},
		{
			"market with no price hint",
			PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideBuy, Qty: 1},
			fallbackPrice,
		},
		{
			"limit",
			PreOrder{Symbol: "AAPL", Type: OrderLimit, Side: SideSell, Qty: 1, LimitPrice: ptr(152)},
			152,
		},
		{
			"stop",
			PreOrder{Symbol: "AAPL", Type: OrderStop, Side: SideSell, Qty: 1, StopPrice: ptr(148)},
			148,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := e.PlaceOrder(tc.pre)
			require.NoError(t, err)
			require.NoError(t, e.ExecuteOrder(id))

			order, ok := e.Order(id)
			require.True(t, ok)
			require.NotNil(t, order.AvgPrice)
			assert.Equal(t, tc.price, *order.AvgPrice)
		})
	}
}

type fixedQuotes struct{ bid, ask float64 }

func (q fixedQuotes) LastQuote(string) (float64, float64, bool) { return q.bid, q.ask, true }

func TestMarketPriceFromQuotes(t *testing.T) {
	e := New(Config{CascadeDelay: -1, Quotes: fixedQuotes{bid: 99, ask: 101}}, zerolog.Nop())
	t.Cleanup(e.Shutdown)

	buyID, err := e.PlaceOrder(PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideBuy, Qty: 1})
	require.NoError(t, err)
	buy, _ := e.Order(buyID)
	require.NotNil(t, buy.LimitPrice)
	assert.Equal(t, 101.0, *buy.LimitPrice, "buy resolves against the ask")

	sellID, err := e.PlaceOrder(PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideSell, Qty: 1})
	require.NoError(t, err)
	sell, _ := e.Order(sellID)
	require.NotNil(t, sell.LimitPrice)
	assert.Equal(t, 99.0, *sell.LimitPrice, "sell resolves against the bid")
}

func TestPlaceOrderValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name string
		pre  PreOrder
	}{
		{"missing symbol", PreOrder{Type: OrderMarket, Side: SideBuy, Qty: 1}},
		{"bad type", PreOrder{Symbol: "AAPL", Type: "iceberg", Side: SideBuy, Qty: 1}},
		{"bad side", PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: "hold", Qty: 1}},
		{"zero qty", PreOrder{Symbol: "AAPL", Type: OrderMarket, Side: SideBuy}},
		{"limit without price", PreOrder{Symbol: "AAPL", Type: OrderLimit, Side: SideBuy, Qty: 1}},
		{"stop without price", PreOrder{Symbol: "AAPL", Type: OrderStop, Side: SideBuy, Qty: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.PlaceOrder(tc.pre)
			assert.Error(t, err)
		})
	}
}

func TestModifyAndCancel(t *testing.T) {
	e, _ := newTestEngine(t)

	id, err := e.PlaceOrder(PreOrder{Symbol: "AAPL", Type: OrderLimit, Side: SideBuy, Qty: 10, LimitPrice: ptr(150)})
	require.NoError(t, err)

	require.NoError(t, e.ModifyOrder(id, OrderChanges{Qty: ptr(20), LimitPrice: ptr(149)}))
	order, _ := e.Order(id)
	assert.Equal(t, 20.0, order.Qty)
	assert.Equal(t, 149.0, *order.LimitPrice)

	require.NoError(t, e.CancelOrder(id))
	order, _ = e.Order(id)
	assert.Equal(t, StatusCanceled, order.Status)

	assert.Error(t, e.ModifyOrder(id, OrderChanges{Qty: ptr(5)}), "canceled orders are immutable")
	assert.Error(t, e.ExecuteOrder(id), "canceled orders cannot fill")
	assert.Error(t, e.CancelOrder("ORDER-404"))
}

func TestBrokerConnectionImmediateStatus(t *testing.T) {
	e := New(Config{CascadeDelay: -1}, zerolog.Nop())
	t.Cleanup(e.Shutdown)

	topicStr, err := topic.Build(RouteBrokerConnection, map[string]any{"accountId": "TEST-001"})
	require.NoError(t, err)

	var got []any
	require.NoError(t, e.CreateTopic(topicStr, func(p any) { got = append(got, p) }))
	require.Len(t, got, 1, "Connected status must be emitted synchronously on subscribe")

	status := got[0].(ConnectionStatus)
	assert.Equal(t, StatusConnected, status.Status)
	assert.Greater(t, status.Timestamp, int64(0))
}

func TestCreateTopicRejectsForeignRoute(t *testing.T) {
	e := New(Config{CascadeDelay: -1}, zerolog.Nop())
	t.Cleanup(e.Shutdown)

	topicStr, err := topic.Build("bars", map[string]any{"symbol": "AAPL", "resolution": "1"})
	require.NoError(t, err)
	assert.Error(t, e.CreateTopic(topicStr, func(any) {}))
}

func TestSimulatorLifecycle(t *testing.T) {
	e := New(Config{
		AutoExecute:    true,
		ExecutionDelay: 10 * time.Millisecond,
		CascadeDelay:   -1,
	}, zerolog.Nop())
	t.Cleanup(e.Shutdown)

	topicStr, err := topic.Build(RouteOrders, map[string]any{"accountId": "TEST-001"})
	require.NoError(t, err)

	require.NoError(t, e.CreateTopic(topicStr, func(any) {}))
	assert.True(t, e.SimulatorRunning(), "first callback starts the simulator")

	id, err := e.PlaceOrder(PreOrder{Symbol: "AAPL", Type: OrderLimit, Side: SideBuy, Qty: 1, LimitPrice: ptr(150)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		order, ok := e.Order(id)
		return ok && order.Status == StatusFilled
	}, time.Second, 5*time.Millisecond, "simulator fills the working order")

	e.RemoveTopic(topicStr)
	assert.False(t, e.SimulatorRunning(), "last callback removal stops the simulator")
}

func TestAutoExecutionDisabled(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.False(t, e.SimulatorRunning())

	id, err := e.PlaceOrder(PreOrder{Symbol: "AAPL", Type: OrderLimit, Side: SideBuy, Qty: 1, LimitPrice: ptr(150)})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	order, _ := e.Order(id)
	assert.Equal(t, StatusWorking, order.Status, "orders fill only through ExecuteOrder")
}

func TestExecutionsAppendOnly(t *testing.T) {
	e, _ := newTestEngine(t)

	placeAndFill(t, e, SideBuy, 1, 100)
	placeAndFill(t, e, SideSell, 1, 105)

	execs := e.Executions()
	require.Len(t, execs, 2)
	assert.Equal(t, SideBuy, execs[0].Side)
	assert.Equal(t, SideSell, execs[1].Side)
	assert.LessOrEqual(t, execs[0].Time, execs[1].Time)
}

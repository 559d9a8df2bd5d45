package datafeed

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faroukBakari/trader-pro-sub005/internal/topic"
)

func testEngine(t *testing.T, enabled bool) *Engine {
	t.Helper()
	e := New(Config{
		Enabled:     enabled,
		Interval:    20 * time.Millisecond,
		Symbols:     []string{"AAPL", "MSFT"},
		Resolutions: []string{"1", "5"},
	}, zerolog.Nop())
	t.Cleanup(e.Shutdown)
	return e
}

func mustTopic(t *testing.T, routeName string, params map[string]any) string {
	t.Helper()
	s, err := topic.Build(routeName, params)
	require.NoError(t, err)
	return s
}

func TestBarsGeneratorLifecycle(t *testing.T) {
	e := testEngine(t, true)
	topicStr := mustTopic(t, RouteBars, map[string]any{"symbol": "AAPL", "resolution": "1"})

	emitted := make(chan any, 16)
	require.NoError(t, e.CreateTopic(topicStr, func(p any) { emitted <- p }))
	assert.Equal(t, 1, e.GeneratorCount())

	select {
	case p := <-emitted:
		bar, ok := p.(Bar)
		require.True(t, ok, "expected a Bar payload, got %T", p)
		assert.Greater(t, bar.Close, 0.0)
		assert.GreaterOrEqual(t, bar.High, bar.Low)
		assert.Equal(t, int64(0), bar.Time%60, "1-minute bars align to minute buckets")
	case <-time.After(time.Second):
		t.Fatal("no bar emitted within deadline")
	}

	e.RemoveTopic(topicStr)
	assert.Equal(t, 0, e.GeneratorCount())

	// Drain anything in flight, then verify the stream is quiet.
	time.Sleep(50 * time.Millisecond)
	for len(emitted) > 0 {
		<-emitted
	}
	select {
	case p := <-emitted:
		t.Fatalf("update %v emitted after topic removal", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQuotesKnownAndUnknownSymbols(t *testing.T) {
	e := testEngine(t, true)
	topicStr := mustTopic(t, RouteQuotes, map[string]any{"symbols": []any{"AAPL", "BOGUS"}})

	emitted := make(chan any, 16)
	require.NoError(t, e.CreateTopic(topicStr, func(p any) { emitted <- p }))
	defer e.RemoveTopic(topicStr)

	got := map[string]Quote{}
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case p := <-emitted:
			q, ok := p.(Quote)
			require.True(t, ok, "expected a Quote payload, got %T", p)
			got[q.Symbol] = q
		case <-deadline:
			t.Fatalf("quotes for both symbols not seen, got %v", got)
		}
	}

	require.Equal(t, QuoteOK, got["AAPL"].Status)
	v, ok := got["AAPL"].Value.(QuoteValue)
	require.True(t, ok)
	assert.Greater(t, v.Ask, v.Bid)
	assert.InDelta(t, v.LastPrice, (v.Bid+v.Ask)/2, 0.02)

	assert.Equal(t, QuoteError, got["BOGUS"].Status)
	assert.Equal(t, "unknown symbol", got["BOGUS"].Value)
}

func TestCreateTopicValidation(t *testing.T) {
	e := testEngine(t, true)
	emit := func(any) {}

	tests := []struct {
		name     string
		topicStr string
	}{
		{"wrong route", mustTopic(t, "orders", map[string]any{"accountId": "ACC-1"})},
		{"bars missing resolution", mustTopic(t, RouteBars, map[string]any{"symbol": "AAPL"})},
		{"quotes empty symbols", mustTopic(t, RouteQuotes, map[string]any{"symbols": []any{}})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, e.CreateTopic(tc.topicStr, emit))
		})
	}
	assert.Equal(t, 0, e.GeneratorCount())
}

func TestDuplicateTopicRejected(t *testing.T) {
	e := testEngine(t, true)
	topicStr := mustTopic(t, RouteBars, map[string]any{"symbol": "AAPL", "resolution": "1"})
	emit := func(any) {}

	require.NoError(t, e.CreateTopic(topicStr, emit))
	assert.Error(t, e.CreateTopic(topicStr, emit))
	assert.Equal(t, 1, e.GeneratorCount())
}

func TestBroadcasterDisabled(t *testing.T) {
	e := testEngine(t, false)
	topicStr := mustTopic(t, RouteBars, map[string]any{"symbol": "AAPL", "resolution": "1"})

	require.NoError(t, e.CreateTopic(topicStr, func(any) { t.Error("disabled engine emitted an update") }))
	assert.Equal(t, 0, e.GeneratorCount())
	time.Sleep(60 * time.Millisecond)
}

func TestHistoryShape(t *testing.T) {
	e := testEngine(t, true)
	bars := e.History("MSFT", "5", 10)
	require.Len(t, bars, 10)
	for i := 1; i < len(bars); i++ {
		assert.GreaterOrEqual(t, bars[i].Time, bars[i-1].Time, "bars are ordered oldest first")
	}
	for _, b := range bars {
		assert.Equal(t, int64(0), b.Time%300)
		assert.GreaterOrEqual(t, b.High, b.Low)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{0, 0},
		{-1.224, -1.22},
		{-1.226, -1.23},
		{-1.234, -1.23},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, round2(tt.in), 1e-9, "round2(%v)", tt.in)
	}
}

func TestLastQuote(t *testing.T) {
	e := testEngine(t, true)

	bid, ask, ok := e.LastQuote("AAPL")
	require.True(t, ok)
	assert.Greater(t, ask, bid)

	_, _, ok = e.LastQuote("BOGUS")
	assert.False(t, ok)
}

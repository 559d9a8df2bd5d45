package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faroukBakari/trader-pro-sub005/internal/engine/broker"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/datafeed"
)

func testServer(t *testing.T) (*httptest.Server, *broker.Engine) {
	t.Helper()
	b := broker.New(broker.Config{CascadeDelay: -1}, zerolog.Nop())
	t.Cleanup(b.Shutdown)
	d := datafeed.New(datafeed.Config{
		Enabled:  true,
		Interval: time.Second,
		Symbols:  []string{"AAPL", "MSFT"},
	}, zerolog.Nop())
	t.Cleanup(d.Shutdown)

	mux := http.NewServeMux()
	NewHandler(b, d, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, b
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestOrderLifecycleOverREST(t *testing.T) {
	srv, _ := testServer(t)

	var placed map[string]string
	status := doJSON(t, http.MethodPost, srv.URL+"/broker/orders",
		`{"symbol":"AAPL","type":"limit","side":"buy","qty":10,"limitPrice":150}`, &placed)
	require.Equal(t, http.StatusCreated, status)
	id := placed["orderId"]
	require.NotEmpty(t, id)

	var modified broker.Order
	status = doJSON(t, http.MethodPut, srv.URL+"/broker/orders/"+id, `{"qty":20}`, &modified)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 20.0, modified.Qty)

	var orders []broker.Order
	status = doJSON(t, http.MethodGet, srv.URL+"/broker/orders", "", &orders)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, orders, 1)
	assert.Equal(t, broker.StatusWorking, orders[0].Status)

	var canceled broker.Order
	status = doJSON(t, http.MethodDelete, srv.URL+"/broker/orders/"+id, "", &canceled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, broker.StatusCanceled, canceled.Status)
}

func TestOrderErrors(t *testing.T) {
	srv, _ := testServer(t)

	status := doJSON(t, http.MethodPost, srv.URL+"/broker/orders",
		`{"symbol":"AAPL","type":"limit","side":"buy","qty":10}`, nil)
	assert.Equal(t, http.StatusBadRequest, status, "limit order without limitPrice")

	status = doJSON(t, http.MethodDelete, srv.URL+"/broker/orders/ORDER-404", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = doJSON(t, http.MethodPost, srv.URL+"/broker/orders", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAccountingSnapshot(t *testing.T) {
	srv, b := testServer(t)

	limit := 150.0
	id, err := b.PlaceOrder(broker.PreOrder{
		Symbol: "AAPL", Type: broker.OrderLimit, Side: broker.SideBuy, Qty: 10, LimitPrice: &limit,
	})
	require.NoError(t, err)
	require.NoError(t, b.ExecuteOrder(id))

	var acct broker.Accounting
	status := doJSON(t, http.MethodGet, srv.URL+"/broker/accounting", "", &acct)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, acct.Balance+acct.UnrealizedPL, acct.Equity)

	var positions []broker.Position
	status = doJSON(t, http.MethodGet, srv.URL+"/broker/positions", "", &positions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)

	var execs []broker.Execution
	status = doJSON(t, http.MethodGet, srv.URL+"/broker/executions", "", &execs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, execs, 1)
}

func TestDatafeedQueries(t *testing.T) {
	srv, _ := testServer(t)

	var quotes []datafeed.Quote
	status := doJSON(t, http.MethodGet, srv.URL+"/datafeed/quotes?symbols=AAPL,BOGUS", "", &quotes)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, quotes, 2)
	assert.Equal(t, datafeed.QuoteOK, quotes[0].Status)
	assert.Equal(t, datafeed.QuoteError, quotes[1].Status)

	var bars []datafeed.Bar
	status = doJSON(t, http.MethodGet, srv.URL+"/datafeed/bars?symbol=AAPL&resolution=5&count=20", "", &bars)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, bars, 20)

	status = doJSON(t, http.MethodGet, srv.URL+"/datafeed/bars?symbol=AAPL", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodGet, srv.URL+"/datafeed/quotes", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

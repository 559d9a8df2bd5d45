// Package rest exposes the broker entry points and datafeed query
// endpoints over plain HTTP. The WebSocket fabric carries the streams;
// this surface exists for order entry and snapshot reads.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/engine/broker"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/datafeed"
	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

type Handler struct {
	broker   *broker.Engine
	datafeed *datafeed.Engine
	logger   zerolog.Logger
}

func NewHandler(b *broker.Engine, d *datafeed.Engine, logger zerolog.Logger) *Handler {
	return &Handler{
		broker:   b,
		datafeed: d,
		logger:   logger.With().Str("component", "rest").Logger(),
	}
}

// Register mounts all endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /broker/orders", h.placeOrder)
	mux.HandleFunc("PUT /broker/orders/{id}", h.modifyOrder)
	mux.HandleFunc("DELETE /broker/orders/{id}", h.cancelOrder)
	mux.HandleFunc("GET /broker/orders", h.listOrders)
	mux.HandleFunc("GET /broker/positions", h.listPositions)
	mux.HandleFunc("GET /broker/executions", h.listExecutions)
	mux.HandleFunc("GET /broker/accounting", h.accounting)
	mux.HandleFunc("GET /datafeed/quotes", h.quotes)
	mux.HandleFunc("GET /datafeed/bars", h.bars)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var pre broker.PreOrder
	if err := json.NewDecoder(r.Body).Decode(&pre); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.broker.PlaceOrder(pre)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"orderId": id})
}

func (h *Handler) modifyOrder(w http.ResponseWriter, r *http.Request) {
	var changes broker.OrderChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if err := h.broker.ModifyOrder(id, changes); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	order, _ := h.broker.Order(id)
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.broker.CancelOrder(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	order, _ := h.broker.Order(id)
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Orders())
}

func (h *Handler) listPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Positions())
}

func (h *Handler) listExecutions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Executions())
}

func (h *Handler) accounting(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Account())
}

func (h *Handler) quotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	symbols := strings.Split(raw, ",")
	writeJSON(w, http.StatusOK, h.datafeed.Snapshot(symbols))
}

func (h *Handler) bars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	resolution := q.Get("resolution")
	if symbol == "" || resolution == "" {
		writeError(w, http.StatusBadRequest, "symbol and resolution query parameters are required")
		return
	}
	count := 50
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 5000 {
			writeError(w, http.StatusBadRequest, "count must be an integer in [1, 5000]")
			return
		}
		count = n
	}
	writeJSON(w, http.StatusOK, h.datafeed.History(symbol, resolution, count))
}

// statusFor maps engine errors onto HTTP statuses. Validation failures
// are the caller's fault; everything else is a state conflict.
func statusFor(err error) int {
	if errors.Is(err, protocol.ErrValidation) || errors.Is(err, protocol.ErrInvalidParams) {
		return http.StatusBadRequest
	}
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package broker

import (
	"fmt"
	"sort"
	"time"

	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// sign is the quantity sign convention: buy +1, sell -1.
func (s Side) sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

type OrderStatus string

const (
	StatusWorking  OrderStatus = "working"
	StatusFilled   OrderStatus = "filled"
	StatusRejected OrderStatus = "rejected"
	StatusCanceled OrderStatus = "canceled"
)

// Order is one broker order. Price pointers distinguish absent from
// zero on the wire.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Type       OrderType   `json:"type"`
	Side       Side        `json:"side"`
	Qty        float64     `json:"qty"`
	LimitPrice *float64    `json:"limitPrice,omitempty"`
	StopPrice  *float64    `json:"stopPrice,omitempty"`
	Status     OrderStatus `json:"status"`
	FilledQty  float64     `json:"filledQty"`
	AvgPrice   *float64    `json:"avgPrice,omitempty"`
	UpdateTime int64       `json:"updateTime"`
}

// PreOrder is the order entry request. SeenPrice is the price the
// client saw when submitting, used as a market price fallback.
type PreOrder struct {
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	LimitPrice *float64  `json:"limitPrice,omitempty"`
	StopPrice  *float64  `json:"stopPrice,omitempty"`
	SeenPrice  *float64  `json:"seenPrice,omitempty"`
}

func (p PreOrder) validate() error {
	if p.Symbol == "" {
		return protocol.ValidationError("symbol", "is required")
	}
	switch p.Type {
	case OrderMarket:
	case OrderLimit:
		if p.LimitPrice == nil {
			return protocol.ValidationError("limitPrice", "is required for limit orders")
		}
	case OrderStop:
		if p.StopPrice == nil {
			return protocol.ValidationError("stopPrice", "is required for stop orders")
		}
	default:
		return protocol.ValidationError("type", "must be market, limit or stop")
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return protocol.ValidationError("side", "must be buy or sell")
	}
	if p.Qty <= 0 {
		return protocol.ValidationError("qty", "must be positive")
	}
	return nil
}

// PlaceOrder accepts a pre-order and returns the new working order's
// id. The resolved limit price falls back from the request to the
// seen price to the live quote.
func (e *Engine) PlaceOrder(pre PreOrder) (string, error) {
	if err := pre.validate(); err != nil {
		return "", err
	}

	limit := pre.LimitPrice
	if limit == nil {
		limit = pre.SeenPrice
	}
	if limit == nil && e.cfg.Quotes != nil {
		if bid, ask, ok := e.cfg.Quotes.LastQuote(pre.Symbol); ok {
			px := ask
			if pre.Side == SideSell {
				px = bid
			}
			limit = &px
		}
	}

	e.mu.Lock()
	e.orderSeq++
	order := &Order{
		ID:         fmt.Sprintf("ORDER-%d", e.orderSeq),
		Symbol:     pre.Symbol,
		Type:       pre.Type,
		Side:       pre.Side,
		Qty:        pre.Qty,
		LimitPrice: limit,
		StopPrice:  pre.StopPrice,
		Status:     StatusWorking,
		UpdateTime: time.Now().UnixMilli(),
	}
	e.orders[order.ID] = order
	e.emitLocked(RouteOrders, *order)
	e.mu.Unlock()

	e.logger.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Msg("order placed")
	return order.ID, nil
}

// OrderChanges carries the mutable fields of a working order. Nil
// means leave unchanged.
type OrderChanges struct {
	Qty        *float64 `json:"qty,omitempty"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
	StopPrice  *float64 `json:"stopPrice,omitempty"`
}

// ModifyOrder updates a working order in place and broadcasts the new
// state.
func (e *Engine) ModifyOrder(id string, changes OrderChanges) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("order %q not found", id)
	}
	if order.Status != StatusWorking {
		return fmt.Errorf("order %q is %s, only working orders can be modified", id, order.Status)
	}
	if changes.Qty != nil {
		if *changes.Qty <= 0 {
			return protocol.ValidationError("qty", "must be positive")
		}
		order.Qty = *changes.Qty
	}
	if changes.LimitPrice != nil {
		order.LimitPrice = changes.LimitPrice
	}
	if changes.StopPrice != nil {
		order.StopPrice = changes.StopPrice
	}
	order.UpdateTime = time.Now().UnixMilli()
	e.emitLocked(RouteOrders, *order)
	return nil
}

// CancelOrder moves a working order to canceled and broadcasts it.
func (e *Engine) CancelOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("order %q not found", id)
	}
	if order.Status != StatusWorking {
		return fmt.Errorf("order %q is %s, only working orders can be canceled", id, order.Status)
	}
	order.Status = StatusCanceled
	order.UpdateTime = time.Now().UnixMilli()
	e.emitLocked(RouteOrders, *order)
	return nil
}

// Order returns a copy of one order.
func (e *Engine) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

// Orders snapshots all orders sorted by id.
func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

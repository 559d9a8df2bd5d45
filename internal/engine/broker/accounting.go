package broker

import "sort"

// Position is the account's net exposure in one symbol. A qty=0
// position is broadcast once to signal closure, then removed.
type Position struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avgPrice"`
}

// Execution is one fill, append-only.
type Execution struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
	Side   Side    `json:"side"`
	Time   int64   `json:"time"`
}

// Accounting is the account summary. Equity always equals balance plus
// unrealized PnL.
type Accounting struct {
	Balance      float64 `json:"balance"`
	RealizedPL   float64 `json:"realizedPL"`
	UnrealizedPL float64 `json:"unrealizedPL"`
	Equity       float64 `json:"equity"`
}

// applyExecutionLocked folds one fill into the position book and the
// account, then broadcasts equity followed by positions. The mark
// price is the execution price, so a fresh fill contributes zero
// unrealized PnL; a real mark feed is the extension point here.
// Caller holds e.mu.
func (e *Engine) applyExecutionLocked(exec Execution) {
	pos, exists := e.positions[exec.Symbol]

	switch {
	case !exists || pos.Qty == 0:
		pos = &Position{
			Symbol:   exec.Symbol,
			Side:     exec.Side,
			Qty:      exec.Qty,
			AvgPrice: exec.Price,
		}
		e.positions[exec.Symbol] = pos
		e.unrealized[exec.Symbol] = 0
		e.refreshAccountingLocked()
		e.emitLocked(RouteEquity, e.accounting)
		e.emitLocked(RoutePositions, *pos)

	case pos.Side == exec.Side:
		newQty := pos.Qty + exec.Qty
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + exec.Price*exec.Qty) / newQty
		pos.Qty = newQty
		e.unrealized[exec.Symbol] = (exec.Price - pos.AvgPrice) * pos.Side.sign() * pos.Qty
		e.refreshAccountingLocked()
		e.emitLocked(RouteEquity, e.accounting)
		e.emitLocked(RoutePositions, *pos)

	default:
		fillQty := pos.Qty
		if exec.Qty < fillQty {
			fillQty = exec.Qty
		}
		realized := (exec.Price - pos.AvgPrice) * pos.Side.sign() * fillQty
		e.accounting.Balance += realized
		e.accounting.RealizedPL += realized

		remaining := pos.Qty*pos.Side.sign() + exec.Qty*exec.Side.sign()
		if remaining == 0 {
			pos.Qty = 0
			delete(e.unrealized, exec.Symbol)
			e.refreshAccountingLocked()
			e.emitLocked(RouteEquity, e.accounting)
			e.emitLocked(RoutePositions, *pos)
			delete(e.positions, exec.Symbol)
			return
		}

		// Flip: the remainder is a fresh entry at the fill price.
		pos.Side = exec.Side
		if remaining < 0 {
			pos.Qty = -remaining
		} else {
			pos.Qty = remaining
		}
		pos.AvgPrice = exec.Price
		e.unrealized[exec.Symbol] = 0
		e.refreshAccountingLocked()
		e.emitLocked(RouteEquity, e.accounting)
		e.emitLocked(RoutePositions, *pos)
	}
}

// refreshAccountingLocked recomputes the unrealized total and equity.
func (e *Engine) refreshAccountingLocked() {
	total := 0.0
	for _, u := range e.unrealized {
		total += u
	}
	e.accounting.UnrealizedPL = total
	e.accounting.Equity = e.accounting.Balance + total
}

// Positions snapshots open positions sorted by symbol.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Executions snapshots the fill log, oldest first.
func (e *Engine) Executions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, len(e.executions))
	copy(out, e.executions)
	return out
}

// Account snapshots the accounting summary.
func (e *Engine) Account() Accounting {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accounting
}

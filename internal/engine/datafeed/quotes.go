package datafeed

// Quote is one per-symbol quote update. Value carries QuoteValue on
// success or a plain error string when the symbol is unknown.
type Quote struct {
	Status string `json:"status"`
	Symbol string `json:"symbol"`
	Value  any    `json:"value"`
}

type QuoteValue struct {
	LastPrice     float64 `json:"lp"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	Change        float64 `json:"ch"`
	ChangePercent float64 `json:"chp"`
}

const (
	QuoteOK    = "ok"
	QuoteError = "error"
)

// emitQuotes publishes one quote per requested symbol. Unknown symbols
// produce an error quote on the same stream rather than failing the
// subscription.
func (e *Engine) emitQuotes(symbols []string, emit func(payload any)) {
	for _, symbol := range symbols {
		emit(e.quote(symbol))
	}
}

func (e *Engine) quote(symbol string) Quote {
	if _, known := e.universe[symbol]; !known {
		return Quote{Status: QuoteError, Symbol: symbol, Value: "unknown symbol"}
	}
	lp := e.advance(symbol)

	e.mu.Lock()
	st := e.prices[symbol]
	prev := st.prevClose
	half := st.base * 0.001
	e.mu.Unlock()

	ch := round2(lp - prev)
	chp := 0.0
	if prev != 0 {
		chp = round2(ch / prev * 100)
	}
	return Quote{
		Status: QuoteOK,
		Symbol: symbol,
		Value: QuoteValue{
			LastPrice:     lp,
			Bid:           round2(lp - half),
			Ask:           round2(lp + half),
			Change:        ch,
			ChangePercent: chp,
		},
	}
}

// Snapshot returns current quotes for the given symbols, serving the
// REST query surface.
func (e *Engine) Snapshot(symbols []string) []Quote {
	out := make([]Quote, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, e.quote(symbol))
	}
	return out
}

// LastQuote exposes the current bid/ask for a known symbol. The broker
// engine uses it to resolve market order prices.
func (e *Engine) LastQuote(symbol string) (bid, ask float64, ok bool) {
	if _, known := e.universe[symbol]; !known {
		return 0, 0, false
	}
	e.mu.Lock()
	st := e.stateLocked(symbol)
	lp := st.price
	half := st.base * 0.001
	e.mu.Unlock()
	return round2(lp - half), round2(lp + half), true
}

package datafeed

import "time"

// Bar is one OHLCV candle. Time is unix seconds at the bucket start.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// resolutionSeconds maps a TradingView-style resolution to its bucket
// width. Unknown resolutions fall back to one minute.
func resolutionSeconds(resolution string) int64 {
	switch resolution {
	case "1":
		return 60
	case "5":
		return 300
	case "15":
		return 900
	case "60":
		return 3600
	case "1D", "D":
		return 86400
	default:
		return 60
	}
}

// emitBar advances the symbol walk and publishes one bar built around
// the step.
func (e *Engine) emitBar(symbol, resolution string, emit func(payload any)) {
	emit(e.nextBar(symbol, resolution, time.Now()))
}

func (e *Engine) nextBar(symbol, resolution string, now time.Time) Bar {
	e.mu.Lock()
	st := e.stateLocked(symbol)
	open := st.price
	drift := (st.base - st.price) * 0.05
	step := (st.rng.Float64() - 0.5) * st.base * 0.01
	close_ := round2(st.price + drift + step)
	spread := st.base * 0.002 * st.rng.Float64()
	volume := 100 + st.rng.Int63n(9900)
	st.price = close_
	e.mu.Unlock()

	high := open
	if close_ > high {
		high = close_
	}
	low := open
	if close_ < low {
		low = close_
	}

	bucket := resolutionSeconds(resolution)
	return Bar{
		Time:   now.Unix() / bucket * bucket,
		Open:   open,
		High:   round2(high + spread),
		Low:    round2(low - spread),
		Close:  close_,
		Volume: volume,
	}
}

// History synthesizes the most recent count bars for a symbol, newest
// last. Serves the REST query surface; the walk state is shared with
// the live generators.
func (e *Engine) History(symbol, resolution string, count int) []Bar {
	if count <= 0 {
		count = 1
	}
	bucket := resolutionSeconds(resolution)
	now := time.Now()
	bars := make([]Bar, 0, count)
	for i := count - 1; i >= 0; i-- {
		at := now.Add(-time.Duration(int64(i)*bucket) * time.Second)
		bars = append(bars, e.nextBar(symbol, resolution, at))
	}
	return bars
}

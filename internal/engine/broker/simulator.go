package broker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/faroukBakari/trader-pro-sub005/internal/logging"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
)

// startSimulatorLocked launches the execution loop if it is not
// running and auto-execution is enabled. Caller holds e.mu.
func (e *Engine) startSimulatorLocked() {
	if e.simCancel != nil || !e.cfg.AutoExecute {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.simCancel = cancel
	e.wg.Add(1)
	go e.runSimulator(ctx)
}

// runSimulator fills one randomly chosen working order per iteration.
// Cancellation is honored at the sleep; a cascade already past the
// sleep runs to completion so observers never see a half-applied fill.
func (e *Engine) runSimulator(ctx context.Context) {
	defer e.wg.Done()
	defer logging.RecoverPanic(e.logger, "executionSimulator")

	e.logger.Info().Msg("execution simulator started")
	defer e.logger.Info().Msg("execution simulator stopped")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		delay := e.cfg.ExecutionDelay
		if delay <= 0 {
			delay = minAutoDelay + time.Duration(rng.Int63n(int64(maxAutoDelay-minAutoDelay)))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		id, ok := e.pickWorking(rng)
		if !ok {
			continue
		}
		if err := e.ExecuteOrder(id); err != nil {
			e.logger.Warn().Err(err).Str("order_id", id).Msg("simulated execution failed")
		}
	}
}

// pickWorking selects a working order uniformly at random.
func (e *Engine) pickWorking(rng *rand.Rand) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	working := make([]string, 0, len(e.orders))
	for id, o := range e.orders {
		if o.Status == StatusWorking {
			working = append(working, id)
		}
	}
	if len(working) == 0 {
		return "", false
	}
	return working[rng.Intn(len(working))], true
}

// ExecuteOrder runs the full execution cascade for one order: append
// the fill, mark the order filled, then update accounting and the
// position. The four broadcasts land in executions, orders, equity,
// positions order under a single lock hold, so no other cascade can
// interleave.
func (e *Engine) ExecuteOrder(id string) error {
	if e.cascadeDelay > 0 {
		time.Sleep(e.cascadeDelay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("order %q not found", id)
	}
	if order.Status != StatusWorking {
		return fmt.Errorf("order %q is %s, not working", id, order.Status)
	}

	price, err := executionPrice(order)
	if err != nil {
		return err
	}

	exec := Execution{
		Symbol: order.Symbol,
		Price:  price,
		Qty:    order.Qty,
		Side:   order.Side,
		Time:   time.Now().UnixMilli(),
	}
	e.executions = append(e.executions, exec)
	e.emitLocked(RouteExecutions, exec)

	order.Status = StatusFilled
	order.FilledQty = order.Qty
	order.AvgPrice = &price
	order.UpdateTime = exec.Time
	e.emitLocked(RouteOrders, *order)

	e.applyExecutionLocked(exec)

	metrics.SimulatedExecutions.Inc()
	e.logger.Info().
		Str("order_id", id).
		Str("symbol", exec.Symbol).
		Float64("price", exec.Price).
		Float64("qty", exec.Qty).
		Msg("order executed")
	return nil
}

// fallbackPrice fills a market order that carries no price hint at all.
const fallbackPrice = 100.0

func executionPrice(order *Order) (float64, error) {
	switch order.Type {
	case OrderMarket:
		if order.LimitPrice != nil {
			return *order.LimitPrice, nil
		}
		return fallbackPrice, nil
	case OrderLimit:
		if order.LimitPrice == nil {
			return 0, fmt.Errorf("limit order %q has no limit price", order.ID)
		}
		return *order.LimitPrice, nil
	case OrderStop:
		if order.StopPrice == nil {
			return 0, fmt.Errorf("stop order %q has no stop price", order.ID)
		}
		return *order.StopPrice, nil
	default:
		return 0, fmt.Errorf("order %q has unknown type %q", order.ID, order.Type)
	}
}

package route

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/logging"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

// Item is one pending update for a topic.
type Item struct {
	Topic   string
	Payload any
}

// FanoutFunc receives every serialized update the pump delivers, for
// optional republication to an external bus. Must not block.
type FanoutFunc func(route, topic string, update []byte)

// Pump is the per-route outbound queue. A single worker drains it, so
// updates for one topic reach every subscriber in enqueue order. The
// queue is bounded; on overflow the oldest item for the route is
// dropped and counted — updates are advisory streams, not durable logs.
type Pump struct {
	route  *Route
	queue  chan Item
	logger zerolog.Logger
	fanout FanoutFunc

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	dropped atomic.Int64
}

func newPump(r *Route, capacity int, fanout FanoutFunc, logger zerolog.Logger) *Pump {
	return &Pump{
		route:  r,
		queue:  make(chan Item, capacity),
		logger: logger,
		fanout: fanout,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue adds an update without ever blocking the producer. If the
// queue is full the oldest entry is evicted first.
func (p *Pump) Enqueue(it Item) {
	for {
		select {
		case p.queue <- it:
			return
		default:
		}
		select {
		case <-p.queue:
			p.dropped.Add(1)
			metrics.BroadcastsDropped.WithLabelValues(p.route.name).Inc()
		default:
		}
	}
}

// Dropped returns how many updates were evicted from a full queue.
func (p *Pump) Dropped() int64 {
	return p.dropped.Load()
}

// Start launches the drain worker.
func (p *Pump) Start() {
	go p.run()
}

// Stop drains whatever is queued, then stops the worker. Safe to call
// more than once.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pump) run() {
	defer logging.RecoverPanic(p.logger, "broadcastPump")
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			// Drain the backlog before exiting.
			for {
				select {
				case it := <-p.queue:
					p.deliver(it)
				default:
					return
				}
			}
		case it := <-p.queue:
			p.deliver(it)
		}
	}
}

// deliver serializes the update once and writes it to every confirmed
// subscriber of the topic. Send failures are a per-client concern: the
// client's strike policy schedules its own teardown, the pump never
// retries.
func (p *Pump) deliver(it Item) {
	subscribers := p.route.confirmedSubscribers(it.Topic)
	if len(subscribers) == 0 && p.fanout == nil {
		return
	}

	raw, err := json.Marshal(it.Payload)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", it.Topic).Msg("failed to serialize update payload")
		return
	}
	frame, err := protocol.Marshal(
		protocol.MessageType(p.route.name, protocol.OpUpdate),
		protocol.Update{Topic: it.Topic, Payload: raw},
	)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", it.Topic).Msg("failed to serialize update envelope")
		return
	}

	for _, client := range subscribers {
		if client.Send(frame) {
			metrics.UpdatesDelivered.WithLabelValues(p.route.name).Inc()
		}
	}

	if p.fanout != nil {
		p.fanout(p.route.name, it.Topic, frame)
	}
}

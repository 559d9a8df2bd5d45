package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
	"github.com/faroukBakari/trader-pro-sub005/internal/topic"
	"github.com/faroukBakari/trader-pro-sub005/internal/ws"
)

// ValidateFunc checks route-specific subscription parameters. Required
// fields only: unknown or missing fields are a validation error, since
// any divergence between request and response topic strings silently
// breaks delivery.
type ValidateFunc func(params map[string]any) error

// Route is one logical stream with its subscribe/unsubscribe protocol
// pair. It owns the per-route TopicTracker and broadcast pump; engines
// are reached only through the Engine capability interface.
type Route struct {
	name     string
	engine   Engine
	validate ValidateFunc
	logger   zerolog.Logger
	pump     *Pump

	// mu serializes all registry mutation for this route (single
	// writer), so first/last subscriber transitions are observed
	// exactly once even against concurrent disconnects.
	mu          sync.Mutex
	tracker     *Tracker
	subscribers map[string]map[*ws.Client]*subState
}

type subState struct {
	confirmed bool
}

// Config assembles a route.
type Config struct {
	Name          string
	Engine        Engine
	Validate      ValidateFunc
	QueueCapacity int
	Fanout        FanoutFunc
	Logger        zerolog.Logger
}

func New(cfg Config) *Route {
	r := &Route{
		name:        cfg.Name,
		engine:      cfg.Engine,
		validate:    cfg.Validate,
		logger:      cfg.Logger.With().Str("route", cfg.Name).Logger(),
		tracker:     NewTracker(),
		subscribers: make(map[string]map[*ws.Client]*subState),
	}
	r.pump = newPump(r, cfg.QueueCapacity, cfg.Fanout, r.logger)
	return r
}

// Name returns the route identifier used in message types and topics.
func (r *Route) Name() string { return r.name }

// Pump exposes the broadcast pump for lifecycle control.
func (r *Route) Pump() *Pump { return r.pump }

// Publish enqueues an update for fan-out. This is the EmitFunc handed
// to engines: a pure enqueue, safe to call under engine locks.
func (r *Route) Publish(topicStr string, payload any) {
	r.pump.Enqueue(Item{Topic: topicStr, Payload: payload})
}

// HandleSubscribe processes a "<route>.subscribe" payload and replies
// on the same connection. Subscribe failures never tear the
// connection down.
func (r *Route) HandleSubscribe(c *ws.Client, raw json.RawMessage) {
	params, listenerID, err := r.decodeParams(raw)
	if err != nil {
		r.replyError(c, protocol.OpSubscribeResponse, err)
		return
	}

	topicStr, err := topic.Build(r.name, params)
	if err != nil {
		r.replyError(c, protocol.OpSubscribeResponse, err)
		return
	}
	if listenerID == "" {
		listenerID = topicStr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Duplicate subscribe from the same listener is idempotent: no
	// double increment, the response is simply repeated. The same id on
	// a different topic is a client bug.
	if existing, ok := c.Listener(listenerID); ok {
		if existing.Topic == topicStr && existing.Route == r.name {
			r.reply(c, protocol.OpSubscribeResponse, protocol.SubscribeResponse{
				Status: protocol.StatusOK,
				Topic:  topicStr,
			})
			return
		}
		r.replyError(c, protocol.OpSubscribeResponse,
			protocol.ValidationError("listenerId", fmt.Sprintf("already bound to topic %q", existing.Topic)))
		return
	}

	// First subscriber starts the producer, before the client is
	// registered, so an engine that emits synchronously observes a
	// consistent registry.
	first := r.tracker.Inc(topicStr)
	if first {
		if err := r.engine.CreateTopic(topicStr, func(payload any) {
			r.Publish(topicStr, payload)
		}); err != nil {
			r.tracker.Dec(topicStr)
			r.logger.Error().Err(err).Str("topic", topicStr).Msg("engine rejected topic")
			r.replyError(c, protocol.OpSubscribeResponse, fmt.Errorf("%w: %v", protocol.ErrEngineBusy, err))
			return
		}
		metrics.TopicsActive.WithLabelValues(r.name).Inc()
	}

	c.AddListener(listenerID, ws.Listener{Route: r.name, Topic: topicStr})
	subs := r.subscribers[topicStr]
	if subs == nil {
		subs = make(map[*ws.Client]*subState)
		r.subscribers[topicStr] = subs
	}
	state := &subState{}
	subs[c] = state
	metrics.SubscriptionsActive.WithLabelValues(r.name).Inc()

	// The ack is enqueued before the subscription is confirmed; the
	// per-connection send channel is FIFO, so the client always sees
	// the response before any update for this topic.
	r.reply(c, protocol.OpSubscribeResponse, protocol.SubscribeResponse{
		Status: protocol.StatusOK,
		Topic:  topicStr,
	})
	state.confirmed = true

	r.logger.Debug().
		Str("client_id", c.ID).
		Str("topic", topicStr).
		Int("subscribers", r.tracker.Count(topicStr)).
		Msg("client subscribed")
}

// HandleUnsubscribe processes a "<route>.unsubscribe" payload. Unknown
// listeners are acknowledged as a no-op, not an error.
func (r *Route) HandleUnsubscribe(c *ws.Client, raw json.RawMessage) {
	params, listenerID, err := r.decodeParams(raw)
	if err != nil {
		r.replyError(c, protocol.OpUnsubscribeResponse, err)
		return
	}
	if listenerID == "" {
		// Without an explicit listener id the default id is the topic
		// derived from the same params the client subscribed with.
		if listenerID, err = topic.Build(r.name, params); err != nil {
			r.replyError(c, protocol.OpUnsubscribeResponse, err)
			return
		}
	}

	r.mu.Lock()
	if l, ok := c.RemoveListener(listenerID); ok && l.Route == r.name {
		r.dropLocked(c, l.Topic)
	}
	r.mu.Unlock()

	r.reply(c, protocol.OpUnsubscribeResponse, protocol.SubscribeResponse{Status: protocol.StatusOK})
}

// Drop removes one connection's subscription to a topic, called during
// disconnect teardown. The registry lock guarantees RemoveTopic fires
// at most once per topic lifecycle even when a subscribe races in.
func (r *Route) Drop(c *ws.Client, topicStr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(c, topicStr)
}

func (r *Route) dropLocked(c *ws.Client, topicStr string) {
	subs, ok := r.subscribers[topicStr]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(r.subscribers, topicStr)
	}
	metrics.SubscriptionsActive.WithLabelValues(r.name).Dec()

	if last := r.tracker.Dec(topicStr); last {
		r.engine.RemoveTopic(topicStr)
		metrics.TopicsActive.WithLabelValues(r.name).Dec()
		r.logger.Debug().Str("topic", topicStr).Msg("last subscriber left, topic removed")
	}
}

// SubscriberCount reports the tracked count for a topic.
func (r *Route) SubscriberCount(topicStr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Count(topicStr)
}

// TopicCount reports how many topics currently have subscribers.
func (r *Route) TopicCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Len()
}

// confirmedSubscribers snapshots the clients eligible for delivery.
func (r *Route) confirmedSubscribers(topicStr string) []*ws.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subscribers[topicStr]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*ws.Client, 0, len(subs))
	for c, state := range subs {
		if state.confirmed {
			out = append(out, c)
		}
	}
	return out
}

// decodeParams splits the optional listenerId out of the payload and
// validates what remains against the route schema.
func (r *Route) decodeParams(raw json.RawMessage) (map[string]any, string, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	params, err := topic.DecodeParams(raw)
	if err != nil {
		return nil, "", err
	}

	listenerID := ""
	if v, ok := params["listenerId"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, "", protocol.ValidationError("listenerId", "must be a string")
		}
		listenerID = s
		delete(params, "listenerId")
	}

	if r.validate != nil {
		if err := r.validate(params); err != nil {
			return nil, "", err
		}
	}
	return params, listenerID, nil
}

func (r *Route) reply(c *ws.Client, op string, resp protocol.SubscribeResponse) {
	frame, err := protocol.Marshal(protocol.MessageType(r.name, op), resp)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to serialize response")
		return
	}
	c.Send(frame)
}

func (r *Route) replyError(c *ws.Client, op string, cause error) {
	reason := cause.Error()
	if errors.Is(cause, protocol.ErrEngineBusy) {
		r.logger.Warn().Str("client_id", c.ID).Err(cause).Msg("subscribe failed")
	}
	r.reply(c, op, protocol.SubscribeResponse{Status: protocol.StatusError, Reason: reason})
}

package server

import (
	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/config"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/broker"
	"github.com/faroukBakari/trader-pro-sub005/internal/engine/datafeed"
	"github.com/faroukBakari/trader-pro-sub005/internal/route"
)

// BuildRoutes wires the seven streams to their engines. Datafeed routes
// share the datafeed engine, broker routes share the broker engine;
// each route enforces its own exact parameter schema.
func BuildRoutes(
	cfg *config.Config,
	df *datafeed.Engine,
	bk *broker.Engine,
	fanout route.FanoutFunc,
	logger zerolog.Logger,
) map[string]*route.Route {
	build := func(name string, engine route.Engine, schema map[string]route.FieldKind) *route.Route {
		return route.New(route.Config{
			Name:          name,
			Engine:        engine,
			Validate:      route.Fields(schema),
			QueueCapacity: cfg.RouteQueueCapacity,
			Fanout:        fanout,
			Logger:        logger,
		})
	}

	return map[string]*route.Route{
		datafeed.RouteBars: build(datafeed.RouteBars, df, map[string]route.FieldKind{
			"symbol":     route.FieldString,
			"resolution": route.FieldString,
		}),
		datafeed.RouteQuotes: build(datafeed.RouteQuotes, df, map[string]route.FieldKind{
			"symbols": route.FieldStringArray,
		}),
		broker.RouteOrders: build(broker.RouteOrders, bk, map[string]route.FieldKind{
			"accountId": route.FieldString,
		}),
		broker.RoutePositions: build(broker.RoutePositions, bk, map[string]route.FieldKind{
			"accountId": route.FieldString,
		}),
		broker.RouteExecutions: build(broker.RouteExecutions, bk, map[string]route.FieldKind{
			"accountId": route.FieldString,
			"symbol":    route.FieldString,
		}),
		broker.RouteEquity: build(broker.RouteEquity, bk, map[string]route.FieldKind{
			"accountId": route.FieldString,
		}),
		broker.RouteBrokerConnection: build(broker.RouteBrokerConnection, bk, map[string]route.FieldKind{
			"accountId": route.FieldString,
		}),
	}
}

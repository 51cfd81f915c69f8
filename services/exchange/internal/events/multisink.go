package events

import (
	"context"

	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
)

// MultiSink fans engine events out to several sinks in order.
type MultiSink []engine.EventSink

func (m MultiSink) TradeExecuted(ctx context.Context, trade engine.Trade) {
	for _, sink := range m {
		sink.TradeExecuted(ctx, trade)
	}
}

func (m MultiSink) OrderUpdated(ctx context.Context, order engine.Order) {
	for _, sink := range m {
		sink.OrderUpdated(ctx, order)
	}
}

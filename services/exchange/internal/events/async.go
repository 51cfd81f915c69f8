package events

import (
	"context"

	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
)

type queued struct {
	trade *engine.Trade
	order *engine.Order
}

// AsyncSink hands events to a single worker goroutine so the submitting
// goroutine never waits on broker round-trips. Delivery keeps arrival order.
// When the buffer is full the producer blocks rather than dropping events.
type AsyncSink struct {
	next engine.EventSink
	ch   chan queued
	done chan struct{}
}

func NewAsyncSink(next engine.EventSink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &AsyncSink{
		next: next,
		ch:   make(chan queued, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.ch {
		// Delivery outlives the submitting request; downstream sinks carry
		// their own timeouts.
		if ev.trade != nil {
			s.next.TradeExecuted(context.Background(), *ev.trade)
		} else {
			s.next.OrderUpdated(context.Background(), *ev.order)
		}
	}
}

func (s *AsyncSink) TradeExecuted(_ context.Context, trade engine.Trade) {
	s.ch <- queued{trade: &trade}
}

func (s *AsyncSink) OrderUpdated(_ context.Context, order engine.Order) {
	s.ch <- queued{order: &order}
}

// Close drains the buffer and waits for the worker to finish. No events may
// be published after Close.
func (s *AsyncSink) Close() error {
	close(s.ch)
	<-s.done
	return nil
}

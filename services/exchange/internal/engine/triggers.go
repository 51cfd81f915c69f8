package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OnPriceTick records a new reference price for the instrument and fires any
// armed trigger orders it crosses. Fired orders convert to their active form
// (stop-loss to market, take-profit to limit) and match in activation order,
// ordered by original arrival sequence.
func (e *Engine) OnPriceTick(ctx context.Context, symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	ln := e.lane(symbol)
	ln.mu.Lock()
	ln.lastPrice = price

	var fired []*Order
	for id, order := range ln.triggers {
		if triggerCrossed(order, price) {
			delete(ln.triggers, id)
			fired = append(fired, order)
		}
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i].Sequence < fired[j].Sequence })

	var trades []Trade
	var updated []Order
	now := time.Now().UTC()
	for _, order := range fired {
		activate(order, now)
		order.Sequence = e.seq.Add(1)
		t, m := ln.match(e, order)
		e.finishTaker(ln, order)
		trades = append(trades, t...)
		updated = append(updated, m...)
		updated = append(updated, *order)
	}
	ln.mu.Unlock()

	e.publish(ctx, trades, updated)
	if e.metrics != nil && len(trades) > 0 {
		e.metrics.ObserveTrades(symbol, len(trades))
	}
}

// triggerCrossed evaluates one armed order against the new market price.
// Stop-loss protects against adverse moves: a sell fires when the price
// falls to the trigger, a buy when it rises to it. Take-profit is the
// mirror image.
func triggerCrossed(order *Order, price decimal.Decimal) bool {
	switch order.Kind {
	case KindStopLoss:
		if order.Side == SideSell {
			return price.LessThanOrEqual(order.TriggerPrice)
		}
		return price.GreaterThanOrEqual(order.TriggerPrice)
	case KindTakeProfit:
		if order.Side == SideSell {
			return price.GreaterThanOrEqual(order.TriggerPrice)
		}
		return price.LessThanOrEqual(order.TriggerPrice)
	default:
		return false
	}
}

// activate rewrites a fired trigger order into the form it matches as.
func activate(order *Order, now time.Time) {
	switch order.Kind {
	case KindStopLoss:
		order.Kind = KindMarket
		order.Price = decimal.Zero
	case KindTakeProfit:
		order.Kind = KindLimit
	}
	order.UpdatedAt = now
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/services/exchange/internal/fees"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
	"github.com/shopspring/decimal"
	"log/slog"
)

var ErrOrderNotFound = errors.New("order not found")

// Settler settles fills and releases holds. Implemented by the in-memory
// ledger; everything behind this interface must be fast enough to call while
// a matching lane is locked.
type Settler interface {
	Settle(req ledger.SettleRequest) (ledger.SettleResult, error)
	Release(orderID uuid.UUID) (decimal.Decimal, error)
}

type FeeQuoter interface {
	Fee(notional decimal.Decimal, tier string) fees.Quote
}

// EventSink receives trades and order status changes strictly after the
// matching lane has unlocked. Implementations own their delivery guarantees;
// a failed delivery never unwinds a trade.
type EventSink interface {
	TradeExecuted(ctx context.Context, trade Trade)
	OrderUpdated(ctx context.Context, order Order)
}

type Metrics interface {
	ObserveOrder(symbol, side, kind string, duration time.Duration)
	ObserveTrades(symbol string, count int)
	SetBookDepth(symbol, side string, depth float64)
}

// Engine routes each order to its instrument's lane. A lane serializes all
// book mutation for one instrument under a single mutex, so two orders for
// the same instrument never match concurrently while distinct instruments
// proceed in parallel.
type Engine struct {
	mu      sync.RWMutex
	lanes   map[string]*lane
	symbols map[uuid.UUID]string // order id -> lane symbol, for id-only lookups

	ledger  Settler
	fees    FeeQuoter
	sink    EventSink
	logger  *slog.Logger
	metrics Metrics
	seq     atomic.Uint64
}

type lane struct {
	mu        sync.Mutex
	symbol    string
	book      *Book
	arena     map[uuid.UUID]*Order // owns every live order record
	triggers  map[uuid.UUID]*Order // armed stop-loss/take-profit orders
	lastPrice decimal.Decimal
}

func New(settler Settler, quoter FeeQuoter, sink EventSink, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		lanes:   make(map[string]*lane),
		symbols: make(map[uuid.UUID]string),
		ledger:  settler,
		fees:    quoter,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
}

// Result is what one submission produced: the post-processing order state
// and the trades executed, in match order.
type Result struct {
	Order  Order
	Trades []Trade
}

// Submit runs an admitted order through its lane. The order's funds must
// already be reserved. Events are published after the lane unlocks.
func (e *Engine) Submit(ctx context.Context, order *Order) (Result, error) {
	start := time.Now()
	if err := validateOrder(order); err != nil {
		return Result{}, err
	}
	order.Sequence = e.seq.Add(1)
	order.Status = StatusOpen
	now := time.Now().UTC()
	order.UpdatedAt = now

	ln := e.lane(order.Symbol())
	ln.mu.Lock()

	var trades []Trade
	var updated []Order
	switch order.Kind {
	case KindStopLoss, KindTakeProfit:
		ln.arena[order.ID] = order
		ln.triggers[order.ID] = order
		e.indexOrder(order.ID, ln.symbol)
	default:
		trades, updated = ln.match(e, order)
		e.finishTaker(ln, order)
	}

	result := Result{Order: *order, Trades: trades}
	updated = append(updated, *order)
	depthBuy := float64(ln.book.Depth(SideBuy))
	depthSell := float64(ln.book.Depth(SideSell))
	ln.mu.Unlock()

	e.publish(ctx, trades, updated)
	if e.metrics != nil {
		e.metrics.ObserveOrder(result.Order.Symbol(), string(order.Side), string(order.Kind), time.Since(start))
		if len(trades) > 0 {
			e.metrics.ObserveTrades(result.Order.Symbol(), len(trades))
		}
		e.metrics.SetBookDepth(result.Order.Symbol(), string(SideBuy), depthBuy)
		e.metrics.SetBookDepth(result.Order.Symbol(), string(SideSell), depthSell)
	}
	return result, nil
}

// Cancel removes an open order owned by the account, releasing its hold.
// Cancellation and matching for the same instrument contend on the lane
// lock, so a match that already consumed the order wins and the cancel
// reports not found.
func (e *Engine) Cancel(ctx context.Context, accountID, orderID uuid.UUID) (Order, error) {
	ln, ok := e.laneOf(orderID)
	if !ok {
		return Order{}, ErrOrderNotFound
	}

	ln.mu.Lock()
	order := ln.arena[orderID]
	if order == nil || order.AccountID != accountID || order.Terminal() {
		ln.mu.Unlock()
		return Order{}, ErrOrderNotFound
	}

	delete(ln.triggers, orderID)
	ln.book.Cancel(orderID)
	order.setStatus(StatusCancelled, time.Now().UTC())
	e.retire(ln, order)
	copied := *order
	ln.mu.Unlock()

	e.publish(ctx, nil, []Order{copied})
	return copied, nil
}

// ExpireIfDue expires a single order when its expiry has passed. Safe to
// call repeatedly; reports whether this call performed the expiry.
func (e *Engine) ExpireIfDue(ctx context.Context, orderID uuid.UUID, now time.Time) (Order, bool) {
	ln, ok := e.laneOf(orderID)
	if !ok {
		return Order{}, false
	}

	ln.mu.Lock()
	order := ln.arena[orderID]
	if order == nil || order.Terminal() || order.ExpiresAt.IsZero() || order.ExpiresAt.After(now) {
		ln.mu.Unlock()
		return Order{}, false
	}
	delete(ln.triggers, orderID)
	ln.book.Cancel(orderID)
	order.setStatus(StatusExpired, now)
	e.retire(ln, order)
	copied := *order
	ln.mu.Unlock()

	e.publish(ctx, nil, []Order{copied})
	return copied, true
}

// ExpireDue sweeps every lane for orders whose expiry has passed. Driven by
// a periodic ticker, not per-order timers.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) []Order {
	var expired []Order
	for _, ln := range e.allLanes() {
		ln.mu.Lock()
		for id, order := range ln.arena {
			if order.Terminal() || order.ExpiresAt.IsZero() || order.ExpiresAt.After(now) {
				continue
			}
			delete(ln.triggers, id)
			ln.book.Cancel(id)
			order.setStatus(StatusExpired, now)
			e.retire(ln, order)
			expired = append(expired, *order)
		}
		ln.mu.Unlock()
	}

	for _, order := range expired {
		e.publishOrder(ctx, order)
	}
	return expired
}

// Lookup returns a copy of a live (non-archived) order.
func (e *Engine) Lookup(orderID uuid.UUID) (Order, error) {
	ln, ok := e.laneOf(orderID)
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	order := ln.arena[orderID]
	if order == nil {
		return Order{}, ErrOrderNotFound
	}
	return *order, nil
}

// Snapshot copies the book's aggregated depth. Holds the lane lock only for
// the duration of the copy.
func (e *Engine) Snapshot(symbol string) DepthView {
	ln := e.lane(symbol)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.book.snapshot()
}

// LastPrice reports the most recent execution or feed price for the
// instrument, used as the reference for market-order reservations.
func (e *Engine) LastPrice(symbol string) (decimal.Decimal, bool) {
	e.mu.RLock()
	ln := e.lanes[symbol]
	e.mu.RUnlock()
	if ln == nil {
		return decimal.Decimal{}, false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.lastPrice.IsPositive() {
		return ln.lastPrice, true
	}
	return decimal.Decimal{}, false
}

// SeedPrice primes an instrument's reference price, e.g. from the last
// persisted tick at startup.
func (e *Engine) SeedPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	ln := e.lane(symbol)
	ln.mu.Lock()
	ln.lastPrice = price
	ln.mu.Unlock()
}

func (e *Engine) OpenOrders() int {
	count := 0
	for _, ln := range e.allLanes() {
		ln.mu.Lock()
		count += len(ln.arena)
		ln.mu.Unlock()
	}
	return count
}

func (e *Engine) ActiveInstruments() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.lanes)
}

// retire releases whatever remains reserved for a terminal order and hands
// the record over to archival (drops it from the arena).
func (e *Engine) retire(ln *lane, order *Order) {
	if _, err := e.ledger.Release(order.ID); err != nil && !errors.Is(err, ledger.ErrReservationNotFound) {
		e.logger.Error("release failed", "order_id", order.ID, "error", err)
	}
	delete(ln.arena, order.ID)
	e.mu.Lock()
	delete(e.symbols, order.ID)
	e.mu.Unlock()
}

func (e *Engine) indexOrder(orderID uuid.UUID, symbol string) {
	e.mu.Lock()
	e.symbols[orderID] = symbol
	e.mu.Unlock()
}

func (e *Engine) lane(symbol string) *lane {
	e.mu.RLock()
	ln := e.lanes[symbol]
	e.mu.RUnlock()
	if ln != nil {
		return ln
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ln = e.lanes[symbol]
	if ln == nil {
		ln = &lane{
			symbol:   symbol,
			book:     NewBook(symbol),
			arena:    make(map[uuid.UUID]*Order),
			triggers: make(map[uuid.UUID]*Order),
		}
		e.lanes[symbol] = ln
	}
	return ln
}

func (e *Engine) laneOf(orderID uuid.UUID) (*lane, bool) {
	e.mu.RLock()
	symbol, ok := e.symbols[orderID]
	ln := e.lanes[symbol]
	e.mu.RUnlock()
	if !ok || ln == nil {
		return nil, false
	}
	return ln, true
}

func (e *Engine) allLanes() []*lane {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*lane, 0, len(e.lanes))
	for _, ln := range e.lanes {
		out = append(out, ln)
	}
	return out
}

func (e *Engine) publish(ctx context.Context, trades []Trade, orders []Order) {
	if e.sink == nil {
		return
	}
	for _, trade := range trades {
		e.sink.TradeExecuted(ctx, trade)
	}
	for _, order := range orders {
		e.sink.OrderUpdated(ctx, order)
	}
}

func (e *Engine) publishOrder(ctx context.Context, order Order) {
	if e.sink != nil {
		e.sink.OrderUpdated(ctx, order)
	}
}

func validateOrder(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if order.AccountID == uuid.Nil {
		return fmt.Errorf("account id required")
	}
	if order.Side != SideBuy && order.Side != SideSell {
		return fmt.Errorf("invalid side")
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be positive")
	}
	switch order.Kind {
	case KindMarket:
		if order.Price.IsPositive() {
			return fmt.Errorf("market orders carry no limit price")
		}
	case KindLimit:
		if !order.Price.IsPositive() {
			return fmt.Errorf("price must be positive for limit orders")
		}
	case KindStopLoss:
		if !order.TriggerPrice.IsPositive() {
			return fmt.Errorf("trigger price must be positive for stop-loss orders")
		}
	case KindTakeProfit:
		if !order.TriggerPrice.IsPositive() {
			return fmt.Errorf("trigger price must be positive for take-profit orders")
		}
		if !order.Price.IsPositive() {
			return fmt.Errorf("price must be positive for take-profit orders")
		}
	default:
		return fmt.Errorf("invalid order kind")
	}
	return nil
}

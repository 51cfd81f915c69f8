package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/sabikalabs/sabika/services/exchange/internal/fees"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
	"github.com/sabikalabs/sabika/services/exchange/internal/validation"
	"github.com/shopspring/decimal"
	"log/slog"
)

var (
	ErrUnknownInstrument  = errors.New("instrument not listed")
	ErrNotFound           = errors.New("order not found")
	ErrNoReferencePrice   = errors.New("no reference price for instrument")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrQuantityOutOfRange = errors.New("quantity outside instrument limits")
)

// Controller owns the admission path: listing and limits checks, fee-aware
// fund reservation, hand-off to the matching engine, and release of holds
// when orders leave the book. One controller fronts the whole exchange.
type Controller struct {
	registry *asset.Registry
	ledger   *ledger.Ledger
	engine   *engine.Engine
	fees     *fees.Schedule
	slippage decimal.Decimal // reservation buffer factor for market-priced buys
	logger   *slog.Logger
}

func NewController(registry *asset.Registry, lgr *ledger.Ledger, eng *engine.Engine, schedule *fees.Schedule, slippageBps int64, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry: registry,
		ledger:   lgr,
		engine:   eng,
		fees:     schedule,
		slippage: decimal.NewFromInt(1).Add(decimal.NewFromInt(slippageBps).Div(decimal.NewFromInt(10000))),
		logger:   logger,
	}
}

// PlaceOrder admits a validated order: looks up the instrument, checks
// quantity bounds, reserves the funds the order could consume at worst, and
// submits it to the engine. A failed submission releases the hold, so a
// rejected order leaves balances untouched.
func (c *Controller) PlaceOrder(ctx context.Context, accountID uuid.UUID, feeTier string, p validation.ParsedOrder) (engine.Result, error) {
	inst, limits, ok := c.registry.Lookup(p.Symbol)
	if !ok {
		return engine.Result{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, p.Symbol)
	}
	if limits.MinQty.IsPositive() && p.Quantity.LessThan(limits.MinQty) {
		return engine.Result{}, fmt.Errorf("%w: below minimum %s", ErrQuantityOutOfRange, limits.MinQty)
	}
	if limits.MaxQty.IsPositive() && p.Quantity.GreaterThan(limits.MaxQty) {
		return engine.Result{}, fmt.Errorf("%w: above maximum %s", ErrQuantityOutOfRange, limits.MaxQty)
	}

	if !c.fees.HasTier(feeTier) {
		feeTier = c.fees.DefaultTier()
	}

	now := time.Now().UTC()
	order := &engine.Order{
		ID:           uuid.New(),
		AccountID:    accountID,
		Instrument:   inst,
		Side:         p.Side,
		Kind:         p.Kind,
		Quantity:     p.Quantity,
		Price:        p.Price,
		TriggerPrice: p.TriggerPrice,
		FeeTier:      feeTier,
		CreatedAt:    now,
		ExpiresAt:    p.ExpiresAt,
	}

	reserveAsset, reserveAmount, err := c.reservation(order)
	if err != nil {
		return engine.Result{}, err
	}
	if _, err := c.ledger.Reserve(accountID, order.ID, reserveAsset, reserveAmount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return engine.Result{}, fmt.Errorf("%w: %s %s required", ErrInsufficientFunds, reserveAmount, reserveAsset)
		}
		return engine.Result{}, err
	}

	result, err := c.engine.Submit(ctx, order)
	if err != nil {
		if _, relErr := c.ledger.Release(order.ID); relErr != nil {
			c.logger.Error("release after rejected submit failed", "order_id", order.ID, "error", relErr)
		}
		return engine.Result{}, err
	}
	return result, nil
}

// reservation computes what must be held before the order may enter a lane.
// Sells hold the metal grams. Buys hold cash: notional plus the worst-case
// fee, priced at the limit price where one exists, otherwise at the current
// reference price padded by the slippage buffer.
func (c *Controller) reservation(order *engine.Order) (string, decimal.Decimal, error) {
	if order.Side == engine.SideSell {
		return order.Instrument.Base(), order.Quantity, nil
	}

	var refPrice decimal.Decimal
	switch order.Kind {
	case engine.KindLimit, engine.KindTakeProfit:
		refPrice = order.Price
	case engine.KindStopLoss:
		refPrice = order.TriggerPrice.Mul(c.slippage)
	default:
		last, ok := c.engine.LastPrice(order.Symbol())
		if !ok {
			return "", decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoReferencePrice, order.Symbol())
		}
		refPrice = last.Mul(c.slippage)
	}

	notional := order.Quantity.Mul(refPrice)
	fee := c.fees.Fee(notional, order.FeeTier).Total
	return order.Instrument.Quote, notional.Add(fee), nil
}

// Cancel cancels an open order owned by the account and releases its hold.
func (c *Controller) Cancel(ctx context.Context, accountID, orderID uuid.UUID) (engine.Order, error) {
	order, err := c.engine.Cancel(ctx, accountID, orderID)
	if err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			return engine.Order{}, ErrNotFound
		}
		return engine.Order{}, err
	}
	return order, nil
}

// Get returns a live order owned by the account.
func (c *Controller) Get(accountID, orderID uuid.UUID) (engine.Order, error) {
	order, err := c.engine.Lookup(orderID)
	if err != nil || order.AccountID != accountID {
		return engine.Order{}, ErrNotFound
	}
	return order, nil
}

// ExpireIfDue expires one order when its deadline has passed. Idempotent.
func (c *Controller) ExpireIfDue(ctx context.Context, orderID uuid.UUID, now time.Time) (engine.Order, bool) {
	return c.engine.ExpireIfDue(ctx, orderID, now)
}

// ExpireDue sweeps all lanes for due orders. Called from the expiry ticker.
func (c *Controller) ExpireDue(ctx context.Context, now time.Time) int {
	expired := c.engine.ExpireDue(ctx, now)
	if len(expired) > 0 {
		c.logger.Info("expired orders", "count", len(expired))
	}
	return len(expired)
}

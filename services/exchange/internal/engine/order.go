package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Kind tags the order variant. Market and limit orders go straight to
// matching; stop-loss and take-profit orders wait in the trigger list until
// the market price crosses their trigger, then re-enter as market or limit
// respectively.
type Kind string

const (
	KindMarket     Kind = "market"
	KindLimit      Kind = "limit"
	KindStopLoss   Kind = "stop_loss"
	KindTakeProfit Kind = "take_profit"
)

type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

type Order struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Instrument asset.Instrument
	Side       Side
	Kind       Kind
	Quantity   decimal.Decimal
	// Price is the limit price; zero for market and stop-loss orders.
	Price decimal.Decimal
	// TriggerPrice arms stop-loss and take-profit orders; zero otherwise.
	TriggerPrice   decimal.Decimal
	FeeTier        string
	Status         Status
	Filled         decimal.Decimal
	FilledNotional decimal.Decimal
	// FeesPaid accumulates the fees charged across this order's fills. Each
	// fill charges the rounded fee on the cumulative notional minus what was
	// already paid, so the order's total fee telescopes to the single rounded
	// fee on its full notional and never exceeds the admission-time hold.
	FeesPaid  decimal.Decimal
	Sequence  uint64
	CreatedAt time.Time
	ExpiresAt time.Time // zero means good-till-cancelled
	UpdatedAt time.Time
}

func (o *Order) Symbol() string {
	return o.Instrument.Symbol()
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// AvgFillPrice is the quantity-weighted mean of the consumed price levels.
func (o *Order) AvgFillPrice() decimal.Decimal {
	if o.Filled.IsZero() {
		return decimal.Zero
	}
	return o.FilledNotional.Div(o.Filled)
}

func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func (o *Order) applyFill(qty, price decimal.Decimal, now time.Time) {
	o.Filled = o.Filled.Add(qty)
	o.FilledNotional = o.FilledNotional.Add(qty.Mul(price))
	if o.Remaining().IsPositive() {
		o.Status = StatusPartiallyFilled
	} else {
		o.Status = StatusFilled
	}
	o.UpdatedAt = now
}

func (o *Order) setStatus(status Status, now time.Time) {
	if o.Terminal() {
		return
	}
	o.Status = status
	o.UpdatedAt = now
}

// Trade is the immutable record of one match. Execution price is always the
// resting (maker) order's price.
type Trade struct {
	ID          uuid.UUID
	Symbol      string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	BuyerFee    decimal.Decimal
	SellerFee   decimal.Decimal
	TakerSide   Side
	ExecutedAt  time.Time
}

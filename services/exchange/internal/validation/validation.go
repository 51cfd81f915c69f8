package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/shopspring/decimal"
)

// OrderRequest is the inbound JSON shape of an order submission. Quantities
// and prices arrive as strings so client float formatting can never corrupt
// precision.
type OrderRequest struct {
	Symbol       string `json:"symbol" binding:"required"`
	Side         string `json:"side" binding:"required"`
	Kind         string `json:"kind" binding:"required"`
	Quantity     string `json:"quantity" binding:"required"`
	Price        string `json:"price"`
	TriggerPrice string `json:"trigger_price"`
	ExpiresAt    string `json:"expires_at"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ParsedOrder is a request that survived field validation, with every value
// in its domain type. Instrument listing and quantity bounds are checked
// later against the registry.
type ParsedOrder struct {
	Symbol       string
	Side         engine.Side
	Kind         engine.Kind
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	ExpiresAt    time.Time
}

// ParseOrder checks every field of the request and collects all failures
// rather than stopping at the first.
func ParseOrder(req OrderRequest, now time.Time) (ParsedOrder, error) {
	var errs ValidationErrors
	var parsed ParsedOrder

	if inst, err := asset.ParseSymbol(req.Symbol); err != nil {
		errs = append(errs, FieldError{Field: "symbol", Message: err.Error()})
	} else {
		parsed.Symbol = inst.Symbol()
	}

	switch engine.Side(strings.ToLower(strings.TrimSpace(req.Side))) {
	case engine.SideBuy:
		parsed.Side = engine.SideBuy
	case engine.SideSell:
		parsed.Side = engine.SideSell
	default:
		errs = append(errs, FieldError{Field: "side", Message: "must be buy or sell"})
	}

	kind := engine.Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	switch kind {
	case engine.KindMarket, engine.KindLimit, engine.KindStopLoss, engine.KindTakeProfit:
		parsed.Kind = kind
	default:
		errs = append(errs, FieldError{Field: "kind", Message: "must be market, limit, stop_loss or take_profit"})
	}

	qty, err := parsePositiveDecimal(req.Quantity)
	if err != nil {
		errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
	} else {
		parsed.Quantity = qty
	}

	switch kind {
	case engine.KindMarket:
		if req.Price != "" {
			errs = append(errs, FieldError{Field: "price", Message: "market orders must not carry a price"})
		}
		if req.TriggerPrice != "" {
			errs = append(errs, FieldError{Field: "trigger_price", Message: "not allowed for market orders"})
		}
	case engine.KindLimit:
		price, err := parsePositiveDecimal(req.Price)
		if err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		} else {
			parsed.Price = price
		}
		if req.TriggerPrice != "" {
			errs = append(errs, FieldError{Field: "trigger_price", Message: "not allowed for limit orders"})
		}
	case engine.KindStopLoss:
		trigger, err := parsePositiveDecimal(req.TriggerPrice)
		if err != nil {
			errs = append(errs, FieldError{Field: "trigger_price", Message: err.Error()})
		} else {
			parsed.TriggerPrice = trigger
		}
		if req.Price != "" {
			errs = append(errs, FieldError{Field: "price", Message: "stop-loss orders execute at market, price not allowed"})
		}
	case engine.KindTakeProfit:
		trigger, err := parsePositiveDecimal(req.TriggerPrice)
		if err != nil {
			errs = append(errs, FieldError{Field: "trigger_price", Message: err.Error()})
		} else {
			parsed.TriggerPrice = trigger
		}
		price, err := parsePositiveDecimal(req.Price)
		if err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		} else {
			parsed.Price = price
		}
	}

	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			errs = append(errs, FieldError{Field: "expires_at", Message: "must be RFC3339"})
		} else if !expires.After(now) {
			errs = append(errs, FieldError{Field: "expires_at", Message: "must be in the future"})
		} else {
			parsed.ExpiresAt = expires.UTC()
		}
	}

	if len(errs) > 0 {
		return ParsedOrder{}, errs
	}
	return parsed, nil
}

func parsePositiveDecimal(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Decimal{}, fmt.Errorf("required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("must be a decimal number")
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("must be positive")
	}
	return d, nil
}

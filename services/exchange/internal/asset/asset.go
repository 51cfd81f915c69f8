package asset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Metals traded on the exchange. A carat-qualified metal is a distinct
// tradable instrument: GOLD24K and GOLD21K have separate books and separate
// gram balances.
type Metal string

const (
	MetalGold   Metal = "gold"
	MetalSilver Metal = "silver"
)

// Instrument identifies one order book: a metal (optionally carat-qualified)
// quoted in a cash asset.
type Instrument struct {
	Metal Metal
	Carat int    // 0 for uncarated metals such as silver
	Quote string // cash asset, e.g. SAR or USD
}

// Base returns the metal-gram asset id held in wallets, e.g. "GOLD24K".
func (i Instrument) Base() string {
	base := strings.ToUpper(string(i.Metal))
	if i.Carat > 0 {
		base += strconv.Itoa(i.Carat) + "K"
	}
	return base
}

func (i Instrument) Symbol() string {
	return i.Base() + "-" + strings.ToUpper(i.Quote)
}

// ParseSymbol parses "GOLD24K-SAR" or "SILVER-USD" into an Instrument.
func ParseSymbol(symbol string) (Instrument, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	parts := strings.Split(trimmed, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Instrument{}, fmt.Errorf("symbol must be in BASE-QUOTE format")
	}

	base, quote := parts[0], parts[1]
	var metal Metal
	var rest string
	switch {
	case strings.HasPrefix(base, "GOLD"):
		metal = MetalGold
		rest = strings.TrimPrefix(base, "GOLD")
	case strings.HasPrefix(base, "SILVER"):
		metal = MetalSilver
		rest = strings.TrimPrefix(base, "SILVER")
	default:
		return Instrument{}, fmt.Errorf("unknown metal in symbol %q", symbol)
	}

	carat := 0
	if rest != "" {
		if !strings.HasSuffix(rest, "K") {
			return Instrument{}, fmt.Errorf("invalid carat in symbol %q", symbol)
		}
		n, err := strconv.Atoi(strings.TrimSuffix(rest, "K"))
		if err != nil || n <= 0 {
			return Instrument{}, fmt.Errorf("invalid carat in symbol %q", symbol)
		}
		carat = n
	}

	return Instrument{Metal: metal, Carat: carat, Quote: quote}, nil
}

// Limits bounds admissible order quantities for an instrument.
type Limits struct {
	MinQty decimal.Decimal
	MaxQty decimal.Decimal
}

// Registry is the set of instruments the exchange currently lists, with
// their quantity bounds. Built from configuration at startup; read-only
// afterwards.
type Registry struct {
	instruments map[string]Instrument
	limits      map[string]Limits
}

func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]Instrument),
		limits:      make(map[string]Limits),
	}
}

func (r *Registry) Add(inst Instrument, limits Limits) error {
	if inst.Quote == "" {
		return fmt.Errorf("instrument quote asset required")
	}
	if limits.MinQty.IsNegative() || limits.MaxQty.IsNegative() {
		return fmt.Errorf("instrument limits must be non-negative")
	}
	if limits.MaxQty.IsPositive() && limits.MaxQty.LessThan(limits.MinQty) {
		return fmt.Errorf("instrument max quantity below min quantity")
	}
	sym := inst.Symbol()
	r.instruments[sym] = inst
	r.limits[sym] = limits
	return nil
}

// Lookup resolves a symbol against the listed instruments.
func (r *Registry) Lookup(symbol string) (Instrument, Limits, bool) {
	inst, err := ParseSymbol(symbol)
	if err != nil {
		return Instrument{}, Limits{}, false
	}
	sym := inst.Symbol()
	listed, ok := r.instruments[sym]
	if !ok {
		return Instrument{}, Limits{}, false
	}
	return listed, r.limits[sym], true
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.instruments))
	for sym := range r.instruments {
		out = append(out, sym)
	}
	return out
}

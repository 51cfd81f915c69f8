package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Quote is the fee breakdown for one trade leg: the tiered trading fee, the
// flat platform fee layered on top, and their sum. All amounts are in the
// instrument's quote asset, rounded with banker's rounding.
type Quote struct {
	Trading  decimal.Decimal
	Platform decimal.Decimal
	Total    decimal.Decimal
}

// Schedule maps account fee tiers to basis-point rates. It is immutable
// after construction and performs no I/O, so every fill can price its fees
// without leaving the matching lane.
type Schedule struct {
	tiers       map[string]decimal.Decimal
	defaultTier string
	platform    decimal.Decimal
	places      int32
}

var bpsDivisor = decimal.NewFromInt(10000)

func NewSchedule(tierBps map[string]int64, defaultTier string, platformBps int64, places int32) (*Schedule, error) {
	if len(tierBps) == 0 {
		return nil, fmt.Errorf("at least one fee tier required")
	}
	if platformBps < 0 {
		return nil, fmt.Errorf("platform fee must be non-negative")
	}
	if places < 0 {
		return nil, fmt.Errorf("rounding places must be non-negative")
	}

	tiers := make(map[string]decimal.Decimal, len(tierBps))
	for name, bps := range tierBps {
		if bps < 0 {
			return nil, fmt.Errorf("fee tier %q must be non-negative", name)
		}
		tiers[normalizeTier(name)] = decimal.NewFromInt(bps).Div(bpsDivisor)
	}

	defaultTier = normalizeTier(defaultTier)
	if _, ok := tiers[defaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q not in schedule", defaultTier)
	}

	return &Schedule{
		tiers:       tiers,
		defaultTier: defaultTier,
		platform:    decimal.NewFromInt(platformBps).Div(bpsDivisor),
		places:      places,
	}, nil
}

// Fee returns the fee breakdown for a trade leg of the given notional.
// Unknown tiers fall back to the default tier.
func (s *Schedule) Fee(notional decimal.Decimal, tier string) Quote {
	rate, ok := s.tiers[normalizeTier(tier)]
	if !ok {
		rate = s.tiers[s.defaultTier]
	}

	trading := notional.Mul(rate).RoundBank(s.places)
	platform := notional.Mul(s.platform).RoundBank(s.places)
	return Quote{
		Trading:  trading,
		Platform: platform,
		Total:    trading.Add(platform),
	}
}

// HasTier reports whether the tier is explicitly listed in the schedule.
func (s *Schedule) HasTier(tier string) bool {
	_, ok := s.tiers[normalizeTier(tier)]
	return ok
}

func (s *Schedule) DefaultTier() string {
	return s.defaultTier
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

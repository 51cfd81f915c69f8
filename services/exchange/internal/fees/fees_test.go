package fees

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustSchedule(t *testing.T) *Schedule {
	t.Helper()
	s, err := NewSchedule(map[string]int64{"basic": 50, "pro": 30, "enterprise": 10}, "basic", 5, 2)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	return s
}

func TestFeeTierRates(t *testing.T) {
	s := mustSchedule(t)
	notional := decimal.NewFromInt(10000)

	cases := []struct {
		tier     string
		trading  string
		platform string
		total    string
	}{
		{"basic", "50", "5", "55"},
		{"pro", "30", "5", "35"},
		{"enterprise", "10", "5", "15"},
	}
	for _, tc := range cases {
		q := s.Fee(notional, tc.tier)
		if q.Trading.String() != tc.trading {
			t.Errorf("tier %s trading = %s, want %s", tc.tier, q.Trading, tc.trading)
		}
		if q.Platform.String() != tc.platform {
			t.Errorf("tier %s platform = %s, want %s", tc.tier, q.Platform, tc.platform)
		}
		if q.Total.String() != tc.total {
			t.Errorf("tier %s total = %s, want %s", tc.tier, q.Total, tc.total)
		}
	}
}

func TestFeeUnknownTierFallsBack(t *testing.T) {
	s := mustSchedule(t)
	notional := decimal.NewFromInt(1000)

	got := s.Fee(notional, "vip")
	want := s.Fee(notional, "basic")
	if !got.Total.Equal(want.Total) {
		t.Errorf("unknown tier total = %s, want default tier total %s", got.Total, want.Total)
	}
}

func TestFeeTierNameNormalized(t *testing.T) {
	s := mustSchedule(t)
	notional := decimal.NewFromInt(1000)

	if !s.Fee(notional, "  PRO ").Total.Equal(s.Fee(notional, "pro").Total) {
		t.Error("tier names should be case and whitespace insensitive")
	}
}

func TestFeeBankersRounding(t *testing.T) {
	s := mustSchedule(t)

	// 0.5% of 24.9 = 0.1245; banker's rounding at 2 places gives 0.12.
	q := s.Fee(decimal.RequireFromString("24.9"), "basic")
	if q.Trading.String() != "0.12" {
		t.Errorf("trading = %s, want 0.12", q.Trading)
	}

	// 0.5% of 24.7 = 0.1235, which also rounds to the even 0.12.
	q = s.Fee(decimal.RequireFromString("24.7"), "basic")
	if q.Trading.String() != "0.12" {
		t.Errorf("trading = %s, want 0.12", q.Trading)
	}

	// 0.5% of 25.1 = 0.1255, above the halfway point, rounds up to 0.13.
	q = s.Fee(decimal.RequireFromString("25.1"), "basic")
	if q.Trading.String() != "0.13" {
		t.Errorf("trading = %s, want 0.13", q.Trading)
	}
}

func TestFeeZeroNotional(t *testing.T) {
	s := mustSchedule(t)
	q := s.Fee(decimal.Zero, "basic")
	if !q.Total.IsZero() {
		t.Errorf("zero notional total = %s, want 0", q.Total)
	}
}

func TestNewScheduleRejectsBadInput(t *testing.T) {
	if _, err := NewSchedule(nil, "basic", 5, 2); err == nil {
		t.Error("empty tier map should fail")
	}
	if _, err := NewSchedule(map[string]int64{"basic": 50}, "missing", 5, 2); err == nil {
		t.Error("default tier absent from schedule should fail")
	}
	if _, err := NewSchedule(map[string]int64{"basic": -1}, "basic", 5, 2); err == nil {
		t.Error("negative tier rate should fail")
	}
	if _, err := NewSchedule(map[string]int64{"basic": 50}, "basic", -5, 2); err == nil {
		t.Error("negative platform rate should fail")
	}
}

func TestHasTier(t *testing.T) {
	s := mustSchedule(t)
	if !s.HasTier("pro") {
		t.Error("pro should be listed")
	}
	if s.HasTier("vip") {
		t.Error("vip should not be listed")
	}
	if s.DefaultTier() != "basic" {
		t.Errorf("default tier = %s, want basic", s.DefaultTier())
	}
}

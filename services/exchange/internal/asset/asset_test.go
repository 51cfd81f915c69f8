package asset

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestInstrumentSymbols(t *testing.T) {
	cases := []struct {
		inst   Instrument
		base   string
		symbol string
	}{
		{Instrument{Metal: MetalGold, Carat: 24, Quote: "SAR"}, "GOLD24K", "GOLD24K-SAR"},
		{Instrument{Metal: MetalGold, Carat: 21, Quote: "USD"}, "GOLD21K", "GOLD21K-USD"},
		{Instrument{Metal: MetalSilver, Quote: "SAR"}, "SILVER", "SILVER-SAR"},
	}
	for _, tc := range cases {
		if got := tc.inst.Base(); got != tc.base {
			t.Errorf("Base() = %s, want %s", got, tc.base)
		}
		if got := tc.inst.Symbol(); got != tc.symbol {
			t.Errorf("Symbol() = %s, want %s", got, tc.symbol)
		}
	}
}

func TestParseSymbolRoundTrip(t *testing.T) {
	for _, symbol := range []string{"GOLD24K-SAR", "GOLD18K-USD", "SILVER-SAR"} {
		inst, err := ParseSymbol(symbol)
		if err != nil {
			t.Fatalf("ParseSymbol(%s): %v", symbol, err)
		}
		if inst.Symbol() != symbol {
			t.Errorf("round trip %s -> %s", symbol, inst.Symbol())
		}
	}
}

func TestParseSymbolNormalizesCase(t *testing.T) {
	inst, err := ParseSymbol(" gold24k-sar ")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if inst.Symbol() != "GOLD24K-SAR" {
		t.Errorf("symbol = %s", inst.Symbol())
	}
}

func TestParseSymbolRejectsMalformed(t *testing.T) {
	for _, symbol := range []string{"", "GOLD24K", "GOLD24K-", "-SAR", "PLATINUM-SAR", "GOLDXK-SAR", "GOLD0K-SAR", "GOLD24-SAR"} {
		if _, err := ParseSymbol(symbol); err == nil {
			t.Errorf("ParseSymbol(%q) should fail", symbol)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	gold := Instrument{Metal: MetalGold, Carat: 24, Quote: "SAR"}
	limits := Limits{MinQty: decimal.RequireFromString("0.1"), MaxQty: decimal.NewFromInt(1000)}
	if err := r.Add(gold, limits); err != nil {
		t.Fatalf("Add: %v", err)
	}

	inst, got, ok := r.Lookup("gold24k-sar")
	if !ok {
		t.Fatal("listed instrument not found")
	}
	if inst != gold {
		t.Errorf("instrument = %+v", inst)
	}
	if !got.MinQty.Equal(limits.MinQty) || !got.MaxQty.Equal(limits.MaxQty) {
		t.Errorf("limits = %+v", got)
	}

	if _, _, ok := r.Lookup("SILVER-SAR"); ok {
		t.Error("unlisted instrument should not resolve")
	}
	if _, _, ok := r.Lookup("junk"); ok {
		t.Error("malformed symbol should not resolve")
	}
}

func TestRegistryAddRejectsBadLimits(t *testing.T) {
	r := NewRegistry()
	inst := Instrument{Metal: MetalGold, Carat: 24, Quote: "SAR"}

	bad := Limits{MinQty: decimal.NewFromInt(10), MaxQty: decimal.NewFromInt(1)}
	if err := r.Add(inst, bad); err == nil {
		t.Error("max below min should fail")
	}
	if err := r.Add(Instrument{Metal: MetalGold, Carat: 24}, Limits{}); err == nil {
		t.Error("missing quote asset should fail")
	}
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func stopLoss(account uuid.UUID, side Side, qty, trigger string) *Order {
	return &Order{
		ID:           uuid.New(),
		AccountID:    account,
		Instrument:   gold24,
		Side:         side,
		Kind:         KindStopLoss,
		Quantity:     dec(qty),
		TriggerPrice: dec(trigger),
		FeeTier:      "basic",
		CreatedAt:    time.Now().UTC(),
	}
}

func takeProfit(account uuid.UUID, side Side, qty, trigger, price string) *Order {
	return &Order{
		ID:           uuid.New(),
		AccountID:    account,
		Instrument:   gold24,
		Side:         side,
		Kind:         KindTakeProfit,
		Quantity:     dec(qty),
		TriggerPrice: dec(trigger),
		Price:        dec(price),
		FeeTier:      "basic",
		CreatedAt:    time.Now().UTC(),
	}
}

func TestStopLossSellFiresOnPriceDrop(t *testing.T) {
	f := newFixture(t)
	holder := f.seller("10")
	buyer := f.buyer("5000")

	// Bid resting at 340 provides the liquidity the fired stop hits.
	f.submit(limitOrder(buyer, SideBuy, "10", "340"))

	stop := stopLoss(holder, SideSell, "10", "345")
	f.submit(stop)

	// Above the trigger nothing happens.
	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("350"))
	if got, _ := f.engine.Lookup(stop.ID); got.Kind != KindStopLoss || got.Status != StatusOpen {
		t.Fatalf("stop should stay armed above trigger, got %s/%s", got.Kind, got.Status)
	}
	if f.sink.tradeCount() != 0 {
		t.Fatalf("trades before trigger = %d, want 0", f.sink.tradeCount())
	}

	// Crossing the trigger converts to a market sell and fills at the
	// resting bid's price.
	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("344"))
	if f.sink.tradeCount() != 1 {
		t.Fatalf("trades after trigger = %d, want 1", f.sink.tradeCount())
	}
	f.sink.mu.Lock()
	trade := f.sink.trades[0]
	f.sink.mu.Unlock()
	if trade.Price.String() != "340" || trade.Quantity.String() != "10" {
		t.Errorf("trade = %s @ %s, want 10 @ 340", trade.Quantity, trade.Price)
	}
	if trade.TakerSide != SideSell {
		t.Errorf("taker side = %s, want sell", trade.TakerSide)
	}
}

func TestStopLossBuyFiresOnPriceRise(t *testing.T) {
	f := newFixture(t)
	seller := f.seller("5")
	buyer := f.buyer("5000")

	f.submit(limitOrder(seller, SideSell, "5", "356"))

	stop := stopLoss(buyer, SideBuy, "5", "355")
	f.submit(stop)

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("354"))
	if f.sink.tradeCount() != 0 {
		t.Fatal("stop buy must not fire below trigger")
	}

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("355"))
	if f.sink.tradeCount() != 1 {
		t.Fatalf("trades = %d, want 1", f.sink.tradeCount())
	}
}

func TestTakeProfitSellConvertsToLimit(t *testing.T) {
	f := newFixture(t)
	holder := f.seller("10")

	tp := takeProfit(holder, SideSell, "10", "360", "359")
	f.submit(tp)

	// Fires on the way up with no bids: it must rest as a limit at its
	// price, not execute at any price.
	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("361"))
	if f.sink.tradeCount() != 0 {
		t.Fatalf("trades = %d, want 0", f.sink.tradeCount())
	}

	got, err := f.engine.Lookup(tp.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Kind != KindLimit {
		t.Errorf("kind = %s, want limit after activation", got.Kind)
	}
	view := f.engine.Snapshot(gold24.Symbol())
	if len(view.Asks) != 1 || view.Asks[0].Price.String() != "359" {
		t.Errorf("asks = %+v, want one level at 359", view.Asks)
	}
}

func TestTakeProfitBuyFiresOnPriceDrop(t *testing.T) {
	f := newFixture(t)
	seller := f.seller("5")
	buyer := f.buyer("5000")

	f.submit(limitOrder(seller, SideSell, "5", "338"))

	tp := takeProfit(buyer, SideBuy, "5", "340", "340")
	f.submit(tp)

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("341"))
	if f.sink.tradeCount() != 0 {
		t.Fatal("take-profit buy must not fire above trigger")
	}

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("339"))
	if f.sink.tradeCount() != 1 {
		t.Fatalf("trades = %d, want 1", f.sink.tradeCount())
	}
	f.sink.mu.Lock()
	trade := f.sink.trades[0]
	f.sink.mu.Unlock()
	if trade.Price.String() != "338" {
		t.Errorf("execution price = %s, want maker price 338", trade.Price)
	}
}

func TestTriggerOrdersActivateInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	holderA := f.seller("5")
	holderB := f.seller("5")
	buyer := f.buyer("5000")

	// Only 5g of bid liquidity: the earlier stop takes it all.
	f.submit(limitOrder(buyer, SideBuy, "5", "340"))

	stopA := stopLoss(holderA, SideSell, "5", "345")
	stopB := stopLoss(holderB, SideSell, "5", "345")
	f.submit(stopA)
	f.submit(stopB)

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("344"))

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(f.sink.trades))
	}
	if f.sink.trades[0].SellerID != holderA {
		t.Error("earlier armed order should activate first")
	}
}

func TestCancelArmedTriggerOrder(t *testing.T) {
	f := newFixture(t)
	holder := f.seller("10")

	stop := stopLoss(holder, SideSell, "10", "345")
	f.submit(stop)

	if _, err := f.engine.Cancel(context.Background(), holder, stop.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	b := f.ledger.Balance(holder, gold24.Base())
	if b.Available.String() != "10" || !b.Frozen.IsZero() {
		t.Errorf("balance = %s/%s, want 10/0", b.Available, b.Frozen)
	}

	// The cancelled stop must not fire.
	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("340"))
	if f.sink.tradeCount() != 0 {
		t.Error("cancelled trigger order fired")
	}
}

func TestLastPriceFollowsTicksAndTrades(t *testing.T) {
	f := newFixture(t)
	seller := f.seller("5")
	buyer := f.buyer("5000")

	if _, ok := f.engine.LastPrice(gold24.Symbol()); ok {
		t.Error("fresh instrument should have no reference price")
	}

	f.engine.OnPriceTick(context.Background(), gold24.Symbol(), dec("349"))
	if last, _ := f.engine.LastPrice(gold24.Symbol()); last.String() != "349" {
		t.Errorf("last price = %s, want 349", last)
	}

	f.submit(limitOrder(seller, SideSell, "5", "350"))
	f.submit(marketOrder(buyer, SideBuy, "5"))
	if last, _ := f.engine.LastPrice(gold24.Symbol()); last.String() != "350" {
		t.Errorf("last price after trade = %s, want 350", last)
	}
}

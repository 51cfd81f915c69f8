package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettleRequest describes one fill: the buyer pays quantity*price plus their
// fee out of their frozen cash, the seller delivers quantity grams out of
// their frozen metal, and the platform account collects both fees.
type SettleRequest struct {
	TradeID     uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	BaseAsset   string // metal grams, e.g. GOLD24K
	QuoteAsset  string // cash, e.g. SAR
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	BuyerFee    decimal.Decimal
	SellerFee   decimal.Decimal
}

// SettleResult reports what remains reserved on each leg after the fill.
type SettleResult struct {
	BuyerReserved  decimal.Decimal
	SellerReserved decimal.Decimal
}

// Settle applies the four balance movements of one fill atomically: either
// all of them apply or none do. Every movement is validated against frozen
// balances and reservation remainders before the first mutation, so a
// violation leaves both legs exactly as they were.
func (l *Ledger) Settle(req SettleRequest) (SettleResult, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) || req.Price.LessThanOrEqual(decimal.Zero) {
		return SettleResult{}, fmt.Errorf("%w: non-positive quantity or price", ErrSettlementInvariant)
	}
	if req.BuyerFee.IsNegative() || req.SellerFee.IsNegative() {
		return SettleResult{}, fmt.Errorf("%w: negative fee", ErrSettlementInvariant)
	}
	if req.BuyerID == req.SellerID {
		return SettleResult{}, fmt.Errorf("%w: buyer and seller are the same account", ErrSettlementInvariant)
	}

	notional := req.Quantity.Mul(req.Price)
	buyerDebit := notional.Add(req.BuyerFee)
	sellerCredit := notional.Sub(req.SellerFee)
	feeTotal := req.BuyerFee.Add(req.SellerFee)
	if sellerCredit.IsNegative() {
		return SettleResult{}, fmt.Errorf("%w: seller fee exceeds notional", ErrSettlementInvariant)
	}

	l.mu.RLock()
	buyRes := l.reservations[req.BuyOrderID]
	sellRes := l.reservations[req.SellOrderID]
	l.mu.RUnlock()
	if buyRes == nil || sellRes == nil {
		return SettleResult{}, fmt.Errorf("%w: missing reservation for trade %s", ErrSettlementInvariant, req.TradeID)
	}

	buyerWallet := l.wallet(req.BuyerID)
	sellerWallet := l.wallet(req.SellerID)
	platformWallet := l.wallet(l.platformID)

	unlock := l.lockAll(
		lockTarget{req.BuyerID, buyerWallet},
		lockTarget{req.SellerID, sellerWallet},
		lockTarget{l.platformID, platformWallet},
	)
	defer unlock()

	// Validate everything before touching anything.
	if buyRes.Released || buyRes.AccountID != req.BuyerID || buyRes.Asset != req.QuoteAsset {
		return SettleResult{}, fmt.Errorf("%w: buyer reservation mismatch", ErrSettlementInvariant)
	}
	if sellRes.Released || sellRes.AccountID != req.SellerID || sellRes.Asset != req.BaseAsset {
		return SettleResult{}, fmt.Errorf("%w: seller reservation mismatch", ErrSettlementInvariant)
	}
	if buyRes.remaining().LessThan(buyerDebit) {
		return SettleResult{}, fmt.Errorf("%w: buyer reservation %s cannot cover %s %s",
			ErrSettlementInvariant, buyRes.remaining(), buyerDebit, req.QuoteAsset)
	}
	if sellRes.remaining().LessThan(req.Quantity) {
		return SettleResult{}, fmt.Errorf("%w: seller reservation %s cannot cover %s %s",
			ErrSettlementInvariant, sellRes.remaining(), req.Quantity, req.BaseAsset)
	}

	buyerCash := buyerWallet.get(req.QuoteAsset)
	sellerMetal := sellerWallet.get(req.BaseAsset)
	if buyerCash.frozen.LessThan(buyerDebit) {
		return SettleResult{}, fmt.Errorf("%w: buyer frozen %s below debit %s %s",
			ErrSettlementInvariant, buyerCash.frozen, buyerDebit, req.QuoteAsset)
	}
	if sellerMetal.frozen.LessThan(req.Quantity) {
		return SettleResult{}, fmt.Errorf("%w: seller frozen %s below quantity %s %s",
			ErrSettlementInvariant, sellerMetal.frozen, req.Quantity, req.BaseAsset)
	}

	now := time.Now().UTC()

	// Buyer leg: frozen cash out, metal in.
	buyerCash.frozen = buyerCash.frozen.Sub(buyerDebit)
	buyerCash.updatedAt = now
	buyerMetal := buyerWallet.get(req.BaseAsset)
	buyerMetal.available = buyerMetal.available.Add(req.Quantity)
	buyerMetal.updatedAt = now
	buyRes.Consumed = buyRes.Consumed.Add(buyerDebit)

	// Seller leg: frozen metal out, cash in.
	sellerMetal.frozen = sellerMetal.frozen.Sub(req.Quantity)
	sellerMetal.updatedAt = now
	sellerCash := sellerWallet.get(req.QuoteAsset)
	sellerCash.available = sellerCash.available.Add(sellerCredit)
	sellerCash.updatedAt = now
	sellRes.Consumed = sellRes.Consumed.Add(req.Quantity)

	// Platform collects both fees.
	if feeTotal.IsPositive() {
		platformCash := platformWallet.get(req.QuoteAsset)
		platformCash.available = platformCash.available.Add(feeTotal)
		platformCash.updatedAt = now
	}

	return SettleResult{
		BuyerReserved:  buyRes.remaining(),
		SellerReserved: sellRes.remaining(),
	}, nil
}

type lockTarget struct {
	id uuid.UUID
	w  *wallet
}

// lockAll acquires the wallets in ascending account-id order and returns a
// single unlock for all of them.
func (l *Ledger) lockAll(targets ...lockTarget) func() {
	sort.Slice(targets, func(i, j int) bool { return targets[i].id.String() < targets[j].id.String() })

	locked := make([]*wallet, 0, len(targets))
	seen := make(map[uuid.UUID]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.id]; dup {
			continue
		}
		seen[t.id] = struct{}{}
		t.w.mu.Lock()
		locked = append(locked, t.w)
	}

	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
}

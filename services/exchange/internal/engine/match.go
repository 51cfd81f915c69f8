package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
)

// match executes the taker against the book in price-time order. Each fill
// settles through the ledger before it is recorded; a settlement invariant
// violation aborts the loop with the earlier fills intact. Called with the
// lane locked. Returns the trades plus a copy of each touched maker.
func (ln *lane) match(e *Engine, taker *Order) ([]Trade, []Order) {
	var trades []Trade
	var makers []Order
	now := time.Now().UTC()

	for taker.Remaining().IsPositive() {
		maker := ln.book.counterparty(taker)
		if maker == nil {
			break
		}

		qty := taker.Remaining()
		if maker.Remaining().LessThan(qty) {
			qty = maker.Remaining()
		}
		price := maker.Price
		notional := qty.Mul(price)

		buy, sell := taker, maker
		if taker.Side == SideSell {
			buy, sell = maker, taker
		}
		// Fees are charged on cumulative filled notional, net of what earlier
		// fills already paid. Per-fill rounding can otherwise sum past the fee
		// reserved at admission and abort the final fill of a funded order.
		buyerFee := e.fees.Fee(buy.FilledNotional.Add(notional), buy.FeeTier).Total.Sub(buy.FeesPaid)
		sellerFee := e.fees.Fee(sell.FilledNotional.Add(notional), sell.FeeTier).Total.Sub(sell.FeesPaid)

		tradeID := uuid.New()
		_, err := e.ledger.Settle(ledger.SettleRequest{
			TradeID:     tradeID,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			BuyerID:     buy.AccountID,
			SellerID:    sell.AccountID,
			BaseAsset:   taker.Instrument.Base(),
			QuoteAsset:  taker.Instrument.Quote,
			Quantity:    qty,
			Price:       price,
			BuyerFee:    buyerFee,
			SellerFee:   sellerFee,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrSettlementInvariant) {
				e.logger.Error("fill rejected by ledger, halting match",
					"symbol", ln.symbol,
					"taker_order_id", taker.ID,
					"maker_order_id", maker.ID,
					"error", err)
				break
			}
			e.logger.Error("settlement failed", "symbol", ln.symbol, "trade_id", tradeID, "error", err)
			break
		}

		buy.FeesPaid = buy.FeesPaid.Add(buyerFee)
		sell.FeesPaid = sell.FeesPaid.Add(sellerFee)
		taker.applyFill(qty, price, now)
		maker.applyFill(qty, price, now)
		ln.book.reduce(maker.ID, qty)
		if maker.Terminal() {
			e.retire(ln, maker)
		}
		makers = append(makers, *maker)
		ln.lastPrice = price

		trades = append(trades, Trade{
			ID:          tradeID,
			Symbol:      ln.symbol,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			BuyerID:     buy.AccountID,
			SellerID:    sell.AccountID,
			Price:       price,
			Quantity:    qty,
			BuyerFee:    buyerFee,
			SellerFee:   sellerFee,
			TakerSide:   taker.Side,
			ExecutedAt:  now,
		})
	}
	return trades, makers
}

// finishTaker decides what happens to the taker's remainder: limit orders
// rest in the book, everything else cancels. Terminal takers have their
// holds released. Called with the lane locked.
func (e *Engine) finishTaker(ln *lane, taker *Order) {
	if taker.Remaining().IsPositive() {
		if taker.Kind == KindLimit {
			ln.book.Insert(taker)
			ln.arena[taker.ID] = taker
			e.indexOrder(taker.ID, ln.symbol)
			return
		}
		// Market remainder has nothing left to match against.
		taker.setStatus(StatusCancelled, time.Now().UTC())
	}
	e.retire(ln, taker)
}

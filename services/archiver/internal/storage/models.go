package storage

import "time"

// TradeRow is the persisted form of one executed trade. Decimal columns are
// NUMERIC in Postgres and travel as strings to avoid float rounding.
type TradeRow struct {
	TradeID     string
	Symbol      string
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	Price       string
	Quantity    string
	BuyerFee    string
	SellerFee   string
	TakerSide   string
	ExecutedAt  time.Time
}

// OrderEventRow is one order status transition as observed on the stream.
type OrderEventRow struct {
	OrderID        string
	AccountID      string
	Symbol         string
	Side           string
	Kind           string
	Status         string
	Quantity       string
	Filled         string
	FilledNotional string
	Sequence       uint64
	UpdatedAt      time.Time
}

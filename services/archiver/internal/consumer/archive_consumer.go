package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/services/archiver/internal/storage"
	"log/slog"
)

// Archiver stores trade and order events durably so the in-memory exchange
// can shed its history. Malformed events park on the dead-letter topic;
// database errors are retried by leaving the offset unmarked.
type Archiver struct {
	store       TradeStore
	tradesTopic string
	ordersTopic string
	logger      *slog.Logger
}

type TradeStore interface {
	InsertTrade(ctx context.Context, eventID string, row storage.TradeRow) error
	InsertOrderEvent(ctx context.Context, eventID string, row storage.OrderEventRow) error
}

func NewArchiver(store TradeStore, tradesTopic, ordersTopic string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:       store,
		tradesTopic: tradesTopic,
		ordersTopic: ordersTopic,
		logger:      logger,
	}
}

type tradeEvent struct {
	kafka.Envelope
	Payload struct {
		TradeID     string `json:"trade_id"`
		Symbol      string `json:"symbol"`
		BuyOrderID  string `json:"buy_order_id"`
		SellOrderID string `json:"sell_order_id"`
		BuyerID     string `json:"buyer_id"`
		SellerID    string `json:"seller_id"`
		Price       string `json:"price"`
		Quantity    string `json:"quantity"`
		BuyerFee    string `json:"buyer_fee"`
		SellerFee   string `json:"seller_fee"`
		TakerSide   string `json:"taker_side"`
		ExecutedAt  string `json:"executed_at"`
	} `json:"payload"`
}

type orderEvent struct {
	kafka.Envelope
	Payload struct {
		OrderID        string `json:"order_id"`
		AccountID      string `json:"account_id"`
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		Kind           string `json:"kind"`
		Status         string `json:"status"`
		Quantity       string `json:"quantity"`
		Filled         string `json:"filled"`
		FilledNotional string `json:"filled_notional"`
		Sequence       uint64 `json:"sequence"`
		UpdatedAt      string `json:"updated_at"`
	} `json:"payload"`
}

func (a *Archiver) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case a.tradesTopic:
		return a.handleTrade(ctx, msg)
	case a.ordersTopic:
		return a.handleOrderEvent(ctx, msg)
	default:
		return kafka.DLQ(fmt.Errorf("topic %q not handled", msg.Topic), "unexpected topic")
	}
}

func (a *Archiver) handleTrade(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event tradeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(err, "malformed trade event")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, "invalid trade envelope")
	}
	executedAt, err := time.Parse(time.RFC3339Nano, event.Payload.ExecutedAt)
	if err != nil {
		return kafka.DLQ(err, "invalid trade timestamp")
	}

	row := storage.TradeRow{
		TradeID:     event.Payload.TradeID,
		Symbol:      event.Payload.Symbol,
		BuyOrderID:  event.Payload.BuyOrderID,
		SellOrderID: event.Payload.SellOrderID,
		BuyerID:     event.Payload.BuyerID,
		SellerID:    event.Payload.SellerID,
		Price:       event.Payload.Price,
		Quantity:    event.Payload.Quantity,
		BuyerFee:    event.Payload.BuyerFee,
		SellerFee:   event.Payload.SellerFee,
		TakerSide:   event.Payload.TakerSide,
		ExecutedAt:  executedAt,
	}
	if err := a.store.InsertTrade(ctx, event.EventID, row); err != nil {
		return fmt.Errorf("archive trade %s: %w", row.TradeID, err)
	}
	a.logger.Debug("trade archived", "trade_id", row.TradeID, "symbol", row.Symbol)
	return nil
}

func (a *Archiver) handleOrderEvent(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event orderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(err, "malformed order event")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, "invalid order envelope")
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, event.Payload.UpdatedAt)
	if err != nil {
		return kafka.DLQ(err, "invalid order timestamp")
	}

	row := storage.OrderEventRow{
		OrderID:        event.Payload.OrderID,
		AccountID:      event.Payload.AccountID,
		Symbol:         event.Payload.Symbol,
		Side:           event.Payload.Side,
		Kind:           event.Payload.Kind,
		Status:         event.Payload.Status,
		Quantity:       event.Payload.Quantity,
		Filled:         event.Payload.Filled,
		FilledNotional: event.Payload.FilledNotional,
		Sequence:       event.Payload.Sequence,
		UpdatedAt:      updatedAt,
	}
	if err := a.store.InsertOrderEvent(ctx, event.EventID, row); err != nil {
		return fmt.Errorf("archive order event %s: %w", row.OrderID, err)
	}
	return nil
}

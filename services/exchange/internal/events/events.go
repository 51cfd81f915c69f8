package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
)

const (
	EventTradeExecuted = "trade.executed"
	EventOrderStatus   = "order.status"

	eventVersion = 1
)

// TradeExecutedEvent is the wire form of one fill. Decimal values travel as
// strings to keep precision across consumers.
type TradeExecutedEvent struct {
	kafka.Envelope
	Payload TradePayload `json:"payload"`
}

type TradePayload struct {
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
}

// OrderStatusEvent is the wire form of an order state transition.
type OrderStatusEvent struct {
	kafka.Envelope
	Payload OrderStatusPayload `json:"payload"`
}

type OrderStatusPayload struct {
	OrderID        string `json:"order_id"`
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price,omitempty"`
	TriggerPrice   string `json:"trigger_price,omitempty"`
	Filled         string `json:"filled"`
	FilledNotional string `json:"filled_notional"`
	Sequence       uint64 `json:"sequence"`
	UpdatedAt      string `json:"updated_at"`
}

// KafkaSink publishes engine events through the shared sync producer. Event
// ids are deterministic over the event content, so replays after a crash
// dedupe downstream instead of double-counting.
type KafkaSink struct {
	producer    kafka.Publisher
	tradesTopic string
	ordersTopic string
	logger      *slog.Logger
}

func NewKafkaSink(producer kafka.Publisher, tradesTopic, ordersTopic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		producer:    producer,
		tradesTopic: tradesTopic,
		ordersTopic: ordersTopic,
		logger:      logger,
	}
}

func (s *KafkaSink) TradeExecuted(ctx context.Context, trade engine.Trade) {
	envelope, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(EventTradeExecuted, trade.ID.String()),
		EventTradeExecuted, eventVersion, trade.ID.String())
	if err != nil {
		s.logger.Error("trade envelope failed", "trade_id", trade.ID, "error", err)
		return
	}
	event := TradeExecutedEvent{
		Envelope: envelope,
		Payload: TradePayload{
			TradeID:     trade.ID.String(),
			Symbol:      trade.Symbol,
			BuyOrderID:  trade.BuyOrderID.String(),
			SellOrderID: trade.SellOrderID.String(),
			BuyerID:     trade.BuyerID.String(),
			SellerID:    trade.SellerID.String(),
			Price:       trade.Price.String(),
			Quantity:    trade.Quantity.String(),
			BuyerFee:    trade.BuyerFee.String(),
			SellerFee:   trade.SellerFee.String(),
			TakerSide:   string(trade.TakerSide),
			ExecutedAt:  trade.ExecutedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.tradesTopic, trade.Symbol, event); err != nil {
		s.logger.Error("trade publish failed", "trade_id", trade.ID, "topic", s.tradesTopic, "error", err)
	}
}

func (s *KafkaSink) OrderUpdated(ctx context.Context, order engine.Order) {
	filled := order.Filled.String()
	envelope, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(EventOrderStatus, order.ID.String(), string(order.Status), filled),
		EventOrderStatus, eventVersion, order.ID.String())
	if err != nil {
		s.logger.Error("order envelope failed", "order_id", order.ID, "error", err)
		return
	}
	event := OrderStatusEvent{
		Envelope: envelope,
		Payload: OrderStatusPayload{
			OrderID:        order.ID.String(),
			AccountID:      order.AccountID.String(),
			Symbol:         order.Symbol(),
			Side:           string(order.Side),
			Kind:           string(order.Kind),
			Status:         string(order.Status),
			Quantity:       order.Quantity.String(),
			Filled:         filled,
			FilledNotional: order.FilledNotional.String(),
			Sequence:       order.Sequence,
			UpdatedAt:      order.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if order.Price.IsPositive() {
		event.Payload.Price = order.Price.String()
	}
	if order.TriggerPrice.IsPositive() {
		event.Payload.TriggerPrice = order.TriggerPrice.String()
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.ordersTopic, order.Symbol(), event); err != nil {
		s.logger.Error("order publish failed", "order_id", order.ID, "topic", s.ordersTopic, "error", err)
	}
}

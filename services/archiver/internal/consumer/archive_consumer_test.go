package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/services/archiver/internal/storage"
)

type fakeStore struct {
	trades      map[string]storage.TradeRow
	orderEvents map[string]storage.OrderEventRow
	failWith    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:      make(map[string]storage.TradeRow),
		orderEvents: make(map[string]storage.OrderEventRow),
	}
}

func (s *fakeStore) InsertTrade(_ context.Context, eventID string, row storage.TradeRow) error {
	if s.failWith != nil {
		return s.failWith
	}
	if _, dup := s.trades[eventID]; dup {
		return nil
	}
	s.trades[eventID] = row
	return nil
}

func (s *fakeStore) InsertOrderEvent(_ context.Context, eventID string, row storage.OrderEventRow) error {
	if s.failWith != nil {
		return s.failWith
	}
	if _, dup := s.orderEvents[eventID]; dup {
		return nil
	}
	s.orderEvents[eventID] = row
	return nil
}

func newArchiver(store TradeStore) *Archiver {
	return NewArchiver(store, "trades.executed", "orders.status", nil)
}

func tradeMessage(t *testing.T, eventID string) *sarama.ConsumerMessage {
	t.Helper()
	envelope, err := kafka.NewEnvelopeWithID(eventID, "trade.executed", 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	event := map[string]any{
		"event_id":      envelope.EventID,
		"event_type":    envelope.EventType,
		"event_version": envelope.EventVersion,
		"timestamp":     envelope.Timestamp,
		"payload": map[string]any{
			"trade_id":      "t-1",
			"symbol":        "GOLD24K-SAR",
			"buy_order_id":  "b-1",
			"sell_order_id": "s-1",
			"buyer_id":      "acct-b",
			"seller_id":     "acct-s",
			"price":         "350",
			"quantity":      "10",
			"buyer_fee":     "19.25",
			"seller_fee":    "19.25",
			"taker_side":    "buy",
			"executed_at":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "trades.executed", Value: raw}
}

func TestArchiveTrade(t *testing.T) {
	store := newFakeStore()
	a := newArchiver(store)

	if err := a.HandleMessage(context.Background(), tradeMessage(t, "evt-1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	row, ok := store.trades["evt-1"]
	if !ok {
		t.Fatal("trade not stored")
	}
	if row.TradeID != "t-1" || row.Price != "350" || row.Quantity != "10" {
		t.Errorf("row = %+v", row)
	}
}

func TestArchiveTradeRedeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	a := newArchiver(store)

	msg := tradeMessage(t, "evt-dup")
	if err := a.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := a.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if len(store.trades) != 1 {
		t.Errorf("stored trades = %d, want 1", len(store.trades))
	}
}

func TestArchiveOrderEvent(t *testing.T) {
	store := newFakeStore()
	a := newArchiver(store)

	envelope, err := kafka.NewEnvelopeWithID("evt-o1", "order.status", 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	event := map[string]any{
		"event_id":      envelope.EventID,
		"event_type":    envelope.EventType,
		"event_version": envelope.EventVersion,
		"timestamp":     envelope.Timestamp,
		"payload": map[string]any{
			"order_id":        "o-1",
			"account_id":      "acct-1",
			"symbol":          "GOLD24K-SAR",
			"side":            "buy",
			"kind":            "limit",
			"status":          "filled",
			"quantity":        "10",
			"filled":          "10",
			"filled_notional": "3500",
			"sequence":        7,
			"updated_at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg := &sarama.ConsumerMessage{Topic: "orders.status", Value: raw}
	if err := a.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	row, ok := store.orderEvents["evt-o1"]
	if !ok {
		t.Fatal("order event not stored")
	}
	if row.Status != "filled" || row.Sequence != 7 {
		t.Errorf("row = %+v", row)
	}
}

func TestMalformedEventGoesToDLQ(t *testing.T) {
	a := newArchiver(newFakeStore())

	cases := []*sarama.ConsumerMessage{
		{Topic: "trades.executed", Value: []byte("not json")},
		{Topic: "trades.executed", Value: []byte(`{"event_id":"","payload":{}}`)},
		{Topic: "elsewhere", Value: []byte(`{}`)},
	}
	for _, msg := range cases {
		err := a.HandleMessage(context.Background(), msg)
		var dlqErr *kafka.DLQError
		if !errors.As(err, &dlqErr) {
			t.Errorf("topic %s: err = %v, want DLQError", msg.Topic, err)
		}
	}
}

func TestStoreFailureIsRetriable(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection reset")
	a := newArchiver(store)

	err := a.HandleMessage(context.Background(), tradeMessage(t, "evt-2"))
	if err == nil {
		t.Fatal("expected an error")
	}
	var dlqErr *kafka.DLQError
	if errors.As(err, &dlqErr) {
		t.Error("database errors must stay retriable, not dead-lettered")
	}
}

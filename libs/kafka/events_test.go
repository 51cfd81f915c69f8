package kafka

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("trade.executed", "trade-1")
	b := DeterministicEventID("trade.executed", "trade-1")
	if a != b {
		t.Errorf("ids differ: %s vs %s", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("id %q is not a uuid: %v", a, err)
	}
}

func TestDeterministicEventIDDistinguishesParts(t *testing.T) {
	a := DeterministicEventID("order.status", "o-1", "filled")
	b := DeterministicEventID("order.status", "o-1", "cancelled")
	if a == b {
		t.Error("different parts should yield different ids")
	}
}

func TestNewEnvelopeValidates(t *testing.T) {
	envelope, err := NewEnvelope("trade.executed", 1, "corr-1")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := envelope.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if envelope.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %s", envelope.CorrelationID)
	}

	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Error("empty event type should fail")
	}
	if _, err := NewEnvelope("trade.executed", 0, ""); err == nil {
		t.Error("zero version should fail")
	}
	if _, err := NewEnvelopeWithID("", "trade.executed", 1, ""); err == nil {
		t.Error("empty event id should fail")
	}
}

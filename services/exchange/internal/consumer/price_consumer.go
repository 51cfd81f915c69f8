package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/shopspring/decimal"
	"log/slog"
)

// PriceTick is the wire form of one reference-price update from the market
// data feed.
type PriceTick struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Source string `json:"source,omitempty"`
	TS     string `json:"ts,omitempty"`
}

// PriceHandler feeds external price ticks into the engine, where they update
// reference prices and fire armed trigger orders. Malformed ticks and ticks
// for unlisted instruments go to the dead-letter topic.
type PriceHandler struct {
	registry *asset.Registry
	engine   *engine.Engine
	logger   *slog.Logger
}

func NewPriceHandler(registry *asset.Registry, eng *engine.Engine, logger *slog.Logger) *PriceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceHandler{registry: registry, engine: eng, logger: logger}
}

func (h *PriceHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var tick PriceTick
	if err := json.Unmarshal(msg.Value, &tick); err != nil {
		return kafka.DLQ(err, "malformed price tick")
	}

	inst, _, ok := h.registry.Lookup(tick.Symbol)
	if !ok {
		return kafka.DLQ(fmt.Errorf("symbol %q not listed", tick.Symbol), "unknown instrument")
	}
	price, err := decimal.NewFromString(tick.Price)
	if err != nil || !price.IsPositive() {
		return kafka.DLQ(fmt.Errorf("price %q invalid", tick.Price), "invalid price")
	}

	h.engine.OnPriceTick(ctx, inst.Symbol(), price)
	h.logger.Debug("price tick applied", "symbol", inst.Symbol(), "price", price)
	return nil
}

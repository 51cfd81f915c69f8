package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/shopspring/decimal"
	"log/slog"
)

const lastPriceKey = "marketdata:last_price"

// Cache mirrors execution prices into Redis so reference prices survive a
// restart and other services can read them without touching the engine. It
// plugs into the engine as an event sink; order status changes are not
// cached here.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger}
}

func (c *Cache) TradeExecuted(ctx context.Context, trade engine.Trade) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.HSet(ctx, lastPriceKey, trade.Symbol, trade.Price.String()).Err(); err != nil {
		c.logger.Error("last price cache write failed", "symbol", trade.Symbol, "error", err)
	}
}

func (c *Cache) OrderUpdated(ctx context.Context, order engine.Order) {}

// LastPrice reads the cached execution price for a symbol, used to seed the
// engine's reference prices at startup.
func (c *Cache) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := c.client.HGet(ctx, lastPriceKey, symbol).Result()
	if err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("cached price for %s corrupt: %w", symbol, err)
	}
	return price, nil
}

// SeedEngine primes every listed instrument's reference price from the
// cache. Missing entries are skipped.
func (c *Cache) SeedEngine(ctx context.Context, eng *engine.Engine, symbols []string) {
	for _, symbol := range symbols {
		price, err := c.LastPrice(ctx, symbol)
		if err != nil {
			if err != redis.Nil {
				c.logger.Warn("price seed skipped", "symbol", symbol, "error", err)
			}
			continue
		}
		eng.SeedPrice(symbol, price)
	}
}

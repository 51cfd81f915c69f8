package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
)

// MarketDataHandler serves depth snapshots and reference prices. Snapshots
// are aggregated per level; individual order identities are never exposed.
type MarketDataHandler struct {
	registry *asset.Registry
	engine   *engine.Engine
}

func NewMarketDataHandler(registry *asset.Registry, eng *engine.Engine) *MarketDataHandler {
	return &MarketDataHandler{registry: registry, engine: eng}
}

func (h *MarketDataHandler) Register(group *gin.RouterGroup) {
	group.GET("/orderbook/:symbol", h.orderbook)
	group.GET("/instruments", h.instruments)
}

type levelJSON struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

type orderbookResponse struct {
	Symbol    string      `json:"symbol"`
	Bids      []levelJSON `json:"bids"`
	Asks      []levelJSON `json:"asks"`
	LastPrice string      `json:"last_price,omitempty"`
}

func (h *MarketDataHandler) orderbook(c *gin.Context) {
	symbol := c.Param("symbol")
	inst, _, ok := h.registry.Lookup(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "UNKNOWN_INSTRUMENT", "message": "instrument not listed"})
		return
	}

	view := h.engine.Snapshot(inst.Symbol())
	resp := orderbookResponse{
		Symbol: view.Symbol,
		Bids:   levelsJSON(view.Bids),
		Asks:   levelsJSON(view.Asks),
	}
	if last, ok := h.engine.LastPrice(inst.Symbol()); ok {
		resp.LastPrice = last.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MarketDataHandler) instruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.registry.Symbols()})
}

func levelsJSON(levels []engine.LevelView) []levelJSON {
	out := make([]levelJSON, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelJSON{Price: l.Price.String(), Quantity: l.Quantity.String(), Orders: l.Orders})
	}
	return out
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/libs/auth"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/sabikalabs/sabika/services/exchange/internal/lifecycle"
	"github.com/sabikalabs/sabika/services/exchange/internal/validation"
	"log/slog"
)

// OrderHandler exposes the order lifecycle over HTTP. All money movement
// happens in the controller and ledger; the handler only translates wire
// shapes and error codes.
type OrderHandler struct {
	controller *lifecycle.Controller
	logger     *slog.Logger
}

func NewOrderHandler(controller *lifecycle.Controller, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{controller: controller, logger: logger}
}

func (h *OrderHandler) Register(group *gin.RouterGroup) {
	group.POST("/orders", h.placeOrder)
	group.GET("/orders/:id", h.getOrder)
	group.DELETE("/orders/:id", h.cancelOrder)
}

type orderView struct {
	OrderID      string `json:"order_id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"trigger_price,omitempty"`
	Filled       string `json:"filled"`
	AvgFillPrice string `json:"avg_fill_price,omitempty"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type tradeView struct {
	TradeID    string `json:"trade_id"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	ExecutedAt string `json:"executed_at"`
}

type placeOrderResponse struct {
	Order  orderView   `json:"order"`
	Trades []tradeView `json:"trades"`
}

func viewOrder(o engine.Order) orderView {
	v := orderView{
		OrderID:   o.ID.String(),
		Symbol:    o.Symbol(),
		Side:      string(o.Side),
		Kind:      string(o.Kind),
		Status:    string(o.Status),
		Quantity:  o.Quantity.String(),
		Filled:    o.Filled.String(),
		CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.Price.IsPositive() {
		v.Price = o.Price.String()
	}
	if o.TriggerPrice.IsPositive() {
		v.TriggerPrice = o.TriggerPrice.String()
	}
	if o.Filled.IsPositive() {
		v.AvgFillPrice = o.AvgFillPrice().String()
	}
	if !o.ExpiresAt.IsZero() {
		v.ExpiresAt = o.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (h *OrderHandler) placeOrder(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}

	var req validation.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BODY", "message": err.Error()})
		return
	}

	parsed, err := validation.ParseOrder(req, time.Now().UTC())
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_FAILED", "message": "invalid order", "details": verrs})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_FAILED", "message": err.Error()})
		return
	}

	result, err := h.controller.PlaceOrder(c.Request.Context(), accountID, c.GetString(auth.ContextFeeTierKey), parsed)
	if err != nil {
		h.placeOrderError(c, err)
		return
	}

	resp := placeOrderResponse{Order: viewOrder(result.Order), Trades: make([]tradeView, 0, len(result.Trades))}
	for _, t := range result.Trades {
		resp.Trades = append(resp.Trades, tradeView{
			TradeID:    t.ID.String(),
			Price:      t.Price.String(),
			Quantity:   t.Quantity.String(),
			ExecutedAt: t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *OrderHandler) placeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownInstrument):
		c.JSON(http.StatusNotFound, gin.H{"code": "UNKNOWN_INSTRUMENT", "message": err.Error()})
	case errors.Is(err, lifecycle.ErrQuantityOutOfRange):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "QUANTITY_OUT_OF_RANGE", "message": err.Error()})
	case errors.Is(err, lifecycle.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INSUFFICIENT_FUNDS", "message": err.Error()})
	case errors.Is(err, lifecycle.ErrNoReferencePrice):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "NO_REFERENCE_PRICE", "message": err.Error()})
	default:
		h.logger.Error("place order failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
	}
}

func (h *OrderHandler) getOrder(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ORDER_ID", "message": "order id must be a uuid"})
		return
	}

	order, err := h.controller.Get(accountID, orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "message": "order not found"})
		return
	}
	c.JSON(http.StatusOK, viewOrder(order))
}

func (h *OrderHandler) cancelOrder(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ORDER_ID", "message": "order id must be a uuid"})
		return
	}

	order, err := h.controller.Cancel(c.Request.Context(), accountID, orderID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "message": "order not found or not cancellable"})
			return
		}
		h.logger.Error("cancel failed", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, viewOrder(order))
}

// accountFrom reads the authenticated account id set by the auth middleware.
func accountFrom(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(auth.ContextUserIDKey)
	accountID, err := uuid.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid subject"})
		return uuid.Nil, false
	}
	return accountID, true
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
	"github.com/shopspring/decimal"
	"log/slog"
)

// WalletHandler exposes balances, deposits and withdrawals. Deposits and
// withdrawals are the only endpoints that change an account's total balance.
type WalletHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewWalletHandler(lgr *ledger.Ledger, logger *slog.Logger) *WalletHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletHandler{ledger: lgr, logger: logger}
}

func (h *WalletHandler) Register(group *gin.RouterGroup) {
	group.GET("/balances", h.balances)
	group.POST("/deposits", h.deposit)
	group.POST("/withdrawals", h.withdraw)
}

type balanceJSON struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

func (h *WalletHandler) balances(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}

	balances := h.ledger.Balances(accountID)
	out := make([]balanceJSON, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceJSON{Asset: b.Asset, Available: b.Available.String(), Frozen: b.Frozen.String()})
	}
	c.JSON(http.StatusOK, gin.H{"balances": out})
}

type fundsRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (h *WalletHandler) deposit(c *gin.Context) {
	h.moveFunds(c, h.ledger.Deposit)
}

func (h *WalletHandler) withdraw(c *gin.Context) {
	h.moveFunds(c, h.ledger.Withdraw)
}

func (h *WalletHandler) moveFunds(c *gin.Context, move func(accountID uuid.UUID, asset string, amount decimal.Decimal) error) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}

	var req fundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BODY", "message": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_AMOUNT", "message": "amount must be a decimal number"})
		return
	}

	if err := move(accountID, req.Asset, amount); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_AMOUNT", "message": "amount must be positive"})
		case errors.Is(err, ledger.ErrInsufficientBalance):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INSUFFICIENT_FUNDS", "message": "available balance too low"})
		default:
			h.logger.Error("funds movement failed", "account_id", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "internal error"})
		}
		return
	}

	b := h.ledger.Balance(accountID, req.Asset)
	c.JSON(http.StatusOK, balanceJSON{Asset: b.Asset, Available: b.Available.String(), Frozen: b.Frozen.String()})
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/libs/auth"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/sabikalabs/sabika/services/exchange/internal/fees"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
	"github.com/sabikalabs/sabika/services/exchange/internal/lifecycle"
	"github.com/shopspring/decimal"
)

var (
	jwtSecret  = []byte("test-secret")
	platformID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testStack struct {
	router *gin.Engine
	ledger *ledger.Ledger
	engine *engine.Engine
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := asset.NewRegistry()
	gold := asset.Instrument{Metal: asset.MetalGold, Carat: 24, Quote: "SAR"}
	if err := registry.Add(gold, asset.Limits{MinQty: dec("0.1"), MaxQty: dec("1000")}); err != nil {
		t.Fatalf("registry: %v", err)
	}
	schedule, err := fees.NewSchedule(map[string]int64{"basic": 50}, "basic", 5, 2)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	l := ledger.New(platformID, nil)
	eng := engine.New(l, schedule, nil, nil, nil)
	controller := lifecycle.NewController(registry, l, eng, schedule, 100, nil)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(auth.Middleware(jwtSecret))
	NewOrderHandler(controller, nil).Register(v1)
	NewMarketDataHandler(registry, eng).Register(v1)
	NewWalletHandler(l, nil).Register(v1)

	return &testStack{router: router, ledger: l, engine: eng}
}

func token(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	claims := auth.Claims{
		FeeTier: "basic",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testStack) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/v1/balances", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDepositAndBalances(t *testing.T) {
	s := newTestStack(t)
	account := uuid.New()
	tok := token(t, account)

	rec := s.do(t, http.MethodPost, "/v1/deposits", tok, map[string]string{"asset": "SAR", "amount": "5000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/v1/balances", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balances status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	balances, _ := body["balances"].([]any)
	if len(balances) != 1 {
		t.Fatalf("balances = %v, want one entry", body)
	}
	entry := balances[0].(map[string]any)
	if entry["asset"] != "SAR" || entry["available"] != "5000" {
		t.Errorf("entry = %v", entry)
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	s := newTestStack(t)
	tok := token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/v1/withdrawals", tok, map[string]string{"asset": "SAR", "amount": "10"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestPlaceLimitOrderFlow(t *testing.T) {
	s := newTestStack(t)
	seller := uuid.New()
	buyer := uuid.New()
	sellerTok := token(t, seller)
	buyerTok := token(t, buyer)

	if rec := s.do(t, http.MethodPost, "/v1/deposits", sellerTok, map[string]string{"asset": "GOLD24K", "amount": "10"}); rec.Code != http.StatusOK {
		t.Fatalf("seller deposit: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/deposits", buyerTok, map[string]string{"asset": "SAR", "amount": "5000"}); rec.Code != http.StatusOK {
		t.Fatalf("buyer deposit: %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/v1/orders", sellerTok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "sell", "kind": "limit", "quantity": "10", "price": "350",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sell status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/v1/orders", buyerTok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "buy", "kind": "market", "quantity": "10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("buy status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	order := body["order"].(map[string]any)
	if order["status"] != "filled" {
		t.Errorf("order status = %v, want filled", order["status"])
	}
	trades := body["trades"].([]any)
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	trade := trades[0].(map[string]any)
	if trade["price"] != "350" || trade["quantity"] != "10" {
		t.Errorf("trade = %v", trade)
	}
}

func TestPlaceOrderValidationFailure(t *testing.T) {
	s := newTestStack(t)
	tok := token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "buy", "kind": "limit", "quantity": "0", "price": "350",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["code"] != "VALIDATION_FAILED" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	s := newTestStack(t)
	tok := token(t, uuid.New())

	rec := s.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "buy", "kind": "limit", "quantity": "10", "price": "350",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["code"] != "INSUFFICIENT_FUNDS" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPlaceMarketBuyWithoutReferencePrice(t *testing.T) {
	s := newTestStack(t)
	tok := token(t, uuid.New())

	if rec := s.do(t, http.MethodPost, "/v1/deposits", tok, map[string]string{"asset": "SAR", "amount": "5000"}); rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "buy", "kind": "market", "quantity": "1",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelOrderFlow(t *testing.T) {
	s := newTestStack(t)
	account := uuid.New()
	tok := token(t, account)

	if rec := s.do(t, http.MethodPost, "/v1/deposits", tok, map[string]string{"asset": "SAR", "amount": "5000"}); rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "buy", "kind": "limit", "quantity": "10", "price": "350",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place: %d", rec.Code)
	}
	orderID := decodeBody(t, rec)["order"].(map[string]any)["order_id"].(string)

	rec = s.do(t, http.MethodGet, "/v1/orders/"+orderID, tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/v1/orders/"+orderID, tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["status"] != "cancelled" {
		t.Errorf("body = %s", rec.Body.String())
	}

	// Another account cannot see or cancel the order.
	foreign := token(t, uuid.New())
	if rec := s.do(t, http.MethodDelete, "/v1/orders/"+orderID, foreign, nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign cancel status = %d, want 404", rec.Code)
	}
}

func TestOrderbookSnapshot(t *testing.T) {
	s := newTestStack(t)
	account := uuid.New()
	tok := token(t, account)

	if rec := s.do(t, http.MethodPost, "/v1/deposits", tok, map[string]string{"asset": "GOLD24K", "amount": "10"}); rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/orders", tok, map[string]string{
		"symbol": "GOLD24K-SAR", "side": "sell", "kind": "limit", "quantity": "10", "price": "352",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("place: %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/v1/orderbook/GOLD24K-SAR", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orderbook: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	asks := body["asks"].([]any)
	if len(asks) != 1 {
		t.Fatalf("asks = %v", body)
	}
	level := asks[0].(map[string]any)
	if level["price"] != "352" || level["quantity"] != "10" {
		t.Errorf("level = %v", level)
	}

	if rec := s.do(t, http.MethodGet, "/v1/orderbook/PLATINUM-SAR", tok, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown instrument status = %d, want 404", rec.Code)
	}
}

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSettlementInvariant = errors.New("settlement invariant violation")
)

// Balance is one asset row of a wallet. Total balance is available + frozen;
// reservations only move value between the two, never create or destroy it.
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	UpdatedAt time.Time
}

type balance struct {
	available decimal.Decimal
	frozen    decimal.Decimal
	updatedAt time.Time
}

type wallet struct {
	mu       sync.Mutex
	balances map[string]*balance
}

func (w *wallet) get(asset string) *balance {
	b := w.balances[asset]
	if b == nil {
		b = &balance{available: decimal.Zero, frozen: decimal.Zero}
		w.balances[asset] = b
	}
	return b
}

// Reservation is a hold against one order: funds moved from available to
// frozen at admission, consumed by settlement fill by fill, and released
// back when the order leaves the book.
type Reservation struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	AccountID uuid.UUID
	Asset     string
	Amount    decimal.Decimal
	Consumed  decimal.Decimal
	Released  bool
	CreatedAt time.Time
}

func (r *Reservation) remaining() decimal.Decimal {
	return r.Amount.Sub(r.Consumed)
}

// Ledger holds every trader's wallet in memory. Mutations on a single wallet
// are serialized by that wallet's mutex; settlements spanning wallets take
// the involved locks in ascending account-id order so concurrent settles
// over overlapping accounts cannot deadlock.
type Ledger struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]*wallet
	reservations map[uuid.UUID]*Reservation // keyed by order id
	platformID   uuid.UUID
	logger       *slog.Logger
}

func New(platformID uuid.UUID, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		wallets:      make(map[uuid.UUID]*wallet),
		reservations: make(map[uuid.UUID]*Reservation),
		platformID:   platformID,
		logger:       logger,
	}
	l.wallets[platformID] = newWallet()
	return l
}

func newWallet() *wallet {
	return &wallet{balances: make(map[string]*balance)}
}

func (l *Ledger) PlatformAccount() uuid.UUID {
	return l.platformID
}

func (l *Ledger) wallet(accountID uuid.UUID) *wallet {
	l.mu.RLock()
	w := l.wallets[accountID]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	w = l.wallets[accountID]
	if w == nil {
		w = newWallet()
		l.wallets[accountID] = w
	}
	return w
}

// Deposit credits available funds. Deposits and withdrawals are the only
// operations that change an account's total balance.
func (l *Ledger) Deposit(accountID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	w := l.wallet(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.get(asset)
	b.available = b.available.Add(amount)
	b.updatedAt = time.Now().UTC()
	return nil
}

func (l *Ledger) Withdraw(accountID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	w := l.wallet(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.get(asset)
	if b.available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.available = b.available.Sub(amount)
	b.updatedAt = time.Now().UTC()
	return nil
}

func (l *Ledger) Balance(accountID uuid.UUID, asset string) Balance {
	w := l.wallet(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.get(asset)
	return Balance{Asset: asset, Available: b.available, Frozen: b.frozen, UpdatedAt: b.updatedAt}
}

func (l *Ledger) Balances(accountID uuid.UUID) []Balance {
	w := l.wallet(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Balance, 0, len(w.balances))
	for asset, b := range w.balances {
		out = append(out, Balance{Asset: asset, Available: b.available, Frozen: b.frozen, UpdatedAt: b.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Reserve moves amount from available to frozen and records the hold against
// the order. Fails without side effects when available funds do not cover
// the amount. One reservation per order.
func (l *Ledger) Reserve(accountID, orderID uuid.UUID, asset string, amount decimal.Decimal) (Reservation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Reservation{}, ErrInvalidAmount
	}

	w := l.wallet(accountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	l.mu.Lock()
	if existing, ok := l.reservations[orderID]; ok && !existing.Released {
		l.mu.Unlock()
		return Reservation{}, fmt.Errorf("order %s already has an active reservation", orderID)
	}
	l.mu.Unlock()

	b := w.get(asset)
	if b.available.LessThan(amount) {
		return Reservation{}, ErrInsufficientBalance
	}

	b.available = b.available.Sub(amount)
	b.frozen = b.frozen.Add(amount)
	b.updatedAt = time.Now().UTC()

	res := &Reservation{
		ID:        uuid.New(),
		OrderID:   orderID,
		AccountID: accountID,
		Asset:     asset,
		Amount:    amount,
		Consumed:  decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	l.reservations[orderID] = res
	l.mu.Unlock()

	return *res, nil
}

// Release moves the unconsumed remainder of an order's reservation back to
// available funds. Releasing an already-released reservation is a no-op.
func (l *Ledger) Release(orderID uuid.UUID) (decimal.Decimal, error) {
	l.mu.RLock()
	res := l.reservations[orderID]
	l.mu.RUnlock()
	if res == nil {
		return decimal.Zero, ErrReservationNotFound
	}

	w := l.wallet(res.AccountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if res.Released {
		return decimal.Zero, nil
	}

	remaining := res.remaining()
	if remaining.IsPositive() {
		b := w.get(res.Asset)
		b.frozen = b.frozen.Sub(remaining)
		b.available = b.available.Add(remaining)
		b.updatedAt = time.Now().UTC()
	}
	res.Released = true
	return remaining, nil
}

// Reserved reports the unconsumed remainder held for an order, zero when no
// active reservation exists.
func (l *Ledger) Reserved(orderID uuid.UUID) decimal.Decimal {
	l.mu.RLock()
	res := l.reservations[orderID]
	l.mu.RUnlock()
	if res == nil {
		return decimal.Zero
	}

	w := l.wallet(res.AccountID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if res.Released {
		return decimal.Zero
	}
	return res.remaining()
}

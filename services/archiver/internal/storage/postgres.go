package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"log/slog"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id      TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	buy_order_id  TEXT NOT NULL,
	sell_order_id TEXT NOT NULL,
	buyer_id      TEXT NOT NULL,
	seller_id     TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	quantity      NUMERIC NOT NULL,
	buyer_fee     NUMERIC NOT NULL,
	seller_fee    NUMERIC NOT NULL,
	taker_side    TEXT NOT NULL,
	executed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_symbol_executed_at_idx ON trades (symbol, executed_at);

CREATE TABLE IF NOT EXISTS order_events (
	id              BIGSERIAL PRIMARY KEY,
	order_id        TEXT NOT NULL,
	account_id      TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	quantity        NUMERIC NOT NULL,
	filled          NUMERIC NOT NULL,
	filled_notional NUMERIC NOT NULL,
	sequence        BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_events_order_id_idx ON order_events (order_id);
`

// Store persists the trade and order history behind the event stream. Every
// write is keyed by the event id, so redelivered events insert nothing.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Migrate creates the archive tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertTrade stores one trade unless its event id was already processed.
func (s *Store) InsertTrade(ctx context.Context, eventID string, row TradeRow) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		fresh, err := markProcessed(ctx, tx, eventID)
		if err != nil || !fresh {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO trades (
				trade_id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id,
				price, quantity, buyer_fee, seller_fee, taker_side, executed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (trade_id) DO NOTHING`,
			row.TradeID, row.Symbol, row.BuyOrderID, row.SellOrderID, row.BuyerID, row.SellerID,
			row.Price, row.Quantity, row.BuyerFee, row.SellerFee, row.TakerSide, row.ExecutedAt)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", row.TradeID, err)
		}
		return nil
	})
}

// InsertOrderEvent stores one order status transition, deduplicated on the
// event id.
func (s *Store) InsertOrderEvent(ctx context.Context, eventID string, row OrderEventRow) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		fresh, err := markProcessed(ctx, tx, eventID)
		if err != nil || !fresh {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_events (
				order_id, account_id, symbol, side, kind, status,
				quantity, filled, filled_notional, sequence, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			row.OrderID, row.AccountID, row.Symbol, row.Side, row.Kind, row.Status,
			row.Quantity, row.Filled, row.FilledNotional, row.Sequence, row.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order event %s: %w", row.OrderID, err)
		}
		return nil
	})
}

// TradesBySymbol reads back recent trades, newest first.
func (s *Store) TradesBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id,
		       price::text, quantity::text, buyer_fee::text, seller_fee::text, taker_side, executed_at
		FROM trades WHERE symbol = $1 ORDER BY executed_at DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var r TradeRow
		if err := rows.Scan(&r.TradeID, &r.Symbol, &r.BuyOrderID, &r.SellOrderID, &r.BuyerID, &r.SellerID,
			&r.Price, &r.Quantity, &r.BuyerFee, &r.SellerFee, &r.TakerSide, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// markProcessed claims the event id inside the transaction. Returns false
// when another delivery already claimed it.
func markProcessed(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING`, eventID)
	if err != nil {
		return false, fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

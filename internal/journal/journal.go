package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Journal persists an audit trail of orders and stop events to Postgres.
// It is an optional collaborator: trading proceeds even when writes fail,
// they are only logged.
type Journal struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OrderRecord is one order submission outcome.
type OrderRecord struct {
	Symbol      string
	Side        string
	Action      string // "open" or "close"
	Qty         float64
	Price       float64
	TakeProfit  float64
	StopLoss    float64
	Leverage    float64
	OrderID     string
	OrderLinkID string
	Mode        string
	RetCode     int
	RetMsg      string
	CreatedAt   time.Time
}

// StopRecord is one trailing-stop lifecycle event.
type StopRecord struct {
	Symbol    string
	Side      string
	Event     string // "created", "moved", "triggered"
	StopPrice float64
	BestPrice float64
	MarkPrice float64
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS trade_orders (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	action TEXT NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	take_profit DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	leverage DOUBLE PRECISION,
	order_id TEXT,
	order_link_id TEXT,
	mode TEXT,
	ret_code INT,
	ret_msg TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS stop_events (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	event TEXT NOT NULL,
	stop_price DOUBLE PRECISION,
	best_price DOUBLE PRECISION,
	mark_price DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trade_orders_symbol ON trade_orders(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_stop_events_symbol ON stop_events(symbol, created_at);
`

// Open connects to Postgres and ensures the journal schema exists.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return &Journal{
		pool:   pool,
		logger: logger.With().Str("component", "journal").Logger(),
	}, nil
}

// RecordOrder writes an order outcome to the journal.
func (j *Journal) RecordOrder(ctx context.Context, rec OrderRecord) {
	if j == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO trade_orders
			(symbol, side, action, qty, price, take_profit, stop_loss, leverage,
			 order_id, order_link_id, mode, ret_code, ret_msg, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.Symbol, rec.Side, rec.Action, rec.Qty, rec.Price, rec.TakeProfit,
		rec.StopLoss, rec.Leverage, rec.OrderID, rec.OrderLinkID, rec.Mode,
		rec.RetCode, rec.RetMsg, rec.CreatedAt)
	if err != nil {
		j.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to journal order")
	}
}

// RecordStopEvent writes a stop lifecycle event to the journal.
func (j *Journal) RecordStopEvent(ctx context.Context, rec StopRecord) {
	if j == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO stop_events
			(symbol, side, event, stop_price, best_price, mark_price, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.Symbol, rec.Side, rec.Event, rec.StopPrice, rec.BestPrice,
		rec.MarkPrice, rec.CreatedAt)
	if err != nil {
		j.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to journal stop event")
	}
}

// RecentOrders returns the latest order records, newest first.
func (j *Journal) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.pool.Query(ctx,
		`SELECT symbol, side, action, qty, price, take_profit, stop_loss,
		        leverage, order_id, order_link_id, mode, ret_code, ret_msg, created_at
		   FROM trade_orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(&rec.Symbol, &rec.Side, &rec.Action, &rec.Qty,
			&rec.Price, &rec.TakeProfit, &rec.StopLoss, &rec.Leverage,
			&rec.OrderID, &rec.OrderLinkID, &rec.Mode, &rec.RetCode,
			&rec.RetMsg, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (j *Journal) Close() {
	if j != nil && j.pool != nil {
		j.pool.Close()
	}
}

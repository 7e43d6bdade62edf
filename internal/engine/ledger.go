package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
)

// PositionKey identifies a tracked position by symbol and side.
type PositionKey struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
}

// Position is the bot's view of one open position.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entryPrice"`
	Leverage      float64   `json:"leverage"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
	TakeProfit    float64   `json:"takeProfit"`
	StopLoss      float64   `json:"stopLoss"`
	OrderID       string    `json:"orderId"`
	OpenedAt      time.Time `json:"openedAt"`
}

// Ledger tracks open positions. The exchange snapshot is authoritative:
// Sync adopts whatever the exchange reports and drops everything else, so a
// restart or an externally closed position converges on the next cycle.
type Ledger struct {
	mu        sync.RWMutex
	positions map[PositionKey]*Position
	logger    zerolog.Logger
}

func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[PositionKey]*Position),
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// Sync reconciles the ledger against the exchange snapshot. Local metadata
// (open time, order id) survives for positions the exchange still reports.
func (l *Ledger) Sync(exchange []bybit.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[PositionKey]*Position, len(exchange))
	for _, p := range exchange {
		key := PositionKey{Symbol: p.Symbol, Side: p.Side}
		pos := &Position{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			Leverage:      p.Leverage,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnl: p.UnrealizedPnl,
			TakeProfit:    p.TakeProfit,
			StopLoss:      p.StopLoss,
			OpenedAt:      time.Now(),
		}
		if existing, ok := l.positions[key]; ok {
			pos.OpenedAt = existing.OpenedAt
			pos.OrderID = existing.OrderID
		}
		next[key] = pos
	}

	for key := range l.positions {
		if _, ok := next[key]; !ok {
			l.logger.Info().Str("symbol", key.Symbol).Str("side", key.Side).Msg("position gone from exchange, dropping")
		}
	}
	l.positions = next
}

// Add records a freshly opened position.
func (l *Ledger) Add(pos Position) {
	l.mu.Lock()
	cp := pos
	if cp.OpenedAt.IsZero() {
		cp.OpenedAt = time.Now()
	}
	l.positions[PositionKey{Symbol: pos.Symbol, Side: pos.Side}] = &cp
	l.mu.Unlock()
}

// Remove drops a position, typically after a close order filled.
func (l *Ledger) Remove(key PositionKey) {
	l.mu.Lock()
	delete(l.positions, key)
	l.mu.Unlock()
}

// Get returns a copy of the position for key.
func (l *Ledger) Get(key PositionKey) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[key]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Has reports whether a position exists for key.
func (l *Ledger) Has(key PositionKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[key]
	return ok
}

// All returns copies of every tracked position.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

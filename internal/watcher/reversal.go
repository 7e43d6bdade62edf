package watcher

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/engine"
	"bybit-trading-bot/internal/indicators"
)

// Direction of a detected reversal.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// PositionCloser closes a tracked position; satisfied by the engine.
type PositionCloser interface {
	ClosePosition(ctx context.Context, key engine.PositionKey) error
}

// Config tunes the reversal watcher.
type Config struct {
	Symbols []string
	// Interval is the detection timeframe, normally 1 minute.
	Interval string
	// ConfirmInterval is an optional higher timeframe that must agree with
	// the detected direction. Empty disables confirmation.
	ConfirmInterval string
	CheckEvery      time.Duration
	// CloseLosing also closes losing opposite positions, not only
	// profitable ones.
	CloseLosing bool
}

func DefaultConfig(symbols []string, confirmInterval string) Config {
	return Config{
		Symbols:         symbols,
		Interval:        "1",
		ConfirmInterval: confirmInterval,
		CheckEvery:      60 * time.Second,
	}
}

// ReversalWatcher scans short-timeframe data for reversal setups and closes
// open positions caught on the wrong side of one.
type ReversalWatcher struct {
	client      bybit.ExchangeClient
	ledger      *engine.Ledger
	closer      PositionCloser
	broadcaster engine.Broadcaster
	cfg         Config
	logger      zerolog.Logger

	mu            sync.Mutex
	lastDirection map[string]string
}

func New(client bybit.ExchangeClient, ledger *engine.Ledger, closer PositionCloser, broadcaster engine.Broadcaster, cfg Config, logger zerolog.Logger) *ReversalWatcher {
	if broadcaster == nil {
		broadcaster = engine.NopBroadcaster{}
	}
	return &ReversalWatcher{
		client:        client,
		ledger:        ledger,
		closer:        closer,
		broadcaster:   broadcaster,
		cfg:           cfg,
		logger:        logger.With().Str("component", "reversal_watcher").Logger(),
		lastDirection: make(map[string]string),
	}
}

// Run checks for reversals on a fixed tick until the context is cancelled.
func (w *ReversalWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckEvery)
	defer ticker.Stop()

	w.logger.Info().Int("symbols", len(w.cfg.Symbols)).Msg("reversal watcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single detection pass over all watched symbols.
func (w *ReversalWatcher) CheckOnce(ctx context.Context) {
	for _, symbol := range w.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		w.checkSymbol(ctx, symbol)
	}
}

func (w *ReversalWatcher) checkSymbol(ctx context.Context, symbol string) {
	klines, err := w.client.GetKlines(symbol, w.cfg.Interval, 100)
	if err != nil {
		w.logger.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
		return
	}
	if len(klines) < 50 {
		w.logger.Warn().Str("symbol", symbol).Int("candles", len(klines)).Msg("not enough data for reversal detection")
		return
	}

	reversal, direction := DetectReversal(klines)
	if !reversal || direction == "" {
		return
	}

	if w.cfg.ConfirmInterval != "" {
		htf, err := w.client.GetKlines(symbol, w.cfg.ConfirmInterval, 100)
		if err != nil || len(htf) < 50 {
			w.logger.Warn().Str("symbol", symbol).Msg("higher timeframe unavailable, skipping reversal")
			return
		}
		if _, htfDir := DetectReversal(htf); htfDir != direction {
			w.logger.Debug().Str("symbol", symbol).Str("direction", direction).Msg("reversal not confirmed on higher timeframe")
			return
		}
	}

	w.mu.Lock()
	w.lastDirection[symbol] = direction
	w.mu.Unlock()

	w.logger.Info().Str("symbol", symbol).Str("direction", direction).Msg("reversal detected")
	w.broadcaster.Broadcast("reversal", map[string]interface{}{
		"symbol":    symbol,
		"direction": direction,
	})

	w.closeOppositePositions(ctx, symbol, direction)
}

// closeOppositePositions exits positions facing against the reversal. By
// default only profitable ones are closed, protecting realized gains without
// panic-selling losers.
func (w *ReversalWatcher) closeOppositePositions(ctx context.Context, symbol, direction string) {
	for _, pos := range w.ledger.All() {
		if pos.Symbol != symbol {
			continue
		}
		opposite := (direction == DirectionLong && pos.Side == "Sell") ||
			(direction == DirectionShort && pos.Side == "Buy")
		if !opposite {
			continue
		}
		if pos.UnrealizedPnl <= 0 && !w.cfg.CloseLosing {
			continue
		}
		key := engine.PositionKey{Symbol: pos.Symbol, Side: pos.Side}
		if err := w.closer.ClosePosition(ctx, key); err != nil {
			w.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to close opposite position")
			continue
		}
		w.logger.Info().
			Str("symbol", symbol).
			Str("side", pos.Side).
			Float64("pnl", pos.UnrealizedPnl).
			Msg("closed position against reversal")
	}
}

// LastDirection returns the most recent reversal direction for a symbol.
func (w *ReversalWatcher) LastDirection(symbol string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.lastDirection[symbol]
	return dir, ok
}

// DetectReversal inspects the candle series for a reversal setup. Five
// independent checks vote: RSI extremes, MACD line position, a Bollinger
// band breach, proximity to support or resistance, and a single-candle
// pattern. Two or more agreeing votes make a reversal.
func DetectReversal(klines []bybit.Kline) (bool, string) {
	return reversalDecision(reversalVotes(klines))
}

// reversalDecision turns vote counts into an outcome: a direction needs at
// least two votes and a strict majority; two or more conflicting votes
// still flag a reversal without a direction.
func reversalDecision(longVotes, shortVotes int) (bool, string) {
	if longVotes >= 2 && longVotes > shortVotes {
		return true, DirectionLong
	}
	if shortVotes >= 2 && shortVotes > longVotes {
		return true, DirectionShort
	}
	if longVotes+shortVotes >= 2 {
		return true, ""
	}
	return false, ""
}

func reversalVotes(klines []bybit.Kline) (int, int) {
	longVotes, shortVotes := 0, 0
	close := klines[len(klines)-1].Close

	if rsi, ok := indicators.CalculateRSI(klines, 14); ok {
		if rsi < 30 {
			longVotes++
		} else if rsi > 70 {
			shortVotes++
		}
	}

	if macd, ok := indicators.CalculateMACD(klines, 12, 26, 9); ok {
		if macd.MACD > macd.Signal {
			longVotes++
		} else if macd.MACD < macd.Signal {
			shortVotes++
		}
	}

	if upper, _, lower, ok := indicators.CalculateBollingerBands(klines, 20, 2); ok {
		if close < lower {
			longVotes++
		} else if close > upper {
			shortVotes++
		}
	}

	if support, resistance, ok := indicators.CalculateSupportResistance(klines, 20); ok {
		if support > 0 && math.Abs(close-support)/support < 0.005 {
			longVotes++
		} else if resistance > 0 && math.Abs(resistance-close)/resistance < 0.005 {
			shortVotes++
		}
	}

	switch candlePattern(klines[len(klines)-1]) {
	case DirectionLong:
		longVotes++
	case DirectionShort:
		shortVotes++
	}

	return longVotes, shortVotes
}

// candlePattern recognizes a hammer (long) or shooting star (short) on a
// single candle: a dominant shadow at least twice the body with little
// shadow on the other side.
func candlePattern(k bybit.Kline) string {
	body := k.Close - k.Open
	if body < 0 {
		body = -body
	}
	if body == 0 {
		body = (k.High - k.Low) * 0.01
	}
	if body == 0 {
		return ""
	}

	bodyTop := k.Open
	bodyBottom := k.Close
	if k.Close > k.Open {
		bodyTop, bodyBottom = k.Close, k.Open
	}
	upperShadow := k.High - bodyTop
	lowerShadow := bodyBottom - k.Low

	if lowerShadow >= 2*body && upperShadow <= body {
		return DirectionLong
	}
	if upperShadow >= 2*body && lowerShadow <= body {
		return DirectionShort
	}
	return ""
}

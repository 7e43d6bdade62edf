package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/indicators"
	"bybit-trading-bot/internal/journal"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/signals"
	"bybit-trading-bot/internal/store"
)

// Broadcaster pushes engine events to whoever listens (the websocket hub in
// the live wiring, a collector in tests).
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// NopBroadcaster drops all events.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, interface{}) {}

// Deps are the collaborators an Engine is composed from. Journal, Store and
// Broadcaster are optional.
type Deps struct {
	Client      bybit.ExchangeClient
	Processor   *signals.Processor
	Enhanced    *signals.EnhancedProcessor
	Analyzer    *market.Analyzer
	Stops       *risk.StopManager
	Risk        *risk.RiskManager
	Ledger      *Ledger
	Journal     *journal.Journal
	Store       *store.StopStore
	Broadcaster Broadcaster
	Retry       RetryPolicy
	Mode        config.ModeConfig
	Trading     config.TradingConfig
	Logger      zerolog.Logger
}

// Engine runs the trading loop: evaluate signals per pair, open positions on
// consensus, and trail stops on every open position.
type Engine struct {
	client      bybit.ExchangeClient
	processor   *signals.Processor
	enhanced    *signals.EnhancedProcessor
	analyzer    *market.Analyzer
	stops       *risk.StopManager
	risk        *risk.RiskManager
	ledger      *Ledger
	journal     *journal.Journal
	store       *store.StopStore
	broadcaster Broadcaster
	retry       RetryPolicy
	mode        config.ModeConfig
	trading     config.TradingConfig
	logger      zerolog.Logger

	running atomic.Bool

	lotMu    sync.Mutex
	lotCache map[string]LotConstraints
}

func New(deps Deps) *Engine {
	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Engine{
		client:      deps.Client,
		processor:   deps.Processor,
		enhanced:    deps.Enhanced,
		analyzer:    deps.Analyzer,
		stops:       deps.Stops,
		risk:        deps.Risk,
		ledger:      deps.Ledger,
		journal:     deps.Journal,
		store:       deps.Store,
		broadcaster: broadcaster,
		retry:       deps.Retry,
		mode:        deps.Mode,
		trading:     deps.Trading,
		logger:      deps.Logger.With().Str("component", "engine").Logger(),
		lotCache:    make(map[string]LotConstraints),
	}
}

// Mode returns the active mode preset.
func (e *Engine) Mode() config.ModeConfig { return e.mode }

// Running reports whether the trading loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Ledger exposes the position ledger for read-side consumers.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Stops exposes the stop manager for read-side consumers.
func (e *Engine) Stops() *risk.StopManager { return e.stops }

// Run drives trading cycles until the context is cancelled, then closes all
// positions best-effort.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	e.restoreStops(ctx)

	e.logger.Info().
		Str("mode", string(e.mode.Mode)).
		Str("interval", e.mode.Interval).
		Int("pairs", len(e.mode.Pairs)).
		Msg("trading engine started")

	ticker := time.NewTicker(e.mode.CycleInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle performs one full pass: reconcile with the exchange, advance all
// trailing stops, then evaluate every configured pair.
func (e *Engine) RunCycle(ctx context.Context) {
	positions, err := e.client.GetPositions()
	if err != nil {
		e.logger.Error().Err(err).Msg("position sync failed, skipping cycle")
		return
	}
	e.ledger.Sync(positions)

	e.ensureStops(ctx)
	e.monitorStops(ctx)

	for _, symbol := range e.mode.Pairs {
		if ctx.Err() != nil {
			return
		}
		if err := e.processSymbol(ctx, symbol); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol cycle failed")
		}
	}
}

func (e *Engine) processSymbol(ctx context.Context, symbol string) error {
	set, err := e.processor.GetSignals(symbol, e.mode.Interval)
	if err != nil {
		return err
	}

	action := signals.Decide(set.Consensus, e.mode.MinConfirmation)
	if action == signals.ActionHold {
		return nil
	}

	klines, err := e.client.GetKlines(symbol, e.mode.Interval, 200)
	if err != nil {
		return fmt.Errorf("fetching klines for analysis: %w", err)
	}
	analysis, err := e.analyzer.Analyze(symbol, e.mode.Interval, klines)
	if err != nil {
		return err
	}

	enhanced := e.enhanced.Process(set.Votes(), analysis)
	if enhanced.Action != action {
		e.logger.Info().
			Str("symbol", symbol).
			Str("consensus", string(action)).
			Str("filtered", string(enhanced.Action)).
			Str("reason", enhanced.Reason).
			Msg("consensus vetoed by weighted filter")
		return nil
	}

	side := "Buy"
	if action == signals.ActionSell {
		side = "Sell"
	}
	if e.ledger.Has(PositionKey{Symbol: symbol, Side: side}) {
		return nil
	}

	e.broadcaster.Broadcast("signal", map[string]interface{}{
		"symbol":     symbol,
		"action":     action,
		"confidence": enhanced.Confidence,
		"buy":        set.Consensus.Buy,
		"sell":       set.Consensus.Sell,
	})

	return e.openPosition(ctx, symbol, side, analysis, enhanced)
}

// openPosition sizes, validates and submits an entry order, then registers
// ledger, stop and journal state for it.
func (e *Engine) openPosition(ctx context.Context, symbol, side string, analysis *market.Analysis, sig *signals.EnhancedSignal) error {
	price, err := e.client.GetCurrentPrice(symbol)
	if err != nil {
		return fmt.Errorf("fetching price: %w", err)
	}

	leverage := e.mode.LeverageRange.Max
	if err := e.client.SetLeverage(symbol, leverage); err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to set leverage")
	}

	takeProfit, stopLoss, err := exitPrices(price, side, e.mode)
	if err != nil {
		return err
	}

	balance, err := e.client.GetBalance()
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}
	sizing := e.risk.SizePosition(symbol, analysis, sig.Score, balance)

	targetNotional := e.trading.TargetNotional * sizing.Multiplier
	// The balance-derived margin commitment bounds the leveraged exposure;
	// a thin account trades smaller than the configured target.
	if maxNotional := sizing.PositionValue * leverage; maxNotional > 0 && targetNotional > maxNotional {
		e.logger.Info().
			Str("symbol", symbol).
			Float64("target", targetNotional).
			Float64("cap", maxNotional).
			Msg("target notional capped by balance risk limit")
		targetNotional = maxNotional
	}
	lot, err := e.lotConstraints(symbol)
	if err != nil {
		return err
	}
	qty, err := SizeOrder(targetNotional, price, leverage, lot)
	if err != nil {
		return err
	}
	if err := CheckNotionalBand(qty, price, leverage, targetNotional, e.trading.NotionalBand); err != nil {
		return err
	}

	linkID := uuid.New().String()
	result, finalQty, err := e.retry.Execute(qty, func(q float64) (*bybit.OrderResult, error) {
		return e.client.PlaceOrder(bybit.OrderParams{
			Symbol:      symbol,
			Side:        side,
			OrderType:   "Market",
			Qty:         q,
			TakeProfit:  takeProfit,
			StopLoss:    stopLoss,
			OrderLinkID: linkID,
		})
	})

	record := journal.OrderRecord{
		Symbol:     symbol,
		Side:       side,
		Action:     "open",
		Qty:        finalQty,
		Price:      price,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		Leverage:   leverage,
		Mode:       string(e.mode.Mode),
	}
	if result != nil {
		record.OrderID = result.OrderID
		record.OrderLinkID = linkID
		record.RetCode = result.RetCode
		record.RetMsg = result.RetMsg
	}
	e.journal.RecordOrder(ctx, record)

	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("order rejected for %s: %d %s", symbol, result.RetCode, result.RetMsg)
	}

	e.ledger.Add(Position{
		Symbol:     symbol,
		Side:       side,
		Size:       finalQty,
		EntryPrice: price,
		Leverage:   leverage,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		OrderID:    result.OrderID,
	})

	stopType := risk.StopPercentage
	if analysis.Volatility.IsHigh {
		stopType = risk.StopATRBased
	}
	stop := e.stops.Create(symbol, side, price, analysis, stopType)
	e.persistStop(ctx, *stop)
	e.journal.RecordStopEvent(ctx, journal.StopRecord{
		Symbol: symbol, Side: side, Event: "created",
		StopPrice: stop.CurrentStop, BestPrice: stop.BestPrice, MarkPrice: price,
	})

	e.logger.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("qty", finalQty).
		Float64("price", price).
		Float64("tp", takeProfit).
		Float64("sl", stopLoss).
		Msg("position opened")

	e.broadcaster.Broadcast("position_opened", map[string]interface{}{
		"symbol": symbol, "side": side, "qty": finalQty, "price": price,
	})
	return nil
}

// exitPrices derives take-profit and stop-loss prices from the mode's
// percentage ranges and validates their side invariant: a long must have
// stop < entry < target, a short the mirror.
func exitPrices(entry float64, side string, mode config.ModeConfig) (takeProfit, stopLoss float64, err error) {
	tpPct := (mode.TakeProfitRange.Min + mode.TakeProfitRange.Max) / 2 / 100
	slPct := (mode.StopLossRange.Min + mode.StopLossRange.Max) / 2 / 100

	if side == "Buy" {
		takeProfit = entry * (1 + tpPct)
		stopLoss = entry * (1 - slPct)
		if !(stopLoss < entry && entry < takeProfit) {
			return 0, 0, fmt.Errorf("invalid long exits: sl=%.4f entry=%.4f tp=%.4f", stopLoss, entry, takeProfit)
		}
	} else {
		takeProfit = entry * (1 - tpPct)
		stopLoss = entry * (1 + slPct)
		if !(takeProfit < entry && entry < stopLoss) {
			return 0, 0, fmt.Errorf("invalid short exits: tp=%.4f entry=%.4f sl=%.4f", takeProfit, entry, stopLoss)
		}
	}
	return takeProfit, stopLoss, nil
}

// ensureStops creates a trailing stop for any tracked position that lacks
// one: positions adopted from the exchange after a restart without persisted
// state, or opened outside the bot. The stop anchors at the mark price so it
// protects the position from where it stands now, not from a stale entry.
func (e *Engine) ensureStops(ctx context.Context) {
	for _, pos := range e.ledger.All() {
		key := risk.StopKey{Symbol: pos.Symbol, Side: pos.Side}
		if _, ok := e.stops.Get(key); ok {
			continue
		}
		anchor := pos.MarkPrice
		if anchor <= 0 {
			anchor = pos.EntryPrice
		}
		if anchor <= 0 {
			continue
		}

		var analysis *market.Analysis
		if klines, err := e.client.GetKlines(pos.Symbol, e.mode.Interval, 200); err == nil {
			if a, err := e.analyzer.Analyze(pos.Symbol, e.mode.Interval, klines); err == nil {
				analysis = a
			}
		}
		stopType := risk.StopPercentage
		if analysis != nil && analysis.Volatility.IsHigh {
			stopType = risk.StopATRBased
		}

		stop := e.stops.Create(pos.Symbol, pos.Side, anchor, analysis, stopType)
		e.persistStop(ctx, *stop)
		e.journal.RecordStopEvent(ctx, journal.StopRecord{
			Symbol: pos.Symbol, Side: pos.Side, Event: "created",
			StopPrice: stop.CurrentStop, BestPrice: stop.BestPrice, MarkPrice: anchor,
		})
		e.logger.Info().
			Str("symbol", pos.Symbol).
			Str("side", pos.Side).
			Float64("stop", stop.CurrentStop).
			Msg("trailing stop created for adopted position")
	}
}

// monitorStops advances every trailing stop against the latest price and
// closes positions whose stop fired.
func (e *Engine) monitorStops(ctx context.Context) {
	for _, stop := range e.stops.Active() {
		price, err := e.client.GetCurrentPrice(stop.Symbol)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", stop.Symbol).Msg("price fetch failed during stop monitoring")
			continue
		}

		atr := 0.0
		if stop.Type == risk.StopATRBased {
			if klines, err := e.client.GetKlines(stop.Symbol, e.mode.Interval, 50); err == nil {
				atr, _ = indicators.CalculateATR(klines, 14)
			}
		}

		key := risk.StopKey{Symbol: stop.Symbol, Side: stop.Side}
		update, ok := e.stops.UpdatePrice(key, price, atr)
		if !ok {
			continue
		}

		if update.Moved {
			if current, ok := e.stops.Get(key); ok {
				e.persistStop(ctx, current)
			}
			e.journal.RecordStopEvent(ctx, journal.StopRecord{
				Symbol: stop.Symbol, Side: stop.Side, Event: "moved",
				StopPrice: update.NewStop, MarkPrice: price,
			})
			e.broadcaster.Broadcast("stop_moved", map[string]interface{}{
				"symbol": stop.Symbol, "side": stop.Side, "stop": update.NewStop,
			})
		}

		if update.Triggered {
			e.logger.Info().
				Str("symbol", stop.Symbol).
				Str("side", stop.Side).
				Float64("stop", update.NewStop).
				Float64("price", price).
				Msg("trailing stop triggered")
			e.journal.RecordStopEvent(ctx, journal.StopRecord{
				Symbol: stop.Symbol, Side: stop.Side, Event: "triggered",
				StopPrice: update.NewStop, MarkPrice: price,
			})
			if err := e.ClosePosition(ctx, PositionKey{Symbol: stop.Symbol, Side: stop.Side}); err != nil {
				e.logger.Error().Err(err).Str("symbol", stop.Symbol).Msg("failed to close stopped position")
			}
		}
	}
}

// ClosePosition exits a tracked position with a reduce-only market order and
// clears its ledger and stop state.
func (e *Engine) ClosePosition(ctx context.Context, key PositionKey) error {
	pos, ok := e.ledger.Get(key)
	if !ok {
		// Stop without a position, clean up silently.
		e.stops.Remove(risk.StopKey{Symbol: key.Symbol, Side: key.Side})
		return nil
	}

	closeSide := "Sell"
	if pos.Side == "Sell" {
		closeSide = "Buy"
	}

	result, err := e.client.PlaceOrder(bybit.OrderParams{
		Symbol:     key.Symbol,
		Side:       closeSide,
		OrderType:  "Market",
		Qty:        pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("closing %s %s: %w", key.Symbol, key.Side, err)
	}
	if !result.OK() {
		return fmt.Errorf("close order rejected for %s: %d %s", key.Symbol, result.RetCode, result.RetMsg)
	}

	e.ledger.Remove(key)
	stopKey := risk.StopKey{Symbol: key.Symbol, Side: key.Side}
	e.stops.Remove(stopKey)
	if e.store != nil {
		if err := e.store.Delete(ctx, stopKey); err != nil {
			e.logger.Warn().Err(err).Str("symbol", key.Symbol).Msg("failed to delete persisted stop")
		}
	}

	e.journal.RecordOrder(ctx, journal.OrderRecord{
		Symbol:  key.Symbol,
		Side:    closeSide,
		Action:  "close",
		Qty:     pos.Size,
		Price:   pos.MarkPrice,
		Mode:    string(e.mode.Mode),
		OrderID: result.OrderID,
		RetCode: result.RetCode,
		RetMsg:  result.RetMsg,
	})
	e.broadcaster.Broadcast("position_closed", map[string]interface{}{
		"symbol": key.Symbol, "side": key.Side, "qty": pos.Size,
	})
	return nil
}

func (e *Engine) lotConstraints(symbol string) (LotConstraints, error) {
	e.lotMu.Lock()
	if lot, ok := e.lotCache[symbol]; ok {
		e.lotMu.Unlock()
		return lot, nil
	}
	e.lotMu.Unlock()

	info, err := e.client.GetInstrumentInfo(symbol)
	if err != nil {
		return LotConstraints{}, fmt.Errorf("fetching instrument info: %w", err)
	}
	lot := LotFromInstrument(info)

	e.lotMu.Lock()
	e.lotCache[symbol] = lot
	e.lotMu.Unlock()
	return lot, nil
}

func (e *Engine) persistStop(ctx context.Context, stop risk.TrailingStop) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, stop); err != nil {
		e.logger.Warn().Err(err).Str("symbol", stop.Symbol).Msg("failed to persist stop state")
	}
}

// restoreStops reloads persisted trailing stops so accumulated best prices
// survive restarts. Stops without a matching exchange position are dropped
// by the next ledger sync path.
func (e *Engine) restoreStops(ctx context.Context) {
	if e.store == nil {
		return
	}
	stops, err := e.store.LoadAll(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to restore stop state")
		return
	}
	for _, stop := range stops {
		e.stops.Restore(stop)
	}
	if len(stops) > 0 {
		e.logger.Info().Int("count", len(stops)).Msg("restored trailing stops")
	}
}

// shutdown closes every tracked position best-effort. Called when the run
// context is cancelled.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, pos := range e.ledger.All() {
		key := PositionKey{Symbol: pos.Symbol, Side: pos.Side}
		if err := e.ClosePosition(ctx, key); err != nil {
			e.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("shutdown close failed")
		}
	}
	e.logger.Info().Msg("trading engine stopped")
}

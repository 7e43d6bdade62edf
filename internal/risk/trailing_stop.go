package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/market"
)

// StopType selects how the trailing distance is interpreted.
type StopType string

const (
	// StopTrailing trails at a fixed absolute price distance.
	StopTrailing StopType = "trailing"
	// StopATRBased trails at ATR times a multiplier.
	StopATRBased StopType = "atr_based"
	// StopPercentage trails at a fraction of the best price.
	StopPercentage StopType = "percentage"
)

// StopKey identifies a stop by symbol and position side. Using a struct key
// gives structural equality in maps; a long and a short on the same symbol
// are distinct stops.
type StopKey struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"` // "Buy" or "Sell"
}

// TrailingStop is the state machine protecting one position. The stop only
// ever moves toward the price: up for longs, down for shorts.
type TrailingStop struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entryPrice"`
	InitialStop float64   `json:"initialStop"`
	CurrentStop float64   `json:"currentStop"`
	Distance    float64   `json:"distance"` // absolute, fraction or ATR multiplier per Type
	Type        StopType  `json:"type"`
	// LastATR is the most recent ATR reading seen, so an ATR stop keeps a
	// sane offset when a later ATR fetch fails.
	LastATR float64 `json:"lastAtr,omitempty"`
	// MinOffset and MaxOffset bound the ATR offset in absolute price terms.
	// A zero MaxOffset disables the clamp.
	MinOffset float64   `json:"minOffset,omitempty"`
	MaxOffset float64   `json:"maxOffset,omitempty"`
	BestPrice float64   `json:"bestPrice"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdate  time.Time `json:"lastUpdate"`
	Active      bool      `json:"active"`
}

// NewTrailingStop creates an active stop. For longs the initial stop sits
// below entry by the distance, for shorts above it. atr seeds the ATR path,
// whose offset is clamped by cfg's distance bounds as a fraction of entry.
func NewTrailingStop(symbol, side string, entryPrice, distance float64, stopType StopType, atr float64, cfg StopConfig) *TrailingStop {
	now := time.Now()
	t := &TrailingStop{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Distance:   distance,
		Type:       stopType,
		LastATR:    atr,
		MinOffset:  entryPrice * cfg.MinDistance,
		MaxOffset:  entryPrice * cfg.MaxDistance,
		BestPrice:  entryPrice,
		CreatedAt:  now,
		LastUpdate: now,
		Active:     true,
	}
	initial := t.stopFrom(entryPrice, atr)
	t.InitialStop = initial
	t.CurrentStop = initial
	return t
}

// stopFrom places the stop the trailing distance away from price. The ATR
// path multiplies the latest ATR by the stored multiplier, clamped so a
// volatility spike cannot blow the stop out and a missing ATR cannot
// collapse it onto the mark.
func (t *TrailingStop) stopFrom(price, atr float64) float64 {
	offset := t.Distance
	switch t.Type {
	case StopPercentage:
		offset = price * t.Distance
	case StopATRBased:
		if atr <= 0 {
			atr = t.LastATR
		}
		offset = atr * t.Distance
		if offset < t.MinOffset {
			offset = t.MinOffset
		}
		if t.MaxOffset > 0 && offset > t.MaxOffset {
			offset = t.MaxOffset
		}
	}
	if t.Side == "Buy" {
		return price - offset
	}
	return price + offset
}

// Update advances the stop for a new price. The best price only moves on a
// new extreme in the position's favor, and a candidate stop is accepted only
// when it is strictly better than the current one. Returns whether the stop
// moved.
func (t *TrailingStop) Update(price, atr float64) bool {
	if !t.Active {
		return false
	}
	if t.Type == StopATRBased && atr > 0 {
		t.LastATR = atr
	}

	moved := false
	if t.Side == "Buy" {
		if price > t.BestPrice {
			t.BestPrice = price
			if candidate := t.stopFrom(price, atr); candidate > t.CurrentStop {
				t.CurrentStop = candidate
				moved = true
			}
		}
	} else {
		if price < t.BestPrice {
			t.BestPrice = price
			if candidate := t.stopFrom(price, atr); candidate < t.CurrentStop {
				t.CurrentStop = candidate
				moved = true
			}
		}
	}

	if moved {
		t.LastUpdate = time.Now()
	}
	return moved
}

// Triggered reports whether the price has crossed the stop.
func (t *TrailingStop) Triggered(price float64) bool {
	if !t.Active {
		return false
	}
	if t.Side == "Buy" {
		return price <= t.CurrentStop
	}
	return price >= t.CurrentStop
}

// UnrealizedPnlPct is the percentage move from entry in the position's favor.
func (t *TrailingStop) UnrealizedPnlPct(price float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	if t.Side == "Buy" {
		return (price - t.EntryPrice) / t.EntryPrice * 100
	}
	return (t.EntryPrice - price) / t.EntryPrice * 100
}

// StopConfig tunes trailing distances.
type StopConfig struct {
	DefaultDistance float64 // fraction of price
	MinDistance     float64
	MaxDistance     float64
	ATRMultiplier   float64
}

func DefaultStopConfig() StopConfig {
	return StopConfig{
		DefaultDistance: 0.02,
		MinDistance:     0.005,
		MaxDistance:     0.05,
		ATRMultiplier:   2.0,
	}
}

// StopUpdate describes the outcome of one price tick against one stop.
type StopUpdate struct {
	Key       StopKey
	OldStop   float64
	NewStop   float64
	Moved     bool
	Triggered bool
}

// StopManager owns all trailing stops, keyed by symbol and side.
type StopManager struct {
	mu     sync.RWMutex
	stops  map[StopKey]*TrailingStop
	config StopConfig
	logger zerolog.Logger
}

func NewStopManager(config StopConfig, logger zerolog.Logger) *StopManager {
	return &StopManager{
		stops:  make(map[StopKey]*TrailingStop),
		config: config,
		logger: logger.With().Str("component", "stop_manager").Logger(),
	}
}

// Create registers a stop for a freshly opened position, deriving the
// trailing distance from current market conditions. An existing stop for the
// same key is replaced.
func (m *StopManager) Create(symbol, side string, entryPrice float64, analysis *market.Analysis, stopType StopType) *TrailingStop {
	distance := m.distanceFor(entryPrice, analysis, stopType)
	atr := 0.0
	if analysis != nil {
		atr = analysis.Volatility.ATR
	}
	stop := NewTrailingStop(symbol, side, entryPrice, distance, stopType, atr, m.config)

	m.mu.Lock()
	m.stops[StopKey{Symbol: symbol, Side: side}] = stop
	m.mu.Unlock()

	m.logger.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("stop", stop.InitialStop).
		Str("type", string(stopType)).
		Msg("trailing stop created")

	return stop
}

// distanceFor widens the percentage distance in volatile markets and
// tightens it in calm ones, clamped to the configured bounds.
func (m *StopManager) distanceFor(entryPrice float64, analysis *market.Analysis, stopType StopType) float64 {
	switch stopType {
	case StopATRBased:
		return m.config.ATRMultiplier
	case StopTrailing:
		return entryPrice * m.percentageDistance(analysis)
	default:
		return m.percentageDistance(analysis)
	}
}

func (m *StopManager) percentageDistance(analysis *market.Analysis) float64 {
	distance := m.config.DefaultDistance
	if analysis != nil {
		volPct := analysis.Volatility.Percentage
		switch {
		case volPct > 5:
			distance *= 1.5
		case volPct > 3:
			distance *= 1.2
		case volPct < 1:
			distance *= 0.8
		}
	}
	if distance < m.config.MinDistance {
		distance = m.config.MinDistance
	}
	if distance > m.config.MaxDistance {
		distance = m.config.MaxDistance
	}
	return distance
}

// UpdatePrice advances the stop for key and reports what happened.
func (m *StopManager) UpdatePrice(key StopKey, price, atr float64) (StopUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop, ok := m.stops[key]
	if !ok || !stop.Active {
		return StopUpdate{}, false
	}

	update := StopUpdate{Key: key, OldStop: stop.CurrentStop}
	update.Moved = stop.Update(price, atr)
	update.NewStop = stop.CurrentStop
	update.Triggered = stop.Triggered(price)
	return update, true
}

// Remove deletes a stop, typically after its position closed.
func (m *StopManager) Remove(key StopKey) {
	m.mu.Lock()
	delete(m.stops, key)
	m.mu.Unlock()
}

// Get returns a copy of the stop for key.
func (m *StopManager) Get(key StopKey) (TrailingStop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stop, ok := m.stops[key]
	if !ok {
		return TrailingStop{}, false
	}
	return *stop, true
}

// Active returns copies of all active stops.
func (m *StopManager) Active() []TrailingStop {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrailingStop, 0, len(m.stops))
	for _, stop := range m.stops {
		if stop.Active {
			out = append(out, *stop)
		}
	}
	return out
}

// Restore re-registers a previously persisted stop, keeping its accumulated
// best price and current stop.
func (m *StopManager) Restore(stop TrailingStop) {
	m.mu.Lock()
	cp := stop
	m.stops[StopKey{Symbol: stop.Symbol, Side: stop.Side}] = &cp
	m.mu.Unlock()
}

package signals

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/indicators"
)

// Vote is a single indicator's opinion.
type Vote string

const (
	VoteBuy  Vote = "BUY"
	VoteSell Vote = "SELL"
	VoteHold Vote = "HOLD"
	VoteNone Vote = "NONE" // context-only indicators never vote
)

// Action is the processor's final recommendation for a symbol.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ErrInsufficientData is returned when a symbol has too few candles to
// evaluate the indicator set.
var ErrInsufficientData = errors.New("insufficient candle data")

const (
	klineFetchLimit = 200
	minCandles      = 50
)

// Reading is one indicator's evaluated value and vote.
type Reading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Vote  Vote    `json:"vote"`
	Valid bool    `json:"valid"` // false when data was insufficient
}

// Consensus tallies the votes of one evaluation.
type Consensus struct {
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
	Hold int `json:"hold"`
	None int `json:"none"`

	// CMF is kept separate because it acts as the money-flow gate on top
	// of the raw counts.
	CMF Vote `json:"cmf"`
}

// SignalSet is the full evaluation of a symbol on one timeframe.
type SignalSet struct {
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Readings    []Reading `json:"readings"`
	Consensus   Consensus `json:"consensus"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Processor evaluates the fixed indicator set for symbols and caches the
// result briefly so every consumer inside one cycle sees the same votes.
type Processor struct {
	client   bybit.ExchangeClient
	logger   zerolog.Logger
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]*cachedSet
}

type cachedSet struct {
	set     *SignalSet
	expires time.Time
}

func NewProcessor(client bybit.ExchangeClient, logger zerolog.Logger) *Processor {
	return &Processor{
		client:   client,
		logger:   logger.With().Str("component", "signal_processor").Logger(),
		cacheTTL: 30 * time.Second,
		cache:    make(map[string]*cachedSet),
	}
}

// GetSignals fetches market data and evaluates all indicators for a symbol.
// A failing indicator degrades to an invalid HOLD reading rather than
// aborting the whole set.
func (p *Processor) GetSignals(symbol, interval string) (*SignalSet, error) {
	key := symbol + "_" + interval

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && time.Now().Before(entry.expires) {
		p.mu.Unlock()
		return entry.set, nil
	}
	p.mu.Unlock()

	klines, err := p.client.GetKlines(symbol, interval, klineFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	if len(klines) < minCandles {
		return nil, fmt.Errorf("%w: %s has %d candles", ErrInsufficientData, symbol, len(klines))
	}

	set := p.Evaluate(symbol, interval, klines)

	p.mu.Lock()
	p.cache[key] = &cachedSet{set: set, expires: time.Now().Add(p.cacheTTL)}
	p.mu.Unlock()

	return set, nil
}

// Evaluate computes all indicator readings over the given candles.
func (p *Processor) Evaluate(symbol, interval string, klines []bybit.Kline) *SignalSet {
	readings := []Reading{
		p.rsiReading(klines),
		p.macdReading(klines),
		p.smaReading(klines),
		p.emaReading(klines),
		p.bollingerReading(klines),
		p.stochasticReading(klines),
		p.williamsReading(klines),
		p.atrReading(klines),
		p.trendReading(klines),
		p.supertrendReading(klines),
		p.mfiReading(klines),
		p.obvReading(klines),
		p.cmfReading(klines),
	}

	set := &SignalSet{
		Symbol:      symbol,
		Interval:    interval,
		Readings:    readings,
		GeneratedAt: time.Now(),
	}
	for _, r := range readings {
		if !r.Valid {
			p.logger.Warn().Str("symbol", symbol).Str("indicator", r.Name).Msg("indicator unavailable, counted as HOLD")
		}
		switch r.Vote {
		case VoteBuy:
			set.Consensus.Buy++
		case VoteSell:
			set.Consensus.Sell++
		case VoteHold:
			set.Consensus.Hold++
		default:
			set.Consensus.None++
		}
		if r.Name == "CMF" {
			set.Consensus.CMF = r.Vote
		}
	}
	return set
}

// Decide applies the consensus rule: at least minConfirmation indicators in
// one direction, confirmed by money flow pointing the same way.
func Decide(c Consensus, minConfirmation int) Action {
	if c.Buy >= minConfirmation && c.CMF == VoteBuy {
		return ActionBuy
	}
	if c.Sell >= minConfirmation && c.CMF == VoteSell {
		return ActionSell
	}
	return ActionHold
}

// Votes returns the readings as a name-to-vote map, the shape the weighted
// processor consumes.
func (s *SignalSet) Votes() map[string]Vote {
	out := make(map[string]Vote, len(s.Readings))
	for _, r := range s.Readings {
		out[r.Name] = r.Vote
	}
	return out
}

func invalid(name string) Reading {
	return Reading{Name: name, Vote: VoteHold, Valid: false}
}

func (p *Processor) rsiReading(klines []bybit.Kline) Reading {
	value, ok := indicators.CalculateRSI(klines, 14)
	if !ok {
		return invalid("RSI")
	}
	vote := VoteHold
	if value < 30 {
		vote = VoteBuy
	} else if value > 70 {
		vote = VoteSell
	}
	return Reading{Name: "RSI", Value: value, Vote: vote, Valid: true}
}

// macdReading votes only on a genuine crossover between the previous and
// the current bar, not on mere line position.
func (p *Processor) macdReading(klines []bybit.Kline) Reading {
	result, ok := indicators.CalculateMACD(klines, 12, 26, 9)
	if !ok {
		return invalid("MACD")
	}
	vote := VoteHold
	if result.CrossedUp() {
		vote = VoteBuy
	} else if result.CrossedDown() {
		vote = VoteSell
	}
	return Reading{Name: "MACD", Value: result.Histogram, Vote: vote, Valid: true}
}

func (p *Processor) smaReading(klines []bybit.Kline) Reading {
	fast, ok1 := indicators.CalculateSMA(klines, 20)
	slow, ok2 := indicators.CalculateSMA(klines, 50)
	if !ok1 || !ok2 {
		return invalid("SMA")
	}
	vote := VoteHold
	if fast > slow {
		vote = VoteBuy
	} else if fast < slow {
		vote = VoteSell
	}
	return Reading{Name: "SMA", Value: fast - slow, Vote: vote, Valid: true}
}

func (p *Processor) emaReading(klines []bybit.Kline) Reading {
	fast, ok1 := indicators.CalculateEMA(klines, 12)
	slow, ok2 := indicators.CalculateEMA(klines, 26)
	if !ok1 || !ok2 {
		return invalid("EMA")
	}
	vote := VoteHold
	if fast > slow {
		vote = VoteBuy
	} else if fast < slow {
		vote = VoteSell
	}
	return Reading{Name: "EMA", Value: fast - slow, Vote: vote, Valid: true}
}

func (p *Processor) bollingerReading(klines []bybit.Kline) Reading {
	upper, _, lower, ok := indicators.CalculateBollingerBands(klines, 20, 2)
	if !ok {
		return invalid("BB")
	}
	close := klines[len(klines)-1].Close
	vote := VoteHold
	if close < lower {
		vote = VoteBuy
	} else if close > upper {
		vote = VoteSell
	}
	return Reading{Name: "BB", Value: close, Vote: vote, Valid: true}
}

// stochasticReading requires both %K and %D in the extreme zone.
func (p *Processor) stochasticReading(klines []bybit.Kline) Reading {
	k, d, ok := indicators.CalculateStochastic(klines, 14, 3)
	if !ok {
		return invalid("STOCH")
	}
	vote := VoteHold
	if k < 20 && d < 20 {
		vote = VoteBuy
	} else if k > 80 && d > 80 {
		vote = VoteSell
	}
	return Reading{Name: "STOCH", Value: k, Vote: vote, Valid: true}
}

func (p *Processor) williamsReading(klines []bybit.Kline) Reading {
	value, ok := indicators.CalculateWilliamsR(klines, 14)
	if !ok {
		return invalid("WILLIAMS")
	}
	vote := VoteHold
	if value < -80 {
		vote = VoteBuy
	} else if value > -20 {
		vote = VoteSell
	}
	return Reading{Name: "WILLIAMS", Value: value, Vote: vote, Valid: true}
}

// atrReading never votes; volatility is context for the other indicators.
func (p *Processor) atrReading(klines []bybit.Kline) Reading {
	value, ok := indicators.CalculateATR(klines, 14)
	if !ok {
		return invalid("ATR")
	}
	return Reading{Name: "ATR", Value: value, Vote: VoteNone, Valid: true}
}

func (p *Processor) trendReading(klines []bybit.Kline) Reading {
	strength, bullish, ok := indicators.CalculateTrendStrength(klines)
	if !ok {
		return invalid("ADX")
	}
	vote := VoteHold
	if strength > 2 {
		if bullish {
			vote = VoteBuy
		} else {
			vote = VoteSell
		}
	}
	return Reading{Name: "ADX", Value: strength, Vote: vote, Valid: true}
}

// supertrendReading votes with the adaptive trend once price is on the
// right side of the band.
func (p *Processor) supertrendReading(klines []bybit.Kline) Reading {
	result, ok := indicators.CalculateSuperTrend(klines, 10)
	if !ok {
		return invalid("SUPERTREND")
	}
	close := klines[len(klines)-1].Close
	vote := VoteHold
	if result.Direction > 0 && close > result.Value {
		vote = VoteBuy
	} else if result.Direction < 0 && close < result.Value {
		vote = VoteSell
	}
	return Reading{Name: "SUPERTREND", Value: result.Value, Vote: vote, Valid: true}
}

func (p *Processor) mfiReading(klines []bybit.Kline) Reading {
	value, ok := indicators.CalculateMFI(klines, 14)
	if !ok {
		return invalid("MFI")
	}
	vote := VoteHold
	if value < 20 {
		vote = VoteBuy
	} else if value > 80 {
		vote = VoteSell
	}
	return Reading{Name: "MFI", Value: value, Vote: vote, Valid: true}
}

func (p *Processor) obvReading(klines []bybit.Kline) Reading {
	slope, ok := indicators.CalculateOBVSlope(klines, 5)
	if !ok {
		return invalid("OBV")
	}
	vote := VoteHold
	if slope > 0 {
		vote = VoteBuy
	} else if slope < 0 {
		vote = VoteSell
	}
	return Reading{Name: "OBV", Value: slope, Vote: vote, Valid: true}
}

func (p *Processor) cmfReading(klines []bybit.Kline) Reading {
	value, ok := indicators.CalculateCMF(klines, 20)
	if !ok {
		return invalid("CMF")
	}
	vote := VoteHold
	if value > 0.05 {
		vote = VoteBuy
	} else if value < -0.05 {
		vote = VoteSell
	}
	return Reading{Name: "CMF", Value: value, Vote: vote, Valid: true}
}

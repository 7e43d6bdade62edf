package risk

import (
	"math"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/market"
)

// RiskLevel summarizes how aggressive a sized position is.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// SizingConfig tunes the adaptive position sizing.
type SizingConfig struct {
	BaseRiskPerTrade float64 // fraction of balance committed at multiplier 1.0
	MaxRiskPerTrade  float64 // hard cap as fraction of balance
}

func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		BaseRiskPerTrade: 0.02,
		MaxRiskPerTrade:  0.05,
	}
}

// correlationGroups cluster symbols whose prices move together; holding
// several positions in one group shrinks each new one.
var correlationGroups = map[string][]string{
	"major_crypto": {"BTCUSDT", "ETHUSDT"},
	"altcoins":     {"SOLUSDT", "ADAUSDT", "BNBUSDT"},
	"meme_coins":   {"DOGEUSDT"},
}

// SizingResult explains how a position value was derived. PositionValue is
// the margin the balance supports at the adaptive multiplier; callers turn
// it into leveraged exposure.
type SizingResult struct {
	PositionValue  float64   `json:"positionValue"`
	Multiplier     float64   `json:"multiplier"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	MarketFactor   float64   `json:"marketFactor"`
	VolFactor      float64   `json:"volFactor"`
	TrendFactor    float64   `json:"trendFactor"`
	CorrelationFac float64   `json:"correlationFactor"`
}

// RiskManager scales position sizes by market quality, volatility, trend
// and correlated exposure.
type RiskManager struct {
	config SizingConfig
	stops  *StopManager
	logger zerolog.Logger
}

func NewRiskManager(config SizingConfig, stops *StopManager, logger zerolog.Logger) *RiskManager {
	return &RiskManager{
		config: config,
		stops:  stops,
		logger: logger.With().Str("component", "risk_manager").Logger(),
	}
}

// SizePosition returns an adaptively scaled margin commitment for the given
// balance.
func (r *RiskManager) SizePosition(symbol string, analysis *market.Analysis, signalStrength float64, balance float64) SizingResult {
	marketFactor := r.marketFactor(analysis, signalStrength)
	volFactor := volatilityFactor(analysis)
	trendFactor := trendFactor(analysis)
	correlationFactor := r.correlationFactor(symbol)

	multiplier := marketFactor * volFactor * trendFactor * correlationFactor
	if limit := r.config.MaxRiskPerTrade / r.config.BaseRiskPerTrade; multiplier > limit {
		multiplier = limit
	}

	value := balance * r.config.BaseRiskPerTrade * multiplier

	result := SizingResult{
		PositionValue:  value,
		Multiplier:     multiplier,
		RiskLevel:      riskLevelFor(multiplier),
		MarketFactor:   marketFactor,
		VolFactor:      volFactor,
		TrendFactor:    trendFactor,
		CorrelationFac: correlationFactor,
	}

	r.logger.Debug().
		Str("symbol", symbol).
		Float64("multiplier", multiplier).
		Str("risk", string(result.RiskLevel)).
		Msg("position sized")

	return result
}

func (r *RiskManager) marketFactor(analysis *market.Analysis, signalStrength float64) float64 {
	factor := 1.0
	if analysis == nil {
		return factor
	}
	if analysis.MarketScore > 70 {
		factor *= 1.2
	} else if analysis.MarketScore < 30 {
		factor *= 0.7
	}
	if signalStrength > 0.7 {
		factor *= 1.1
	} else if signalStrength < 0.4 {
		factor *= 0.8
	}
	switch analysis.Regime {
	case market.RegimeTrendingUp, market.RegimeTrendingDown:
		factor *= 1.1
	case market.RegimeHighVolatility:
		factor *= 0.8
	}
	return math.Min(2.0, math.Max(0.3, factor))
}

func volatilityFactor(analysis *market.Analysis) float64 {
	if analysis == nil {
		return 1.0
	}
	switch analysis.Volatility.Level {
	case market.VolVeryLow:
		return 1.2
	case market.VolLow:
		return 1.1
	case market.VolHigh:
		return 0.8
	case market.VolVeryHigh:
		return 0.6
	default:
		return 1.0
	}
}

func trendFactor(analysis *market.Analysis) float64 {
	if analysis == nil {
		return 1.0
	}
	switch analysis.Trend.Strength {
	case "strong":
		return 1.2
	case "medium":
		return 1.1
	case "weak":
		return 1.0
	default:
		return 0.9
	}
}

// correlationFactor shrinks new exposure by 0.2 per active stop in the same
// correlation group, floored at 0.5.
func (r *RiskManager) correlationFactor(symbol string) float64 {
	var group []string
	for _, symbols := range correlationGroups {
		for _, s := range symbols {
			if s == symbol {
				group = symbols
				break
			}
		}
	}
	if group == nil || r.stops == nil {
		return 1.0
	}

	active := 0
	for _, stop := range r.stops.Active() {
		for _, s := range group {
			if stop.Symbol == s {
				active++
			}
		}
	}
	if active == 0 {
		return 1.0
	}
	return math.Max(0.5, 1.0-float64(active)*0.2)
}

func riskLevelFor(multiplier float64) RiskLevel {
	switch {
	case multiplier >= 1.5:
		return RiskVeryHigh
	case multiplier >= 1.2:
		return RiskHigh
	case multiplier >= 0.8:
		return RiskMedium
	case multiplier >= 0.5:
		return RiskLow
	default:
		return RiskVeryLow
	}
}

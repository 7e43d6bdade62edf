package signals

import (
	"math"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/market"
)

// Confidence grades an enhanced signal.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

var confidenceLadder = []Confidence{ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceVeryHigh}

// downgrade steps confidence one rung down, never up.
func downgrade(c Confidence) Confidence {
	for i, level := range confidenceLadder {
		if level == c && i > 0 {
			return confidenceLadder[i-1]
		}
	}
	return ConfidenceLow
}

// EnhancedSignal is the outcome of regime-weighted signal filtering.
type EnhancedSignal struct {
	Action     Action     `json:"action"`
	Confidence Confidence `json:"confidence"`
	Score      float64    `json:"score"`
	BuyScore   float64    `json:"buyScore"`
	SellScore  float64    `json:"sellScore"`
	NetScore   float64    `json:"netScore"`
	Threshold  float64    `json:"threshold"`
	Reason     string     `json:"reason"`
}

// baseWeights is the prior importance of each voting indicator before any
// regime adjustment. CMF stays outside the weighting; it is the consensus
// gate, not a weighted voter.
var baseWeights = map[string]float64{
	"RSI":      0.12,
	"MACD":     0.15,
	"SMA":      0.10,
	"EMA":      0.13,
	"BB":       0.11,
	"STOCH":    0.08,
	"WILLIAMS": 0.07,
	"ATR":      0.06,
	"ADX":      0.10,
	"MFI":      0.04,
	"OBV":      0.04,
}

// regimeAdjustments multiplies indicator weights per market regime:
// oscillators matter in ranges, trend followers in trends, volume in
// breakouts.
var regimeAdjustments = map[market.Regime]map[string]float64{
	market.RegimeTrendingUp: {
		"MACD": 1.3, "EMA": 1.2, "ADX": 1.4, "RSI": 0.8, "STOCH": 0.7,
	},
	market.RegimeTrendingDown: {
		"MACD": 1.3, "EMA": 1.2, "ADX": 1.4, "RSI": 0.8, "STOCH": 0.7,
	},
	market.RegimeSideways: {
		"RSI": 1.4, "STOCH": 1.3, "WILLIAMS": 1.2, "BB": 1.3, "MACD": 0.7,
	},
	market.RegimeHighVolatility: {
		"ATR": 1.5, "BB": 1.3, "RSI": 1.2, "SMA": 0.8, "EMA": 0.8,
	},
	market.RegimeConsolidation: {
		"RSI": 1.3, "STOCH": 1.2, "BB": 1.4, "MACD": 0.8, "ADX": 0.7,
	},
	market.RegimeBreakout: {
		"OBV": 1.5, "MFI": 1.4, "ATR": 1.3, "MACD": 1.2, "RSI": 0.9,
	},
}

// EnhancedProcessor filters raw indicator votes through regime-adaptive
// weights and market-condition thresholds.
type EnhancedProcessor struct {
	logger zerolog.Logger
}

func NewEnhancedProcessor(logger zerolog.Logger) *EnhancedProcessor {
	return &EnhancedProcessor{
		logger: logger.With().Str("component", "enhanced_processor").Logger(),
	}
}

// AdaptiveWeights returns the indicator weights for the given market state,
// normalized so they sum to 1.
func (e *EnhancedProcessor) AdaptiveWeights(analysis *market.Analysis) map[string]float64 {
	weights := make(map[string]float64, len(baseWeights))
	for name, w := range baseWeights {
		weights[name] = w
	}

	if adjustments, ok := regimeAdjustments[analysis.Regime]; ok {
		for name, multiplier := range adjustments {
			weights[name] *= multiplier
		}
	}
	if analysis.Volatility.IsHigh {
		weights["ATR"] *= 1.3
		weights["BB"] *= 1.2
		weights["SMA"] *= 0.8
		weights["EMA"] *= 0.8
	}
	if analysis.Volume.IsHigh {
		weights["OBV"] *= 1.4
		weights["MFI"] *= 1.3
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for name := range weights {
			weights[name] /= total
		}
	}
	return weights
}

// Process turns a set of raw votes into a filtered trading signal for the
// given market conditions.
func (e *EnhancedProcessor) Process(votes map[string]Vote, analysis *market.Analysis) *EnhancedSignal {
	weights := e.AdaptiveWeights(analysis)

	var buyScore, sellScore, holdScore float64
	for name, weight := range weights {
		switch votes[name] {
		case VoteBuy:
			buyScore += weight
		case VoteSell:
			sellScore += weight
		default:
			holdScore += weight
		}
	}
	if total := buyScore + sellScore + holdScore; total > 0 {
		buyScore /= total
		sellScore /= total
	}
	netScore := buyScore - sellScore
	strength := math.Max(buyScore, sellScore)

	threshold := e.adjustedThreshold(analysis)

	signal := &EnhancedSignal{
		Action:    ActionHold,
		BuyScore:  buyScore,
		SellScore: sellScore,
		NetScore:  netScore,
		Threshold: threshold,
		Score:     strength,
	}

	if strength < threshold {
		signal.Confidence = ConfidenceLow
		signal.Reason = "signal too weak to pass filter"
		return signal
	}

	switch {
	case buyScore > sellScore && netScore > 0.1:
		signal.Action = ActionBuy
		signal.Score = buyScore
	case sellScore > buyScore && netScore < -0.1:
		signal.Action = ActionSell
		signal.Score = sellScore
	}

	signal.Confidence = e.confidence(strength, analysis)
	signal.Reason = "signal confirmed by " + string(analysis.Regime) + " market conditions"

	// A strong trend against the signal vetoes it.
	if signal.Action == ActionBuy && analysis.Regime == market.RegimeTrendingDown && analysis.TrendStrength > 60 {
		signal.Action = ActionHold
		signal.Confidence = ConfidenceLow
		signal.Reason = "strong downtrend detected"
	} else if signal.Action == ActionSell && analysis.Regime == market.RegimeTrendingUp && analysis.TrendStrength > 60 {
		signal.Action = ActionHold
		signal.Confidence = ConfidenceLow
		signal.Reason = "strong uptrend detected"
	}

	e.logger.Debug().
		Str("action", string(signal.Action)).
		Float64("net", netScore).
		Float64("threshold", threshold).
		Str("confidence", string(signal.Confidence)).
		Msg("enhanced signal")

	return signal
}

// adjustedThreshold starts at 0.5 and tightens in poor or volatile markets,
// loosening slightly when conditions score well.
func (e *EnhancedProcessor) adjustedThreshold(analysis *market.Analysis) float64 {
	threshold := 0.5
	if analysis.MarketScore > 70 {
		threshold *= 0.9
	} else if analysis.MarketScore < 30 {
		threshold *= 1.2
	}
	if analysis.Volatility.IsHigh {
		threshold *= 1.1
	}
	return threshold
}

// confidence grades the signal by strength, then only ever downgrades for
// poor market conditions or high volatility.
func (e *EnhancedProcessor) confidence(strength float64, analysis *market.Analysis) Confidence {
	var level Confidence
	switch {
	case strength >= 0.7:
		level = ConfidenceVeryHigh
	case strength >= 0.6:
		level = ConfidenceHigh
	case strength >= 0.5:
		level = ConfidenceMedium
	default:
		level = ConfidenceLow
	}

	if analysis.MarketScore < 30 {
		level = downgrade(level)
	}
	if analysis.Volatility.IsHigh {
		level = downgrade(level)
	}
	return level
}

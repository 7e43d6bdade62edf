package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/market"
)

func neutralAnalysis() *market.Analysis {
	return &market.Analysis{
		Regime:      market.RegimeSideways,
		MarketScore: 50,
		Volatility:  market.VolatilityInfo{Level: market.VolMedium},
		Trend:       market.TrendInfo{Strength: "weak"},
	}
}

func TestSizePositionNeutral(t *testing.T) {
	r := NewRiskManager(DefaultSizingConfig(), nil, zerolog.Nop())

	result := r.SizePosition("BTCUSDT", neutralAnalysis(), 0.5, 10000)

	if result.Multiplier != 1 {
		t.Errorf("neutral multiplier = %v, want 1", result.Multiplier)
	}
	if result.PositionValue != 200 {
		t.Errorf("position value = %v, want 2%% of 10000", result.PositionValue)
	}
	if result.RiskLevel != RiskMedium {
		t.Errorf("risk level = %v, want medium", result.RiskLevel)
	}
}

func TestSizePositionCappedAtMaxRisk(t *testing.T) {
	r := NewRiskManager(DefaultSizingConfig(), nil, zerolog.Nop())

	// Everything favorable: good score, strong signal, trend regime, very
	// low volatility, strong trend.
	analysis := &market.Analysis{
		Regime:      market.RegimeTrendingUp,
		MarketScore: 80,
		Volatility:  market.VolatilityInfo{Level: market.VolVeryLow},
		Trend:       market.TrendInfo{Strength: "strong"},
	}
	result := r.SizePosition("BTCUSDT", analysis, 0.9, 10000)

	// market 1.2*1.1*1.1, volatility 1.2, trend 1.2
	want := 1.2 * 1.1 * 1.1 * 1.2 * 1.2
	if math.Abs(result.Multiplier-want) > 1e-9 {
		t.Errorf("multiplier = %v, want %v", result.Multiplier, want)
	}
	if result.Multiplier > 2.5 {
		t.Errorf("multiplier = %v, breached the 2.5 cap", result.Multiplier)
	}
	if result.RiskLevel != RiskVeryHigh {
		t.Errorf("risk level = %v, want very_high", result.RiskLevel)
	}
}

func TestMultiplierNeverExceedsCap(t *testing.T) {
	r := NewRiskManager(SizingConfig{BaseRiskPerTrade: 0.02, MaxRiskPerTrade: 0.04}, nil, zerolog.Nop())

	analysis := &market.Analysis{
		Regime:      market.RegimeTrendingUp,
		MarketScore: 80,
		Volatility:  market.VolatilityInfo{Level: market.VolVeryLow},
		Trend:       market.TrendInfo{Strength: "strong"},
	}
	result := r.SizePosition("BTCUSDT", analysis, 0.9, 10000)

	if result.Multiplier != 2 {
		t.Errorf("multiplier = %v, want capped at max/base = 2", result.Multiplier)
	}
	if result.PositionValue != 400 {
		t.Errorf("position value = %v, want the 4%% cap of 10000", result.PositionValue)
	}
}

func TestSizePositionShrinksInPoorMarkets(t *testing.T) {
	r := NewRiskManager(DefaultSizingConfig(), nil, zerolog.Nop())

	analysis := &market.Analysis{
		Regime:      market.RegimeHighVolatility,
		MarketScore: 20,
		Volatility:  market.VolatilityInfo{Level: market.VolVeryHigh},
		Trend:       market.TrendInfo{Strength: "none"},
	}
	result := r.SizePosition("BTCUSDT", analysis, 0.3, 10000)

	if result.Multiplier >= 1 {
		t.Errorf("multiplier = %v, want below 1 in a poor volatile market", result.Multiplier)
	}
	if result.PositionValue >= 200 {
		t.Errorf("position value = %v, want below the neutral 200", result.PositionValue)
	}
}

func TestSizePositionNilAnalysis(t *testing.T) {
	r := NewRiskManager(DefaultSizingConfig(), nil, zerolog.Nop())
	result := r.SizePosition("BTCUSDT", nil, 0.5, 10000)
	if result.Multiplier != 1 {
		t.Errorf("multiplier without analysis = %v, want 1", result.Multiplier)
	}
}

func TestSizePositionZeroBalance(t *testing.T) {
	r := NewRiskManager(DefaultSizingConfig(), nil, zerolog.Nop())
	result := r.SizePosition("BTCUSDT", neutralAnalysis(), 0.5, 0)
	if result.PositionValue != 0 {
		t.Errorf("position value with no balance = %v, want 0", result.PositionValue)
	}
}

func TestCorrelationFactorShrinksExposure(t *testing.T) {
	stops := NewStopManager(DefaultStopConfig(), zerolog.Nop())
	r := NewRiskManager(DefaultSizingConfig(), stops, zerolog.Nop())

	if got := r.correlationFactor("BTCUSDT"); got != 1 {
		t.Errorf("factor with no exposure = %v, want 1", got)
	}

	// An active ETH stop is correlated exposure for BTC.
	stops.Create("ETHUSDT", "Buy", 2000, nil, StopPercentage)
	if got := r.correlationFactor("BTCUSDT"); got != 0.8 {
		t.Errorf("factor with one correlated stop = %v, want 0.8", got)
	}

	// An uncorrelated symbol is unaffected.
	if got := r.correlationFactor("SOLUSDT"); got != 1 {
		t.Errorf("factor for another group = %v, want 1", got)
	}

	// Unknown symbols have no correlation group.
	if got := r.correlationFactor("XRPUSDT"); got != 1 {
		t.Errorf("factor for ungrouped symbol = %v, want 1", got)
	}
}

func TestCorrelationFactorFloor(t *testing.T) {
	stops := NewStopManager(DefaultStopConfig(), zerolog.Nop())
	r := NewRiskManager(DefaultSizingConfig(), stops, zerolog.Nop())

	stops.Create("SOLUSDT", "Buy", 100, nil, StopPercentage)
	stops.Create("ADAUSDT", "Buy", 1, nil, StopPercentage)
	stops.Create("BNBUSDT", "Buy", 300, nil, StopPercentage)
	stops.Create("SOLUSDT", "Sell", 100, nil, StopPercentage)

	if got := r.correlationFactor("ADAUSDT"); got != 0.5 {
		t.Errorf("factor with four correlated stops = %v, want floored at 0.5", got)
	}
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		multiplier float64
		want       RiskLevel
	}{
		{2.0, RiskVeryHigh},
		{1.5, RiskVeryHigh},
		{1.3, RiskHigh},
		{1.0, RiskMedium},
		{0.8, RiskMedium},
		{0.6, RiskLow},
		{0.3, RiskVeryLow},
	}
	for _, tt := range tests {
		if got := riskLevelFor(tt.multiplier); got != tt.want {
			t.Errorf("riskLevelFor(%v) = %v, want %v", tt.multiplier, got, tt.want)
		}
	}
}

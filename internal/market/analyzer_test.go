package market

import (
	"testing"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
)

// candle builds a bar with the range expressed as a fraction of the close,
// so volatility bucketing can be steered precisely.
func candle(close, rangeFrac, volume float64) bybit.Kline {
	spread := close * rangeFrac / 2
	return bybit.Kline{
		Open:   close,
		High:   close + spread,
		Low:    close - spread,
		Close:  close,
		Volume: volume,
	}
}

func trendingUpKlines(n int) []bybit.Kline {
	klines := make([]bybit.Kline, n)
	price := 100.0
	for i := range klines {
		price *= 1.002
		klines[i] = candle(price, 0.004, 100)
	}
	return klines
}

func trendingDownKlines(n int) []bybit.Kline {
	klines := make([]bybit.Kline, n)
	price := 100.0
	for i := range klines {
		price *= 0.998
		klines[i] = candle(price, 0.004, 100)
	}
	return klines
}

func flatKlines(n int) []bybit.Kline {
	klines := make([]bybit.Kline, n)
	for i := range klines {
		// Alternate a hair around 100 so nothing divides by zero.
		c := 100.0
		if i%2 == 0 {
			c = 100.05
		}
		klines[i] = candle(c, 0.03, 100)
	}
	return klines
}

func wildKlines(n int) []bybit.Kline {
	klines := make([]bybit.Kline, n)
	for i := range klines {
		c := 100.0
		if i%2 == 0 {
			c = 106
		}
		klines[i] = candle(c, 0.10, 100)
	}
	return klines
}

func TestAnalyzeRequiresEnoughData(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	if _, err := a.Analyze("BTCUSDT", "15", trendingUpKlines(30)); err == nil {
		t.Error("expected an error with under 50 candles")
	}
}

func TestAnalyzeTrendingUp(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	analysis, err := a.Analyze("BTCUSDT", "15", trendingUpKlines(120))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.Regime != RegimeTrendingUp {
		t.Errorf("regime = %v, want trending_up", analysis.Regime)
	}
	if analysis.Trend.Direction != "up" {
		t.Errorf("trend direction = %v, want up", analysis.Trend.Direction)
	}
	if analysis.Trend.Strength != "strong" {
		t.Errorf("trend strength = %v, want strong with stacked SMAs", analysis.Trend.Strength)
	}
	if analysis.Trend.Angle <= 0 {
		t.Errorf("trend angle = %v, want positive", analysis.Trend.Angle)
	}
	if analysis.MarketScore <= 50 {
		t.Errorf("market score = %v, want above neutral in a clean trend", analysis.MarketScore)
	}
}

func TestAnalyzeTrendingDown(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	analysis, err := a.Analyze("ETHUSDT", "15", trendingDownKlines(120))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Regime != RegimeTrendingDown {
		t.Errorf("regime = %v, want trending_down", analysis.Regime)
	}
	if analysis.Trend.Direction != "down" {
		t.Errorf("trend direction = %v, want down", analysis.Trend.Direction)
	}
}

func TestAnalyzeHighVolatility(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	analysis, err := a.Analyze("SOLUSDT", "15", wildKlines(120))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !analysis.Volatility.IsHigh {
		t.Errorf("volatility pct = %v, want flagged high", analysis.Volatility.Percentage)
	}
	if analysis.Regime != RegimeHighVolatility {
		t.Errorf("regime = %v, want high_volatility", analysis.Regime)
	}
}

func TestAnalyzeSidewaysVsConsolidation(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	analysis, err := a.Analyze("ADAUSDT", "15", flatKlines(120))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.Regime != RegimeSideways && analysis.Regime != RegimeConsolidation {
		t.Errorf("regime = %v, want sideways or consolidation for a flat series", analysis.Regime)
	}
}

func TestAnalyzeCachesResult(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	klines := trendingUpKlines(120)

	first, err := a.Analyze("BTCUSDT", "15", klines)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Different data, same key: the cached analysis must win inside the TTL.
	second, err := a.Analyze("BTCUSDT", "15", trendingDownKlines(120))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first != second {
		t.Error("expected the cached analysis pointer inside the TTL")
	}
}

func TestDetermineRegime(t *testing.T) {
	tests := []struct {
		name  string
		trend TrendInfo
		vol   VolatilityInfo
		want  Regime
	}{
		{"volatile trend is a breakout", TrendInfo{Direction: "up", Strength: "strong"}, VolatilityInfo{IsHigh: true}, RegimeBreakout},
		{"volatile chop", TrendInfo{Direction: "sideways", Strength: "none"}, VolatilityInfo{IsHigh: true}, RegimeHighVolatility},
		{"calm uptrend", TrendInfo{Direction: "up", Strength: "medium"}, VolatilityInfo{Level: VolMedium}, RegimeTrendingUp},
		{"calm downtrend", TrendInfo{Direction: "down", Strength: "strong"}, VolatilityInfo{Level: VolMedium}, RegimeTrendingDown},
		{"weak trend is not trending", TrendInfo{Direction: "up", Strength: "weak"}, VolatilityInfo{Level: VolMedium}, RegimeSideways},
		{"quiet range consolidates", TrendInfo{Direction: "sideways", Strength: "none"}, VolatilityInfo{Level: VolVeryLow}, RegimeConsolidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineRegime(tt.trend, tt.vol); got != tt.want {
				t.Errorf("determineRegime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarketScore(t *testing.T) {
	strong := marketScore(
		TrendInfo{Strength: "strong"},
		VolatilityInfo{Level: VolLow},
		VolumeInfo{IsHigh: true},
	)
	if strong != 85 {
		t.Errorf("strong market score = %v, want 85", strong)
	}

	weak := marketScore(
		TrendInfo{Strength: "none"},
		VolatilityInfo{Level: VolVeryHigh},
		VolumeInfo{Level: "very_low"},
	)
	if weak != 35 {
		t.Errorf("weak market score = %v, want 35", weak)
	}
}

func TestAnalyzeVolumeBuckets(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())

	klines := flatKlines(60)
	klines[len(klines)-1].Volume = 300 // 3x the 100 average

	info := a.analyzeVolume(klines)
	if info.Level != "very_high" {
		t.Errorf("volume level = %v, want very_high at 3x average", info.Level)
	}
	if !info.IsHigh {
		t.Error("3x average volume should be flagged high")
	}
	if !info.IsIncreasing {
		t.Error("3x average volume should be increasing")
	}
}

func TestLinearSlope(t *testing.T) {
	if got := linearSlope([]float64{1, 2, 3, 4, 5}); got != 1 {
		t.Errorf("slope of a unit ramp = %v, want 1", got)
	}
	if got := linearSlope([]float64{5}); got != 0 {
		t.Errorf("slope of one point = %v, want 0", got)
	}
}

package market

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/indicators"
)

// Regime classifies the overall market state of a symbol.
type Regime string

const (
	RegimeTrendingUp     Regime = "trending_up"
	RegimeTrendingDown   Regime = "trending_down"
	RegimeSideways       Regime = "sideways"
	RegimeHighVolatility Regime = "high_volatility"
	RegimeConsolidation  Regime = "consolidation"
	RegimeBreakout       Regime = "breakout"
	// Reserved classifications, currently never produced by Analyze.
	RegimeAccumulation Regime = "accumulation"
	RegimeDistribution Regime = "distribution"
)

const (
	VolVeryLow  = "very_low"
	VolLow      = "low"
	VolMedium   = "medium"
	VolHigh     = "high"
	VolVeryHigh = "very_high"
)

// TrendInfo describes the moving-average trend structure.
type TrendInfo struct {
	Direction string  `json:"direction"` // up, down, sideways
	Strength  string  `json:"strength"`  // strong, medium, weak, none
	Angle     float64 `json:"angle"`     // slope of SMA20 as % of price per bar
	SMA20     float64 `json:"sma20"`
	SMA50     float64 `json:"sma50"`
	SMA100    float64 `json:"sma100"`
}

// VolatilityInfo describes ATR-based volatility.
type VolatilityInfo struct {
	Level        string  `json:"level"`
	ATR          float64 `json:"atr"`
	Percentage   float64 `json:"percentage"` // ATR as % of price
	IsHigh       bool    `json:"isHigh"`
	IsIncreasing bool    `json:"isIncreasing"`
}

// VolumeInfo describes volume relative to its recent averages.
type VolumeInfo struct {
	Level        string  `json:"level"`
	Ratio20      float64 `json:"ratio20"`
	Ratio50      float64 `json:"ratio50"`
	IsHigh       bool    `json:"isHigh"`
	IsIncreasing bool    `json:"isIncreasing"`
}

// Analysis is the full classification of a symbol on one timeframe.
type Analysis struct {
	Symbol        string         `json:"symbol"`
	Interval      string         `json:"interval"`
	Regime        Regime         `json:"regime"`
	Trend         TrendInfo      `json:"trend"`
	Volatility    VolatilityInfo `json:"volatility"`
	Volume        VolumeInfo     `json:"volume"`
	Support       float64        `json:"support"`
	Resistance    float64        `json:"resistance"`
	TrendStrength float64        `json:"trendStrength"` // 0..100, ADX-like
	MarketScore   float64        `json:"marketScore"`   // 0..100 composite
	Timestamp     time.Time      `json:"timestamp"`
}

// Analyzer classifies market regimes with a short-lived cache so repeated
// calls within a cycle see one consistent view.
type Analyzer struct {
	logger   zerolog.Logger
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	analysis *Analysis
	expires  time.Time
}

func NewAnalyzer(logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		logger:   logger.With().Str("component", "market_analyzer").Logger(),
		cacheTTL: 60 * time.Second,
		cache:    make(map[string]*cacheEntry),
	}
}

// Analyze classifies the regime for symbol on the given interval. A cached
// result younger than the TTL is returned as-is, so two calls inside the
// window yield the identical analysis.
func (a *Analyzer) Analyze(symbol, interval string, klines []bybit.Kline) (*Analysis, error) {
	key := symbol + "_" + interval

	a.mu.Lock()
	if entry, ok := a.cache[key]; ok && time.Now().Before(entry.expires) {
		a.mu.Unlock()
		return entry.analysis, nil
	}
	a.mu.Unlock()

	if len(klines) < 50 {
		return nil, fmt.Errorf("insufficient data for %s: %d candles", symbol, len(klines))
	}

	trend := a.analyzeTrend(klines)
	volatility := a.analyzeVolatility(klines)
	volume := a.analyzeVolume(klines)
	support, resistance, _ := indicators.CalculateSupportResistance(klines, 20)

	analysis := &Analysis{
		Symbol:        symbol,
		Interval:      interval,
		Regime:        determineRegime(trend, volatility),
		Trend:         trend,
		Volatility:    volatility,
		Volume:        volume,
		Support:       support,
		Resistance:    resistance,
		TrendStrength: trendStrengthScore(klines),
		Timestamp:     time.Now(),
	}
	analysis.MarketScore = marketScore(trend, volatility, volume)

	a.mu.Lock()
	a.cache[key] = &cacheEntry{analysis: analysis, expires: time.Now().Add(a.cacheTTL)}
	a.mu.Unlock()

	a.logger.Debug().
		Str("symbol", symbol).
		Str("regime", string(analysis.Regime)).
		Float64("score", analysis.MarketScore).
		Msg("market analyzed")

	return analysis, nil
}

func (a *Analyzer) analyzeTrend(klines []bybit.Kline) TrendInfo {
	price := klines[len(klines)-1].Close
	sma20, ok20 := indicators.CalculateSMA(klines, 20)
	sma50, ok50 := indicators.CalculateSMA(klines, 50)
	sma100, ok100 := indicators.CalculateSMA(klines, 100)

	info := TrendInfo{Direction: "sideways", Strength: "none", SMA20: sma20, SMA50: sma50, SMA100: sma100}
	switch {
	case ok100 && price > sma20 && sma20 > sma50 && sma50 > sma100:
		info.Direction, info.Strength = "up", "strong"
	case ok100 && price < sma20 && sma20 < sma50 && sma50 < sma100:
		info.Direction, info.Strength = "down", "strong"
	case ok50 && price > sma20 && sma20 > sma50:
		info.Direction, info.Strength = "up", "medium"
	case ok50 && price < sma20 && sma20 < sma50:
		info.Direction, info.Strength = "down", "medium"
	case ok20 && price > sma20:
		info.Direction, info.Strength = "up", "weak"
	case ok20 && price < sma20:
		info.Direction, info.Strength = "down", "weak"
	}

	// Trend angle: linear-fit slope over the last 10 SMA20 points,
	// normalized by the current price.
	if ok20 && len(klines) >= 30 && price > 0 {
		points := make([]float64, 0, 10)
		for i := len(klines) - 10; i < len(klines); i++ {
			sma, ok := indicators.CalculateSMA(klines[:i+1], 20)
			if ok {
				points = append(points, sma)
			}
		}
		info.Angle = linearSlope(points) / price * 100
	}
	return info
}

func (a *Analyzer) analyzeVolatility(klines []bybit.Kline) VolatilityInfo {
	atrSeries := indicators.ATRSeries(klines, 14)
	atr := atrSeries[len(atrSeries)-1]
	price := klines[len(klines)-1].Close

	pct := 0.0
	if price > 0 {
		pct = atr / price * 100
	}

	level := VolVeryHigh
	for _, bucket := range []struct {
		level     string
		threshold float64
	}{
		{VolVeryLow, 1},
		{VolLow, 2},
		{VolMedium, 4},
		{VolHigh, 8},
		{VolVeryHigh, 15},
	} {
		if pct <= bucket.threshold {
			level = bucket.level
			break
		}
	}

	increasing := false
	if len(atrSeries) >= 10 {
		increasing = atr > atrSeries[len(atrSeries)-10]
	}

	return VolatilityInfo{
		Level:        level,
		ATR:          atr,
		Percentage:   pct,
		IsHigh:       pct > 4,
		IsIncreasing: increasing,
	}
}

func (a *Analyzer) analyzeVolume(klines []bybit.Kline) VolumeInfo {
	current := klines[len(klines)-1].Volume
	avg20, _ := indicators.CalculateAverageVolume(klines, 20)
	avg50, _ := indicators.CalculateAverageVolume(klines, 50)

	ratio20, ratio50 := 1.0, 1.0
	if avg20 > 0 {
		ratio20 = current / avg20
	}
	if avg50 > 0 {
		ratio50 = current / avg50
	}

	var level string
	switch {
	case ratio20 > 2.0:
		level = "very_high"
	case ratio20 > 1.5:
		level = "high"
	case ratio20 > 0.8:
		level = "normal"
	case ratio20 > 0.5:
		level = "low"
	default:
		level = "very_low"
	}

	increasing := false
	if len(klines) >= 11 {
		sum := 0.0
		for _, k := range klines[len(klines)-11 : len(klines)-1] {
			sum += k.Volume
		}
		increasing = current > sum/10
	}

	return VolumeInfo{
		Level:        level,
		Ratio20:      ratio20,
		Ratio50:      ratio50,
		IsHigh:       ratio20 > 1.5,
		IsIncreasing: increasing,
	}
}

// determineRegime applies the precedence: high volatility with a real trend
// is a breakout, high volatility alone dominates, then trends, then quiet
// consolidation, otherwise sideways.
func determineRegime(trend TrendInfo, vol VolatilityInfo) Regime {
	trending := trend.Strength == "strong" || trend.Strength == "medium"

	if vol.IsHigh {
		if (trend.Direction == "up" || trend.Direction == "down") && trending {
			return RegimeBreakout
		}
		return RegimeHighVolatility
	}
	if trend.Direction == "up" && trending {
		return RegimeTrendingUp
	}
	if trend.Direction == "down" && trending {
		return RegimeTrendingDown
	}
	if vol.Level == VolVeryLow || vol.Level == VolLow {
		return RegimeConsolidation
	}
	return RegimeSideways
}

// trendStrengthScore is an ADX-style 0..100 reading built from close-to-close
// directional movement.
func trendStrengthScore(klines []bybit.Kline) float64 {
	if len(klines) < 43 {
		return 50
	}

	n := len(klines)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		diff := klines[i].Close - klines[i-1].Close
		if diff > 0 {
			plusDM[i] = diff
		} else {
			minusDM[i] = -diff
		}
	}

	rolling := func(values []float64, end int) float64 {
		sum := 0.0
		for _, v := range values[end-13 : end+1] {
			sum += v
		}
		return sum / 14
	}

	dxSum, dxCount := 0.0, 0
	for i := n - 14; i < n; i++ {
		plusDI := rolling(plusDM, i)
		minusDI := rolling(minusDM, i)
		if plusDI+minusDI == 0 {
			continue
		}
		dxSum += math.Abs(plusDI-minusDI) / (plusDI + minusDI) * 100
		dxCount++
	}
	if dxCount == 0 {
		return 50
	}
	return math.Min(100, math.Max(0, dxSum/float64(dxCount)))
}

// marketScore folds trend quality, volatility risk and volume confirmation
// into a 0..100 composite. 50 is neutral.
func marketScore(trend TrendInfo, vol VolatilityInfo, volume VolumeInfo) float64 {
	score := 50.0

	switch trend.Strength {
	case "strong":
		score += 20
	case "medium":
		score += 10
	}

	switch vol.Level {
	case VolHigh, VolVeryHigh:
		score -= 10
	case VolLow, VolVeryLow:
		score += 5
	}

	if volume.IsHigh {
		score += 10
	} else if volume.Level == "very_low" {
		score -= 5
	}

	return math.Min(100, math.Max(0, score))
}

func linearSlope(points []float64) float64 {
	n := float64(len(points))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range points {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

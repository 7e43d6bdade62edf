package indicators

import (
	"math/rand"
	"testing"
)

func TestCalculateSuperTrendUptrend(t *testing.T) {
	klines := klinesFromCloses(rampCloses(100, 2, 60))
	result, ok := CalculateSuperTrend(klines, 10)
	if !ok {
		t.Fatal("expected supertrend to be available")
	}
	if result.Direction != 1 {
		t.Errorf("steady rise direction = %d, want 1", result.Direction)
	}
	if result.Value >= klines[len(klines)-1].Close {
		t.Errorf("uptrend band %v should sit below the close %v", result.Value, klines[len(klines)-1].Close)
	}
}

func TestCalculateSuperTrendDowntrend(t *testing.T) {
	klines := klinesFromCloses(rampCloses(300, -2, 60))
	result, ok := CalculateSuperTrend(klines, 10)
	if !ok {
		t.Fatal("expected supertrend to be available")
	}
	if result.Direction != -1 {
		t.Errorf("steady fall direction = %d, want -1", result.Direction)
	}
	if result.Value <= klines[len(klines)-1].Close {
		t.Errorf("downtrend band %v should sit above the close %v", result.Value, klines[len(klines)-1].Close)
	}
}

func TestCalculateSuperTrendMultiplierBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	closes := make([]float64, 120)
	price := 100.0
	for i := range closes {
		price += rng.Float64()*4 - 2
		closes[i] = price
	}
	result, ok := CalculateSuperTrend(klinesFromCloses(closes), 10)
	if !ok {
		t.Fatal("expected supertrend to be available")
	}
	if result.Multiplier < 1 || result.Multiplier > 5 {
		t.Errorf("multiplier = %v, want within [1, 5]", result.Multiplier)
	}
}

func TestCalculateSuperTrendDeterministic(t *testing.T) {
	klines := klinesFromCloses([]float64{100, 103, 101, 106, 104, 109, 105, 111, 108, 114,
		110, 116, 112, 118, 113, 120, 115, 122, 117, 124})
	first, ok1 := CalculateSuperTrend(klines, 10)
	second, ok2 := CalculateSuperTrend(klines, 10)
	if !ok1 || !ok2 {
		t.Fatal("expected supertrend to be available")
	}
	if first != second {
		t.Errorf("repeated runs differ: %+v vs %+v", first, second)
	}
}

func TestCalculateSuperTrendFallbackMultiplier(t *testing.T) {
	klines := klinesFromCloses([]float64{100, 101})
	result, ok := CalculateSuperTrend(klines, 10)
	if !ok {
		t.Fatal("expected supertrend to be available with two candles")
	}
	if result.Multiplier != 3 {
		t.Errorf("multiplier with under three points = %v, want fallback 3", result.Multiplier)
	}
}

func TestCalculateSuperTrendTooFewCandles(t *testing.T) {
	if _, ok := CalculateSuperTrend(klinesFromCloses([]float64{100}), 10); ok {
		t.Error("expected supertrend to be unavailable with one candle")
	}
}

func TestRollingATRMinPeriods(t *testing.T) {
	klines := klinesFromCloses([]float64{100, 100, 100, 100, 100})
	atr := rollingATRMinPeriods(klines, 3)
	for i, v := range atr {
		if v != 2 {
			t.Errorf("atr[%d] = %v, want 2 for a constant 2-point range", i, v)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd median = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("even median = %v, want 2.5", got)
	}
}

func TestKMeansLabelsSeparatesClusters(t *testing.T) {
	points := []point{
		{rng: 1, atr: 1}, {rng: 1.1, atr: 1}, {rng: 0.9, atr: 1},
		{rng: 10, atr: 1}, {rng: 10.2, atr: 1}, {rng: 9.8, atr: 1},
		{rng: 50, atr: 1}, {rng: 50.5, atr: 1}, {rng: 49.5, atr: 1},
	}
	labels := kmeansLabels(points)

	groups := [3]int{labels[0], labels[3], labels[6]}
	for i, l := range labels {
		want := groups[i/3]
		if l != want {
			t.Errorf("point %d labelled %d, want cluster %d", i, l, want)
		}
	}
	if groups[0] == groups[1] || groups[1] == groups[2] || groups[0] == groups[2] {
		t.Error("well-separated clusters collapsed into one label")
	}
}

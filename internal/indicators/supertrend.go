package indicators

import (
	"math"
	"sort"

	"bybit-trading-bot/internal/bybit"
)

const (
	supertrendFallbackMultiplier = 3.0
	supertrendMinMultiplier      = 1.0
	supertrendMaxMultiplier      = 5.0
	supertrendClusters           = 3
	supertrendKMeansRounds       = 25
)

// SuperTrendResult is the latest adaptive supertrend state.
type SuperTrendResult struct {
	Value      float64 // current band the trend rides on
	Direction  int     // 1 uptrend, -1 downtrend
	Multiplier float64 // ATR multiplier chosen by clustering
}

// CalculateSuperTrend computes a supertrend whose ATR multiplier adapts to
// the data: (bar range, ATR) pairs are clustered with k-means and the
// multiplier is the median of each cluster's median range/ATR ratio,
// clamped to [1, 5]. Too little data falls back to a multiplier of 3.
func CalculateSuperTrend(klines []bybit.Kline, atrPeriod int) (SuperTrendResult, bool) {
	if len(klines) < 2 {
		return SuperTrendResult{}, false
	}

	atr := rollingATRMinPeriods(klines, atrPeriod)
	multiplier := bestMultiplier(klines, atr)

	upper := make([]float64, len(klines))
	lower := make([]float64, len(klines))
	for i, k := range klines {
		hl2 := (k.High + k.Low) / 2
		upper[i] = hl2 + multiplier*atr[i]
		lower[i] = hl2 - multiplier*atr[i]
	}

	value := upper[0]
	direction := 1
	inUptrend := true
	for i := 1; i < len(klines); i++ {
		if klines[i].Close > upper[i-1] {
			inUptrend = true
		} else if klines[i].Close < lower[i-1] {
			inUptrend = false
		}
		if inUptrend {
			value = lower[i]
			direction = 1
		} else {
			value = upper[i]
			direction = -1
		}
	}

	return SuperTrendResult{Value: value, Direction: direction, Multiplier: multiplier}, true
}

// rollingATRMinPeriods mirrors a rolling mean with min_periods=1: early bars
// average over whatever true ranges exist so far.
func rollingATRMinPeriods(klines []bybit.Kline, period int) []float64 {
	trs := make([]float64, len(klines))
	trs[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		trs[i] = trueRange(klines[i], klines[i-1])
	}
	out := make([]float64, len(klines))
	sum := 0.0
	for i, tr := range trs {
		sum += tr
		if i >= period {
			sum -= trs[i-period]
		}
		n := i + 1
		if n > period {
			n = period
		}
		out[i] = sum / float64(n)
	}
	return out
}

type point struct{ rng, atr float64 }

func bestMultiplier(klines []bybit.Kline, atr []float64) float64 {
	points := make([]point, 0, len(klines))
	for i, k := range klines {
		points = append(points, point{rng: k.High - k.Low, atr: atr[i]})
	}
	if len(points) < supertrendClusters {
		return supertrendFallbackMultiplier
	}

	labels := kmeansLabels(points)

	multipliers := make([]float64, 0, supertrendClusters)
	for c := 0; c < supertrendClusters; c++ {
		ratios := make([]float64, 0, len(points))
		for i, p := range points {
			if labels[i] == c {
				ratios = append(ratios, p.rng/(p.atr+1e-8))
			}
		}
		if len(ratios) == 0 {
			continue
		}
		m := median(ratios)
		multipliers = append(multipliers, math.Min(supertrendMaxMultiplier, math.Max(supertrendMinMultiplier, m)))
	}
	if len(multipliers) == 0 {
		return supertrendFallbackMultiplier
	}
	return median(multipliers)
}

// kmeansLabels runs Lloyd iterations with quantile-seeded centroids, which
// keeps the clustering deterministic for a given input.
func kmeansLabels(points []point) []int {
	sorted := make([]point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].rng < sorted[j].rng })

	centroids := [supertrendClusters]point{
		sorted[0],
		sorted[len(sorted)/2],
		sorted[len(sorted)-1],
	}

	labels := make([]int, len(points))
	for round := 0; round < supertrendKMeansRounds; round++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.MaxFloat64
			for c, ct := range centroids {
				dr, da := p.rng-ct.rng, p.atr-ct.atr
				if d := dr*dr + da*da; d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && round > 0 {
			break
		}
		var sums [supertrendClusters]point
		var counts [supertrendClusters]int
		for i, p := range points {
			sums[labels[i]].rng += p.rng
			sums[labels[i]].atr += p.atr
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = point{rng: sums[c].rng / float64(counts[c]), atr: sums[c].atr / float64(counts[c])}
			}
		}
	}
	return labels
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

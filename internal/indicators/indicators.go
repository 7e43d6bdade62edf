package indicators

import (
	"math"

	"bybit-trading-bot/internal/bybit"
)

// Numeric indicators over candlestick slices. Every function returns an ok
// flag that is false when the input is too short for the requested period;
// callers treat that as "indicator unavailable", never as a zero reading.

func closes(klines []bybit.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// CalculateSMA calculates the Simple Moving Average of closes.
func CalculateSMA(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period || period <= 0 {
		return 0, false
	}
	sum := 0.0
	for _, k := range klines[len(klines)-period:] {
		sum += k.Close
	}
	return sum / float64(period), true
}

// smaSeries returns the rolling SMA of values; entries before the first full
// window are zero.
func smaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// emaSeries returns the exponentially weighted average of values, seeded
// with the first value (span semantics, alpha = 2/(period+1)).
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// CalculateEMA calculates the Exponential Moving Average of closes.
func CalculateEMA(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period || period <= 0 {
		return 0, false
	}
	series := emaSeries(closes(klines), period)
	return series[len(series)-1], true
}

// CalculateRSI calculates the Relative Strength Index using rolling average
// gains and losses.
func CalculateRSI(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period+1 || period <= 0 {
		return 0, false
	}
	prices := closes(klines)

	gainSum, lossSum := 0.0, 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	if lossSum == 0 {
		return 100, true
	}
	rs := gainSum / lossSum
	return 100 - 100/(1+rs), true
}

// MACDResult carries the last two points of the MACD and signal lines so
// callers can detect a crossover between the previous and current bar.
type MACDResult struct {
	MACD       float64
	Signal     float64
	Histogram  float64
	PrevMACD   float64
	PrevSignal float64
}

// CrossedUp reports a bullish crossover on the latest bar.
func (m MACDResult) CrossedUp() bool {
	return m.MACD > m.Signal && m.PrevMACD <= m.PrevSignal
}

// CrossedDown reports a bearish crossover on the latest bar.
func (m MACDResult) CrossedDown() bool {
	return m.MACD < m.Signal && m.PrevMACD >= m.PrevSignal
}

// CalculateMACD calculates MACD(fast, slow) with an EMA signal line.
func CalculateMACD(klines []bybit.Kline, fast, slow, signalPeriod int) (MACDResult, bool) {
	if len(klines) < slow+signalPeriod {
		return MACDResult{}, false
	}
	prices := closes(klines)
	fastEMA := emaSeries(prices, fast)
	slowEMA := emaSeries(prices, slow)

	macdLine := make([]float64, len(prices))
	for i := range prices {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := emaSeries(macdLine, signalPeriod)

	n := len(prices)
	return MACDResult{
		MACD:       macdLine[n-1],
		Signal:     signalLine[n-1],
		Histogram:  macdLine[n-1] - signalLine[n-1],
		PrevMACD:   macdLine[n-2],
		PrevSignal: signalLine[n-2],
	}, true
}

// CalculateBollingerBands calculates Bollinger Bands with a population
// standard deviation.
func CalculateBollingerBands(klines []bybit.Kline, period int, stdDev float64) (upper, middle, lower float64, ok bool) {
	middle, ok = CalculateSMA(klines, period)
	if !ok {
		return 0, 0, 0, false
	}
	variance := 0.0
	for _, k := range klines[len(klines)-period:] {
		diff := k.Close - middle
		variance += diff * diff
	}
	sd := math.Sqrt(variance / float64(period))
	return middle + stdDev*sd, middle, middle - stdDev*sd, true
}

// stochasticK computes raw %K at the bar ending index end (inclusive).
func stochasticK(klines []bybit.Kline, end, period int) float64 {
	highest, lowest := klines[end].High, klines[end].Low
	for _, k := range klines[end-period+1 : end+1] {
		if k.High > highest {
			highest = k.High
		}
		if k.Low < lowest {
			lowest = k.Low
		}
	}
	if highest == lowest {
		return 50
	}
	return (klines[end].Close - lowest) / (highest - lowest) * 100
}

// CalculateStochastic calculates the stochastic oscillator; %D is the SMA
// of %K over dPeriod bars.
func CalculateStochastic(klines []bybit.Kline, kPeriod, dPeriod int) (k, d float64, ok bool) {
	if len(klines) < kPeriod+dPeriod-1 {
		return 0, 0, false
	}
	last := len(klines) - 1
	k = stochasticK(klines, last, kPeriod)

	sum := 0.0
	for i := 0; i < dPeriod; i++ {
		sum += stochasticK(klines, last-i, kPeriod)
	}
	return k, sum / float64(dPeriod), true
}

// CalculateWilliamsR calculates Williams %R (range -100..0).
func CalculateWilliamsR(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period {
		return 0, false
	}
	window := klines[len(klines)-period:]
	highest, lowest := window[0].High, window[0].Low
	for _, k := range window {
		if k.High > highest {
			highest = k.High
		}
		if k.Low < lowest {
			lowest = k.Low
		}
	}
	if highest == lowest {
		return -50, true
	}
	return (highest - klines[len(klines)-1].Close) / (highest - lowest) * -100, true
}

func trueRange(current, previous bybit.Kline) float64 {
	tr := current.High - current.Low
	if hc := math.Abs(current.High - previous.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(current.Low - previous.Close); lc > tr {
		tr = lc
	}
	return tr
}

// CalculateATR calculates the Average True Range as a rolling mean of the
// true range.
func CalculateATR(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += trueRange(klines[i], klines[i-1])
	}
	return sum / float64(period), true
}

// ATRSeries returns the rolling ATR for every bar; entries before the first
// full window are zero.
func ATRSeries(klines []bybit.Kline, period int) []float64 {
	out := make([]float64, len(klines))
	if len(klines) < period+1 {
		return out
	}
	trs := make([]float64, len(klines))
	for i := 1; i < len(klines); i++ {
		trs[i] = trueRange(klines[i], klines[i-1])
	}
	sum := 0.0
	for i := 1; i < len(klines); i++ {
		sum += trs[i]
		if i > period {
			sum -= trs[i-period]
		}
		if i >= period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateMFI calculates the Money Flow Index as the money-flow ratio
// normalized over its own rolling min/max window to a 0..100 scale.
func CalculateMFI(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < 2*period {
		return 0, false
	}

	// ratio at bar i: sum of typical-price*volume over the window divided
	// by the volume sum over the same window
	ratioAt := func(end int) float64 {
		mfSum, volSum := 0.0, 0.0
		for _, k := range klines[end-period+1 : end+1] {
			tp := (k.High + k.Low + k.Close) / 3
			mfSum += tp * k.Volume
			volSum += k.Volume
		}
		if volSum == 0 {
			return 0
		}
		return mfSum / volSum
	}

	last := len(klines) - 1
	current := ratioAt(last)
	lo, hi := current, current
	for i := last - period + 1; i <= last; i++ {
		r := ratioAt(i)
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	if hi == lo {
		return 50, true
	}
	return (current - lo) / (hi - lo) * 100, true
}

// OBVSeries returns the cumulative On-Balance Volume.
func OBVSeries(klines []bybit.Kline) []float64 {
	out := make([]float64, len(klines))
	for i := 1; i < len(klines); i++ {
		switch {
		case klines[i].Close > klines[i-1].Close:
			out[i] = out[i-1] + klines[i].Volume
		case klines[i].Close < klines[i-1].Close:
			out[i] = out[i-1] - klines[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// CalculateOBVSlope returns the change of the smoothed OBV between the last
// two bars. Positive means accumulation.
func CalculateOBVSlope(klines []bybit.Kline, smooth int) (float64, bool) {
	if len(klines) < smooth+2 {
		return 0, false
	}
	sma := smaSeries(OBVSeries(klines), smooth)
	n := len(sma)
	return sma[n-1] - sma[n-2], true
}

// CalculateCMF calculates the Chaikin Money Flow over the given period.
func CalculateCMF(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period {
		return 0, false
	}
	mfvSum, volSum := 0.0, 0.0
	for _, k := range klines[len(klines)-period:] {
		if k.High == k.Low {
			continue
		}
		multiplier := ((k.Close - k.Low) - (k.High - k.Close)) / (k.High - k.Low)
		mfvSum += multiplier * k.Volume
		volSum += k.Volume
	}
	if volSum == 0 {
		return 0, true
	}
	return mfvSum / volSum, true
}

// CalculateTrendStrength measures trend intensity as the percentage spread
// between the 10 and 20 period EMAs. Bullish is true when the fast EMA is
// on top.
func CalculateTrendStrength(klines []bybit.Kline) (strength float64, bullish bool, ok bool) {
	if len(klines) < 20 {
		return 0, false, false
	}
	prices := closes(klines)
	fast := emaSeries(prices, 10)
	slow := emaSeries(prices, 20)
	f, s := fast[len(fast)-1], slow[len(slow)-1]
	if s == 0 {
		return 0, false, false
	}
	return math.Abs(f-s) / s * 100, f > s, true
}

// CalculateSupportResistance returns the lowest low and highest high over
// the lookback window, excluding the current bar.
func CalculateSupportResistance(klines []bybit.Kline, lookback int) (support, resistance float64, ok bool) {
	if len(klines) < lookback+1 {
		return 0, 0, false
	}
	window := klines[len(klines)-lookback-1 : len(klines)-1]
	support, resistance = window[0].Low, window[0].High
	for _, k := range window {
		if k.Low < support {
			support = k.Low
		}
		if k.High > resistance {
			resistance = k.High
		}
	}
	return support, resistance, true
}

// CalculateAverageVolume returns the mean volume over the period.
func CalculateAverageVolume(klines []bybit.Kline, period int) (float64, bool) {
	if len(klines) < period || period <= 0 {
		return 0, false
	}
	sum := 0.0
	for _, k := range klines[len(klines)-period:] {
		sum += k.Volume
	}
	return sum / float64(period), true
}

// Package indicators is a library of pure functions over price and candle
// slices. No I/O, no shared state; given the same slice the outputs are
// always identical.
package indicators

import (
	"math"

	"confluence-trader/market"
)

// SMA returns the simple moving average of the last `period` values.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	if len(values) < period {
		period = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average, seeded with the SMA of the
// first `period` values.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	if len(values) < period {
		return SMA(values, len(values))
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
	}
	return ema
}

// EMASeries returns the EMA at every index in one pass. Entries before the
// seed window hold the running mean so the slice is fully populated.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = (v-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// RSI returns the Wilder-smoothed relative strength index. Neutral 50 when
// the slice is too short.
func RSI(values []float64, period int) float64 {
	series := RSISeries(values, period)
	if len(series) == 0 {
		return 50
	}
	return series[len(series)-1]
}

// RSISeries computes the RSI at every index in one pass.
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50
	}
	if len(values) < period+1 || period <= 0 {
		return out
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the latest 12/26 MACD line, 9-period signal line, and
// histogram.
func MACD(values []float64) (macd, signal, histogram float64) {
	macdLine, signalLine, hist := MACDSeries(values)
	if len(macdLine) == 0 {
		return 0, 0, 0
	}
	last := len(macdLine) - 1
	return macdLine[last], signalLine[last], hist[last]
}

// MACDSeries computes the full MACD line, signal line, and histogram series
// in one pass. The signal line is a true EMA of the MACD line.
func MACDSeries(values []float64) (macdLine, signalLine, histogram []float64) {
	fast := EMASeries(values, 12)
	slow := EMASeries(values, 26)

	macdLine = make([]float64, len(values))
	for i := range values {
		macdLine[i] = fast[i] - slow[i]
	}
	signalLine = EMASeries(macdLine, 9)

	histogram = make([]float64, len(values))
	for i := range values {
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return macdLine, signalLine, histogram
}

// TrueRange of a candle given the previous close.
func trueRange(c market.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the Wilder-smoothed average true range.
func ATR(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// ADX returns the Wilder-smoothed average directional index, 0..100.
func ADX(candles []market.Candle, period int) float64 {
	if len(candles) < 2*period+1 || period <= 0 {
		return 0
	}

	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= period; i++ {
		tr, plusDM, minusDM := directionalMove(candles[i], candles[i-1])
		smTR += tr
		smPlusDM += plusDM
		smMinusDM += minusDM
	}

	var adx float64
	dxCount := 0
	for i := period + 1; i < len(candles); i++ {
		tr, plusDM, minusDM := directionalMove(candles[i], candles[i-1])
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM

		if smTR == 0 {
			continue
		}
		plusDI := 100 * smPlusDM / smTR
		minusDI := 100 * smMinusDM / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / sum

		dxCount++
		if dxCount < period {
			adx += dx
		} else if dxCount == period {
			adx = (adx + dx) / float64(period)
		} else {
			adx = (adx*float64(period-1) + dx) / float64(period)
		}
	}
	if dxCount < period {
		return 0
	}
	return adx
}

func directionalMove(c, prev market.Candle) (tr, plusDM, minusDM float64) {
	upMove := c.High - prev.High
	downMove := prev.Low - c.Low
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	return trueRange(c, prev.Close), plusDM, minusDM
}

// Bollinger returns the upper, middle, and lower bands over the last
// `period` values.
func Bollinger(values []float64, period int, mult float64) (upper, middle, lower float64) {
	if len(values) == 0 || period <= 0 {
		return 0, 0, 0
	}
	if len(values) < period {
		period = len(values)
	}
	window := values[len(values)-period:]

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(period))

	return mean + mult*std, mean, mean - mult*std
}

// BollingerWidth returns (upper−lower)/middle, the squeeze measure.
func BollingerWidth(values []float64, period int, mult float64) float64 {
	upper, middle, lower := Bollinger(values, period, mult)
	if middle == 0 {
		return 0
	}
	return (upper - lower) / middle
}

// Stochastic returns %K over the window high/low and %D as the SMA of the
// last dPeriod %K values.
func Stochastic(candles []market.Candle, kPeriod, dPeriod int) (k, d float64) {
	kSeries := StochKSeries(candles, kPeriod)
	if len(kSeries) == 0 {
		return 50, 50
	}
	k = kSeries[len(kSeries)-1]
	d = SMA(kSeries, dPeriod)
	return k, d
}

// StochKSeries computes %K at every index. Neutral 50 before the window
// fills.
func StochKSeries(candles []market.Candle, kPeriod int) []float64 {
	out := make([]float64, len(candles))
	for i := range out {
		out[i] = 50
	}
	if kPeriod <= 0 {
		return out
	}

	for i := kPeriod - 1; i < len(candles); i++ {
		hi := math.Inf(-1)
		lo := math.Inf(1)
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, candles[j].High)
			lo = math.Min(lo, candles[j].Low)
		}
		if hi == lo {
			out[i] = 50
			continue
		}
		out[i] = 100 * (candles[i].Close - lo) / (hi - lo)
	}
	return out
}

// VWAP returns the volume-weighted average of typical prices over the slice.
func VWAP(candles []market.Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// OBV returns the final on-balance volume value.
func OBV(candles []market.Candle) float64 {
	series := OBVSeries(candles)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// OBVSeries computes cumulative on-balance volume at every index.
func OBVSeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			out[i] = out[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			out[i] = out[i-1] - candles[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// ROC returns the percent rate of change over `period` bars.
func ROC(values []float64, period int) float64 {
	if len(values) <= period || period <= 0 {
		return 0
	}
	prev := values[len(values)-1-period]
	if prev == 0 {
		return 0
	}
	return (values[len(values)-1] - prev) / prev * 100
}

// Closes extracts the close series from a candle slice.
func Closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a candle slice.
func Volumes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

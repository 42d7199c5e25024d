package indicators

import "confluence-trader/market"

// Divergence is a disagreement between price swings and an oscillator.
// Bullish: price made a lower low while the indicator made a higher low.
// Bearish: price made a higher high while the indicator made a lower high.
type Divergence struct {
	Indicator string // "rsi", "macd_hist", "obv", "stoch"
	Bullish   bool
}

// DetectDivergences compares the two most recent price swings against the
// indicator series values at the same bar offsets.
func DetectDivergences(candles []market.Candle) []Divergence {
	if len(candles) < 30 {
		return nil
	}
	closes := Closes(candles)

	series := map[string][]float64{
		"rsi":   RSISeries(closes, 14),
		"obv":   OBVSeries(candles),
		"stoch": StochKSeries(candles, 14),
	}
	_, _, hist := MACDSeries(closes)
	series["macd_hist"] = hist

	lows := SwingLows(candles)
	highs := SwingHighs(candles)

	var out []Divergence
	for _, name := range []string{"rsi", "macd_hist", "obv", "stoch"} {
		ind := series[name]
		if d, ok := checkBullish(lows, ind); ok {
			out = append(out, Divergence{Indicator: name, Bullish: d})
		}
		if d, ok := checkBearish(highs, ind); ok {
			out = append(out, Divergence{Indicator: name, Bullish: d})
		}
	}
	return out
}

func checkBullish(lows []SwingPoint, ind []float64) (bullish bool, ok bool) {
	if len(lows) < 2 {
		return false, false
	}
	prev := lows[len(lows)-2]
	last := lows[len(lows)-1]
	if last.Index >= len(ind) || prev.Index >= len(ind) {
		return false, false
	}
	// Lower low in price, higher low in the indicator.
	if last.Price < prev.Price && ind[last.Index] > ind[prev.Index] {
		return true, true
	}
	return false, false
}

func checkBearish(highs []SwingPoint, ind []float64) (bullish bool, ok bool) {
	if len(highs) < 2 {
		return false, false
	}
	prev := highs[len(highs)-2]
	last := highs[len(highs)-1]
	if last.Index >= len(ind) || prev.Index >= len(ind) {
		return false, false
	}
	// Higher high in price, lower high in the indicator.
	if last.Price > prev.Price && ind[last.Index] < ind[prev.Index] {
		return false, true
	}
	return false, false
}

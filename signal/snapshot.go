package signal

import (
	"confluence-trader/indicators"
	"confluence-trader/market"
)

// Volatility class thresholds on ATR as a percent of price.
const (
	volLowMax     = 0.8
	volNormalMax  = 2.5
	volHighMax    = 5.0
	squeezeMaxBBW = 0.04
)

// IndicatorSnapshot is the full indicator state for one (coin, timeframe) at
// one bar. Pure function of the candle slice; identical slices produce
// identical snapshots.
type IndicatorSnapshot struct {
	Close  float64 `json:"close"`
	Open   float64 `json:"open"`
	Volume float64 `json:"volume"`

	EMA20 float64 `json:"ema_20"`
	EMA50 float64 `json:"ema_50"`
	RSI   float64 `json:"rsi"`

	MACDLine   float64 `json:"macd_line"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`

	ATR    float64 `json:"atr"`
	ATRPct float64 `json:"atr_pct"`
	ADX    float64 `json:"adx"`

	BBUpper float64 `json:"bb_upper"`
	BBMid   float64 `json:"bb_mid"`
	BBLower float64 `json:"bb_lower"`
	BBWidth float64 `json:"bb_width"`
	Squeeze bool    `json:"squeeze"`

	StochK float64 `json:"stoch_k"`
	StochD float64 `json:"stoch_d"`
	VWAP   float64 `json:"vwap"`
	ROC    float64 `json:"roc"`

	OBVRising  bool    `json:"obv_rising"`
	OBVFalling bool    `json:"obv_falling"`
	VolSMA20   float64 `json:"vol_sma_20"`

	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`

	OrderBlocks []indicators.OrderBlock       `json:"-"`
	Gaps        []indicators.FVG              `json:"-"`
	Clusters    []indicators.LiquidityCluster `json:"-"`

	Trend           string `json:"trend"`
	VolatilityClass string `json:"volatility_class"`
	PotentialTop    bool   `json:"potential_top"`
	PotentialBottom bool   `json:"potential_bottom"`
}

// BuildSnapshot computes the indicator state from a candle slice. Returns nil
// when fewer than 30 bars are available; scoring needs real indicator values,
// not warmup fills.
func BuildSnapshot(candles []market.Candle) *IndicatorSnapshot {
	if len(candles) < 30 {
		return nil
	}
	closes := indicators.Closes(candles)
	volumes := indicators.Volumes(candles)
	last := candles[len(candles)-1]

	s := &IndicatorSnapshot{
		Close:  last.Close,
		Open:   last.Open,
		Volume: last.Volume,
		EMA20:  indicators.EMA(closes, 20),
		EMA50:  indicators.EMA(closes, 50),
		RSI:    indicators.RSI(closes, 14),
		ADX:    indicators.ADX(candles, 14),
		VWAP:   indicators.VWAP(candles),
		ROC:    indicators.ROC(closes, 10),
	}
	s.MACDLine, s.MACDSignal, s.MACDHist = indicators.MACD(closes)
	s.ATR = indicators.ATR(candles, 14)
	if last.Close > 0 {
		s.ATRPct = s.ATR / last.Close * 100
	}
	s.BBUpper, s.BBMid, s.BBLower = indicators.Bollinger(closes, 20, 2)
	s.BBWidth = indicators.BollingerWidth(closes, 20, 2)
	s.Squeeze = s.BBWidth > 0 && s.BBWidth < squeezeMaxBBW
	s.StochK, s.StochD = indicators.Stochastic(candles, 14, 3)
	s.VolSMA20 = indicators.SMA(volumes, 20)

	obv := indicators.OBVSeries(candles)
	if len(obv) > 10 {
		ref := obv[len(obv)-11]
		cur := obv[len(obv)-1]
		s.OBVRising = cur > ref
		s.OBVFalling = cur < ref
	}

	s.Support = indicators.NearestSupport(candles, last.Close)
	s.Resistance = indicators.NearestResistance(candles, last.Close)
	s.OrderBlocks = indicators.OrderBlocks(candles, s.ATR)
	s.Gaps = indicators.FairValueGaps(candles)
	s.Clusters = indicators.LiquidityClusters(candles)

	s.Trend = trendLabel(s)
	s.VolatilityClass = volatilityClass(s.ATRPct)
	s.PotentialTop = s.RSI >= 72 && (s.StochK >= 85 || s.Close >= s.BBUpper)
	s.PotentialBottom = s.RSI <= 28 && (s.StochK <= 15 || s.Close <= s.BBLower)
	return s
}

func trendLabel(s *IndicatorSnapshot) string {
	switch {
	case s.EMA20 > s.EMA50 && s.Close > s.EMA20:
		return "uptrend"
	case s.EMA20 < s.EMA50 && s.Close < s.EMA20:
		return "downtrend"
	default:
		return "sideways"
	}
}

func volatilityClass(atrPct float64) string {
	switch {
	case atrPct < volLowMax:
		return "low"
	case atrPct < volNormalMax:
		return "normal"
	case atrPct < volHighMax:
		return "high"
	default:
		return "extreme"
	}
}

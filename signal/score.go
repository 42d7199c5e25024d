package signal

import "confluence-trader/market"

// tfAnalysis is the scored view of one timeframe.
type tfAnalysis struct {
	Snapshot  *IndicatorSnapshot
	Dims      ScoreBreakdown
	Score     float64
	Direction Direction
	BullPts   int
	BearPts   int
}

// analyzeTimeframe scores one candle slice across the six dimensions.
// Returns nil when the slice is too short for a snapshot.
func analyzeTimeframe(candles []market.Candle, priceAction bool) *tfAnalysis {
	snap := BuildSnapshot(candles)
	if snap == nil {
		return nil
	}
	a := &tfAnalysis{Snapshot: snap}

	var bull, bear int
	a.Dims.Trend, bull, bear = scoreTrend(snap)
	a.BullPts += bull
	a.BearPts += bear
	a.Dims.Momentum, bull, bear = scoreMomentum(snap)
	a.BullPts += bull
	a.BearPts += bear
	a.Dims.Volume, bull, bear = scoreVolume(snap)
	a.BullPts += bull
	a.BearPts += bear
	a.Dims.Structure, bull, bear = scoreStructure(snap, priceAction)
	a.BullPts += bull
	a.BearPts += bear
	a.Dims.Volatility, bull, bear = scoreVolatility(snap)
	a.BullPts += bull
	a.BearPts += bear
	a.Dims.RiskQuality, bull, bear = scoreRiskQuality(snap)
	a.BullPts += bull
	a.BearPts += bear

	a.Score = a.Dims.Trend + a.Dims.Momentum + a.Dims.Volume +
		a.Dims.Structure + a.Dims.Volatility + a.Dims.RiskQuality

	switch {
	case a.BullPts > a.BearPts+1:
		a.Direction = DirBull
	case a.BearPts > a.BullPts+1:
		a.Direction = DirBear
	default:
		a.Direction = DirNeutral
	}
	return a
}

// scoreTrend, 0-20:
//
//	+5 EMA20 above/below EMA50
//	+4 close above/below EMA20
//	+3 close above/below EMA50
//	+5 ADX >= 25 (or +3 for ADX >= 20, no point)
//	+3 close above/below VWAP
func scoreTrend(s *IndicatorSnapshot) (score float64, bull, bear int) {
	switch {
	case s.EMA20 > s.EMA50:
		score += 5
		bull++
	case s.EMA20 < s.EMA50:
		score += 5
		bear++
	}
	switch {
	case s.Close > s.EMA20:
		score += 4
		bull++
	case s.Close < s.EMA20:
		score += 4
		bear++
	}
	switch {
	case s.Close > s.EMA50:
		score += 3
		bull++
	case s.Close < s.EMA50:
		score += 3
		bear++
	}
	switch {
	case s.ADX >= 25:
		score += 5
		// Strong trend reinforces whichever side the EMAs point.
		if s.EMA20 > s.EMA50 {
			bull++
		} else if s.EMA20 < s.EMA50 {
			bear++
		}
	case s.ADX >= 20:
		score += 3
	}
	if s.VWAP > 0 {
		switch {
		case s.Close > s.VWAP:
			score += 3
			bull++
		case s.Close < s.VWAP:
			score += 3
			bear++
		}
	}
	return score, bull, bear
}

// scoreMomentum, 0-20:
//
//	RSI   <25 +6 bull, <35 +4 bull, >75 +6 bear, >65 +4 bear,
//	      45-55 +1, else +2 with a mild point
//	MACD  hist>0 and line>signal +5 bull; mirrored for bear; else +2
//	Stoch K>D under 80 +4 bull; K<D over 20 +4 bear; else +1
//	ROC   >2 +5 bull, <-2 +5 bear, beyond +-0.5 +3, else +1
func scoreMomentum(s *IndicatorSnapshot) (score float64, bull, bear int) {
	switch {
	case s.RSI < 25:
		score += 6
		bull++
	case s.RSI < 35:
		score += 4
		bull++
	case s.RSI > 75:
		score += 6
		bear++
	case s.RSI > 65:
		score += 4
		bear++
	case s.RSI >= 45 && s.RSI <= 55:
		score += 1
	case s.RSI > 55:
		score += 2
		bull++
	default:
		score += 2
		bear++
	}
	switch {
	case s.MACDHist > 0 && s.MACDLine > s.MACDSignal:
		score += 5
		bull++
	case s.MACDHist < 0 && s.MACDLine < s.MACDSignal:
		score += 5
		bear++
	default:
		score += 2
	}
	switch {
	case s.StochK > s.StochD && s.StochK < 80:
		score += 4
		bull++
	case s.StochK < s.StochD && s.StochK > 20:
		score += 4
		bear++
	default:
		score += 1
	}
	switch {
	case s.ROC > 2:
		score += 5
		bull++
	case s.ROC < -2:
		score += 5
		bear++
	case s.ROC > 0.5:
		score += 3
		bull++
	case s.ROC < -0.5:
		score += 3
		bear++
	default:
		score += 1
	}
	return score, bull, bear
}

// scoreVolume, 0-20:
//
//	vol vs SMA20  >=1.5x +8, >=1x +5 (point follows candle color),
//	              >=0.5x +3, else +1
//	OBV           rising +6 bull, falling +6 bear, flat +2
//	VWAP confirm  close vs VWAP with at least average volume +6
func scoreVolume(s *IndicatorSnapshot) (score float64, bull, bear int) {
	aboveAvg := s.VolSMA20 > 0 && s.Volume >= s.VolSMA20
	switch {
	case s.VolSMA20 > 0 && s.Volume >= 1.5*s.VolSMA20:
		score += 8
		if s.Close > s.Open {
			bull++
		} else if s.Close < s.Open {
			bear++
		}
	case aboveAvg:
		score += 5
		if s.Close > s.Open {
			bull++
		} else if s.Close < s.Open {
			bear++
		}
	case s.VolSMA20 > 0 && s.Volume >= 0.5*s.VolSMA20:
		score += 3
	default:
		score += 1
	}
	switch {
	case s.OBVRising:
		score += 6
		bull++
	case s.OBVFalling:
		score += 6
		bear++
	default:
		score += 2
	}
	switch {
	case aboveAvg && s.VWAP > 0 && s.Close > s.VWAP:
		score += 6
		bull++
	case aboveAvg && s.VWAP > 0 && s.Close < s.VWAP:
		score += 6
		bear++
	default:
		score += 2
	}
	return score, bull, bear
}

// scoreStructure, 0-20:
//
//	S/R proximity  within 2% of support +7 bull / of resistance +7 bear,
//	               the nearer side wins; mid-range +3
//	order block    zone within 3% on the favorable side +5
//	fair value gap unfilled gap within 3% on the favorable side +4
//	liquidity      2+ touch cluster within 2.5% +4
//
// With price-action confluence off only the S/R proximity part runs.
func scoreStructure(s *IndicatorSnapshot, priceAction bool) (score float64, bull, bear int) {
	supDist, resDist := -1.0, -1.0
	if s.Support > 0 && s.Close > 0 {
		supDist = (s.Close - s.Support) / s.Close
	}
	if s.Resistance > 0 && s.Close > 0 {
		resDist = (s.Resistance - s.Close) / s.Close
	}
	nearSup := supDist >= 0 && supDist <= 0.02
	nearRes := resDist >= 0 && resDist <= 0.02
	switch {
	case nearSup && nearRes:
		if supDist <= resDist {
			score += 7
			bull++
		} else {
			score += 7
			bear++
		}
	case nearSup:
		score += 7
		bull++
	case nearRes:
		score += 7
		bear++
	default:
		score += 3
	}
	if !priceAction {
		return score, bull, bear
	}

	for i := len(s.OrderBlocks) - 1; i >= 0; i-- {
		ob := s.OrderBlocks[i]
		if ob.Bullish && ob.High <= s.Close && ob.High >= s.Close*0.97 {
			score += 5
			bull++
			break
		}
		if !ob.Bullish && ob.Low >= s.Close && ob.Low <= s.Close*1.03 {
			score += 5
			bear++
			break
		}
	}
	for i := len(s.Gaps) - 1; i >= 0; i-- {
		g := s.Gaps[i]
		if g.Bullish && g.Top <= s.Close && g.Top >= s.Close*0.97 {
			score += 4
			bull++
			break
		}
		if !g.Bullish && g.Bottom >= s.Close && g.Bottom <= s.Close*1.03 {
			score += 4
			bear++
			break
		}
	}
	for _, cl := range s.Clusters {
		if cl.IsSupport && cl.Price <= s.Close && cl.Price >= s.Close*0.975 {
			score += 4
			bull++
			break
		}
		if !cl.IsSupport && cl.Price >= s.Close && cl.Price <= s.Close*1.025 {
			score += 4
			bear++
			break
		}
	}
	return score, bull, bear
}

// scoreVolatility, 0-10:
//
//	ATR%     0.5-3.0 +5, under 0.5 +2, up to 5 +3, beyond +1
//	squeeze  +3
//	BB edge  close at/under lower band +2 bull, at/over upper +2 bear
func scoreVolatility(s *IndicatorSnapshot) (score float64, bull, bear int) {
	switch {
	case s.ATRPct >= 0.5 && s.ATRPct <= 3.0:
		score += 5
	case s.ATRPct < 0.5:
		score += 2
	case s.ATRPct <= 5.0:
		score += 3
	default:
		score += 1
	}
	if s.Squeeze {
		score += 3
	}
	switch {
	case s.BBLower > 0 && s.Close <= s.BBLower:
		score += 2
		bull++
	case s.BBUpper > 0 && s.Close >= s.BBUpper:
		score += 2
		bear++
	default:
		score += 1
	}
	return score, bull, bear
}

// scoreRiskQuality, 0-10:
//
//	anchor  a swing level within 3 ATR gives the stop something to sit
//	        behind +3
//	room    the favorable side has at least twice the distance of the
//	        stop side +4; one-sided structure +2
//	sizing  ATR% <= 4 keeps the stop inside the distance cap +3
func scoreRiskQuality(s *IndicatorSnapshot) (score float64, bull, bear int) {
	if s.ATR > 0 {
		anchored := (s.Support > 0 && s.Close-s.Support <= 3*s.ATR) ||
			(s.Resistance > 0 && s.Resistance-s.Close <= 3*s.ATR)
		if anchored {
			score += 3
		}
	}
	supDist := s.Close - s.Support
	resDist := s.Resistance - s.Close
	switch {
	case s.Support > 0 && s.Resistance > 0 && resDist >= 2*supDist:
		score += 4
		bull++
	case s.Support > 0 && s.Resistance > 0 && supDist >= 2*resDist:
		score += 4
		bear++
	default:
		score += 2
	}
	if s.ATRPct > 0 && s.ATRPct <= 4 {
		score += 3
	}
	return score, bull, bear
}

// weightFor returns the confluence weight of a core timeframe.
func weightFor(tf market.Timeframe) float64 {
	switch tf {
	case market.TF1d:
		return 0.40
	case market.TF4h:
		return 0.35
	case market.TF1h:
		return 0.25
	default:
		return 0
	}
}

package signal

import (
	"fmt"
	"math"
	"time"

	"confluence-trader/config"
	"confluence-trader/indicators"
	"confluence-trader/market"
)

// Engine turns multi-timeframe candles into trading decisions. It holds no
// mutable state; Evaluate is a pure function of its input plus the engine
// thresholds, so live and backtest callers share one code path.
type Engine struct {
	cfg config.EngineConfig
}

// NewEngine builds an engine with the given thresholds.
func NewEngine(cfg config.EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// minBaseCandles is the least 1h history Evaluate will score. Below it the
// engine falls back to a 24h-change placeholder decision.
const minBaseCandles = 50

// Evaluate scores one coin at one bar. Options.BarTime pins every
// time-dependent input; identical inputs produce identical decisions.
func (e *Engine) Evaluate(in Input) Decision {
	now := in.Options.BarTime
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	base := in.Candles[market.TF1h]
	if len(base) < minBaseCandles {
		return e.basicDecision(in, now)
	}

	analyses := make(map[market.Timeframe]*tfAnalysis, len(market.AllTimeframes))
	for _, tf := range market.AllTimeframes {
		cs := in.Candles[tf]
		if len(cs) == 0 {
			continue
		}
		if a := analyzeTimeframe(cs, in.Options.PriceActionConfluence); a != nil {
			analyses[tf] = a
		}
	}
	h1 := analyses[market.TF1h]
	if h1 == nil {
		return e.basicDecision(in, now)
	}
	h4 := analyses[market.TF4h]
	d1 := analyses[market.TF1d]

	d := Decision{
		CoinID:      in.Coin.ID,
		Signal:      SignalHold,
		Side:        SideNone,
		EvaluatedAt: now,
	}

	// Confluence-weighted score and blended dimension breakdown over the
	// core timeframes, renormalized when a timeframe is missing.
	var score, wsum float64
	var blend ScoreBreakdown
	for _, tf := range market.CoreTimeframes {
		a := analyses[tf]
		if a == nil {
			continue
		}
		w := weightFor(tf)
		score += w * a.Score
		blend.Trend += w * a.Dims.Trend
		blend.Momentum += w * a.Dims.Momentum
		blend.Volume += w * a.Dims.Volume
		blend.Structure += w * a.Dims.Structure
		blend.Volatility += w * a.Dims.Volatility
		blend.RiskQuality += w * a.Dims.RiskQuality
		wsum += w
	}
	if wsum > 0 {
		score /= wsum
		blend.Trend /= wsum
		blend.Momentum /= wsum
		blend.Volume /= wsum
		blend.Structure /= wsum
		blend.Volatility /= wsum
		blend.RiskQuality /= wsum
	}

	var bullTF, bearTF int
	for _, tf := range market.CoreTimeframes {
		a := analyses[tf]
		if a == nil {
			continue
		}
		switch a.Direction {
		case DirBull:
			bullTF++
		case DirBear:
			bearTF++
		}
	}
	dom := DirNeutral
	switch {
	case bullTF > bearTF:
		dom = DirBull
	case bearTF > bullTF:
		dom = DirBear
	case score >= 55:
		dom = DirBull
	case score <= 45:
		dom = DirBear
	}

	confluence := 0
	if dom != DirNeutral {
		for _, tf := range market.CoreTimeframes {
			if a := analyses[tf]; a != nil && a.Direction == dom {
				confluence++
			}
		}
	}
	d.ConfluenceLevel = confluence

	for _, tf := range market.CoreTimeframes {
		a := analyses[tf]
		if a == nil {
			continue
		}
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("%s %s %.1f (%s, RSI %.1f, ADX %.1f)",
			tf, a.Direction, a.Score, a.Snapshot.Trend, a.Snapshot.RSI, a.Snapshot.ADX))
	}

	// Adjustments.
	if h4 != nil && h1.Direction != DirNeutral && h4.Direction != DirNeutral && h1.Direction != h4.Direction {
		score -= e.cfg.MTFDivergencePenalty
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("1h and 4h disagree (-%.0f)", e.cfg.MTFDivergencePenalty))
	}
	hour := time.UnixMilli(now).UTC().Hour()
	if hour < e.cfg.SessionStartUTC || hour >= e.cfg.SessionEndUTC {
		score -= e.cfg.SessionPenalty
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("outside %02d-%02d UTC session (-%.0f)",
			e.cfg.SessionStartUTC, e.cfg.SessionEndUTC, e.cfg.SessionPenalty))
	}
	divs := indicators.DetectDivergences(base)
	aligned := 0
	for _, dv := range divs {
		if (dv.Bullish && dom == DirBull) || (!dv.Bullish && dom == DirBear) {
			aligned++
		}
	}
	if aligned > 0 {
		boost := 8.0 + 2.0*float64(aligned-1)
		score += boost
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("%d aligned divergence(s) (+%.0f)", aligned, boost))
	}
	topSeen := h1.Snapshot.PotentialTop || (h4 != nil && h4.Snapshot.PotentialTop)
	bottomSeen := h1.Snapshot.PotentialBottom || (h4 != nil && h4.Snapshot.PotentialBottom)
	if dom == DirBull && topSeen {
		score -= 12
		d.Reasoning = append(d.Reasoning, "potential top against longs (-12)")
	}
	if dom == DirBear && bottomSeen {
		score -= 6
		d.Reasoning = append(d.Reasoning, "potential bottom against shorts (-6)")
	}
	if in.Options.VolatilityFilter && h1.Snapshot.VolatilityClass == "extreme" {
		score -= 8
		d.Reasoning = append(d.Reasoning, "extreme volatility (-8)")
	}
	if in.Options.VolumeConfirmation && blend.Volume < 8 {
		score -= 5
		d.Reasoning = append(d.Reasoning, "volume does not confirm (-5)")
	}
	score = clamp(score, 0, 100)

	d.Regime = detectRegime(d1, h4)
	best, _, tops := rankStrategies(blend, d.Regime, in.Options.StrategyWeights, in.Options.StrategyStats)
	d.TopStrategies = tops
	if best != nil {
		d.Strategy = best.Name
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("regime %s, strategy %s", d.Regime, best.Name))
	}

	// Signal mapping, then the quality gates.
	switch {
	case score >= 75 && dom == DirBull:
		d.Signal = SignalStrongBuy
	case score >= 75 && dom == DirBear:
		d.Signal = SignalStrongSell
	case score >= 55 && dom == DirBull:
		d.Signal = SignalBuy
	case score >= 55 && dom == DirBear:
		d.Signal = SignalSell
	case score >= 45 && dom == DirBull:
		d.Signal = SignalBuy
		d.Weak = true
	case score >= 45 && dom == DirBear:
		d.Signal = SignalSell
		d.Weak = true
	}
	d.Side = ActiveSide(d.Signal)

	if d.Side != SideNone {
		if score < e.cfg.MinSignalScore {
			d.Reasoning = append(d.Reasoning, fmt.Sprintf("score %.1f below minimum %.0f, holding", score, e.cfg.MinSignalScore))
			d.Signal, d.Side, d.Weak = SignalHold, SideNone, false
		} else if confluence < e.cfg.MinConfluence {
			d.Reasoning = append(d.Reasoning, fmt.Sprintf("confluence %d below minimum %d, holding", confluence, e.cfg.MinConfluence))
			d.Signal, d.Side, d.Weak = SignalHold, SideNone, false
		}
	}

	// BTC regime override for altcoins.
	if e.cfg.BTCOverride && in.Coin.ID != market.BTCCoinID && d.Side != SideNone {
		switch {
		case d.Side == SideLong && in.Options.BTCSignal == SignalStrongSell:
			d.Reasoning = append(d.Reasoning, "BTC STRONG_SELL suppresses altcoin longs, holding")
			d.Signal, d.Side, d.Weak = SignalHold, SideNone, false
		case d.Side == SideShort && in.Options.BTCSignal == SignalStrongBuy:
			d.Reasoning = append(d.Reasoning, "BTC STRONG_BUY suppresses altcoin shorts, holding")
			d.Signal, d.Side, d.Weak = SignalHold, SideNone, false
		}
	}
	if in.Coin.ID != market.BTCCoinID && d.Side != SideNone && in.Options.BTCDirection != "" &&
		in.Options.BTCDirection != DirNeutral {
		if (d.Side == SideLong && in.Options.BTCDirection == DirBear) ||
			(d.Side == SideShort && in.Options.BTCDirection == DirBull) {
			d.Reasoning = append(d.Reasoning, fmt.Sprintf("note: BTC bias %s against this %s", in.Options.BTCDirection, d.Side))
		}
	}
	if rate, ok := in.Options.FundingRates[in.Coin.ID]; ok && math.Abs(rate) >= 0.0005 {
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("funding rate %+.4f%%/h", rate*100))
	}

	if d.Side != SideNone && best != nil {
		entry := in.Quote.PriceUSD
		if entry <= 0 {
			entry = h1.Snapshot.Close
		}
		d.Entry = entry
		d.ATR = h1.Snapshot.ATR
		d.StopLoss, d.TakeProfit1, d.TakeProfit2, d.TakeProfit3 = computeLevels(d.Side, entry, h1.Snapshot.ATR, analyses, best)
	}

	d.Score = math.Round(score*10) / 10
	d.Breakdown = blend
	d.Timeframes = make(map[string]TFSummary, len(analyses))
	for tf, a := range analyses {
		d.Timeframes[string(tf)] = TFSummary{
			Score:     math.Round(a.Score*10) / 10,
			Direction: a.Direction,
			Trend:     a.Snapshot.Trend,
			RSI:       a.Snapshot.RSI,
			ADX:       a.Snapshot.ADX,
			ATRPct:    a.Snapshot.ATRPct,
		}
	}
	return d
}

// basicDecision is the insufficient-data fallback: a HOLD carrying a score
// nudged by the 24h change so the UI still has something to rank by.
func (e *Engine) basicDecision(in Input, now int64) Decision {
	chg := clamp(in.Quote.Change24hPct, -15, 15)
	return Decision{
		CoinID:      in.Coin.ID,
		Signal:      SignalHold,
		Side:        SideNone,
		Score:       math.Round((50+chg)*10) / 10,
		Regime:      RegimeMixed,
		EvaluatedAt: now,
		Reasoning: []string{fmt.Sprintf("only %d 1h candles, falling back to 24h change %+.2f%%",
			len(in.Candles[market.TF1h]), in.Quote.Change24hPct)},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

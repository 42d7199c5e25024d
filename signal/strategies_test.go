package signal

import (
	"testing"

	"confluence-trader/config"
	"confluence-trader/market"
)

func TestBlockedInRegime(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		regime   Regime
		want     bool
	}{
		{"mean revert blocked in trend", StrategyMeanRevert, RegimeTrending, true},
		{"scalping blocked in trend", StrategyScalping, RegimeTrending, true},
		{"trend follow free in trend", StrategyTrendFollow, RegimeTrending, false},
		{"trend follow blocked in range", StrategyTrendFollow, RegimeRanging, true},
		{"momentum blocked in range", StrategyMomentum, RegimeRanging, true},
		{"scalping blocked in range", StrategyScalping, RegimeRanging, true},
		{"mean revert free in range", StrategyMeanRevert, RegimeRanging, false},
		{"nothing blocked in compression", StrategyScalping, RegimeCompression, false},
		{"nothing blocked in mixed", StrategyMomentum, RegimeMixed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := blockedInRegime(tt.strategy, tt.regime); got != tt.want {
				t.Errorf("blockedInRegime(%s, %s) = %v, want %v", tt.strategy, tt.regime, got, tt.want)
			}
		})
	}
}

func TestRankStrategies_GateBypass(t *testing.T) {
	// A breakdown that favors trend following.
	b := ScoreBreakdown{Trend: 18, Momentum: 12, Volume: 10, Structure: 8, Volatility: 6, RiskQuality: 6}

	seasoned := map[string]StrategyStat{StrategyTrendFollow: {ClosedTrades: 20}}
	_, _, tops := rankStrategies(b, RegimeRanging, nil, seasoned)
	for _, ts := range tops {
		if ts.Name == StrategyTrendFollow && !ts.Blocked {
			t.Errorf("trend_follow with 20 closed trades should be blocked in ranging")
		}
	}

	// Under five closed trades the gate does not apply yet.
	fresh := map[string]StrategyStat{StrategyTrendFollow: {ClosedTrades: 2}}
	_, _, tops = rankStrategies(b, RegimeRanging, nil, fresh)
	for _, ts := range tops {
		if ts.Name == StrategyTrendFollow && ts.Blocked {
			t.Errorf("trend_follow with 2 closed trades should bypass the regime gate")
		}
	}
}

func TestRankStrategies_PicksUnblockedBest(t *testing.T) {
	b := ScoreBreakdown{Trend: 20, Momentum: 15, Volume: 10, Structure: 5, Volatility: 5, RiskQuality: 5}
	best, score, tops := rankStrategies(b, RegimeTrending, nil, map[string]StrategyStat{
		StrategyMeanRevert: {ClosedTrades: 10},
		StrategyScalping:   {ClosedTrades: 10},
	})
	if best == nil {
		t.Fatalf("rankStrategies() returned no eligible strategy")
	}
	if best.Name == StrategyMeanRevert || best.Name == StrategyScalping {
		t.Errorf("rankStrategies() picked blocked strategy %s", best.Name)
	}
	if score <= 0 {
		t.Errorf("rankStrategies() best score = %.1f, want > 0", score)
	}
	if len(tops) == 0 || len(tops) > 3 {
		t.Errorf("rankStrategies() tops = %d entries, want 1..3", len(tops))
	}
}

func TestStrategyScore_LearnedOverride(t *testing.T) {
	b := ScoreBreakdown{Trend: 20} // everything else zero
	def := strategies[StrategyTrendFollow]

	base := strategyScore(def, b, nil)
	learned := config.StrategyWeights{StrategyTrendFollow: {"trend": 1.0}}
	boosted := strategyScore(def, b, learned)

	if boosted <= base {
		t.Errorf("strategyScore() learned trend weight %.1f <= default %.1f", boosted, base)
	}
}

func TestDetectRegime(t *testing.T) {
	analysis := func(adx float64, trend, volClass string, squeeze bool) *tfAnalysis {
		return &tfAnalysis{Snapshot: &IndicatorSnapshot{
			ADX: adx, Trend: trend, VolatilityClass: volClass, Squeeze: squeeze,
		}}
	}
	tests := []struct {
		name string
		d1   *tfAnalysis
		h4   *tfAnalysis
		want Regime
	}{
		{"strong daily trend", analysis(30, "uptrend", "normal", false), analysis(28, "uptrend", "normal", false), RegimeTrending},
		{"low adx ranging", analysis(12, "sideways", "normal", false), analysis(15, "sideways", "normal", false), RegimeRanging},
		{"extreme volatility", analysis(30, "uptrend", "extreme", false), nil, RegimeVolatile},
		{"daily squeeze", analysis(18, "sideways", "low", true), nil, RegimeCompression},
		{"disagreement is mixed", analysis(22, "sideways", "normal", false), analysis(28, "uptrend", "normal", false), RegimeMixed},
		{"no data is mixed", nil, nil, RegimeMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectRegime(tt.d1, tt.h4); got != tt.want {
				t.Errorf("detectRegime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeLevels(t *testing.T) {
	tf := strategies[StrategyTrendFollow]

	t.Run("long from atr", func(t *testing.T) {
		sl, tp1, tp2, tp3 := computeLevels(SideLong, 100, 2, nil, tf)
		if sl != 96 {
			t.Errorf("sl = %.2f, want 96 (entry - 2.0*atr)", sl)
		}
		if tp1 != 106 || tp2 != 110 || tp3 != 116 {
			t.Errorf("tps = %.2f/%.2f/%.2f, want 106/110/116", tp1, tp2, tp3)
		}
	})

	t.Run("short from atr", func(t *testing.T) {
		sl, tp1, tp2, tp3 := computeLevels(SideShort, 100, 2, nil, tf)
		if sl != 104 {
			t.Errorf("sl = %.2f, want 104", sl)
		}
		if tp1 != 94 || tp2 != 90 || tp3 != 84 {
			t.Errorf("tps = %.2f/%.2f/%.2f, want 94/90/84", tp1, tp2, tp3)
		}
	})

	t.Run("long stop tucks under support", func(t *testing.T) {
		core := map[market.Timeframe]*tfAnalysis{
			market.TF1h: {Snapshot: &IndicatorSnapshot{Support: 98}},
		}
		sl, _, _, _ := computeLevels(SideLong, 100, 2, core, tf)
		want := 98 * (1 - srStopPad)
		if !almost(sl, want) {
			t.Errorf("sl = %.4f, want %.4f (support shielded)", sl, want)
		}
	})

	t.Run("short stop tucks over resistance", func(t *testing.T) {
		core := map[market.Timeframe]*tfAnalysis{
			market.TF4h: {Snapshot: &IndicatorSnapshot{Resistance: 102}},
		}
		sl, _, _, _ := computeLevels(SideShort, 100, 2, core, tf)
		want := 102 * (1 + srStopPad)
		if !almost(sl, want) {
			t.Errorf("sl = %.4f, want %.4f (resistance shielded)", sl, want)
		}
	})

	t.Run("scalping emits tp1 only", func(t *testing.T) {
		_, tp1, tp2, tp3 := computeLevels(SideLong, 100, 2, nil, strategies[StrategyScalping])
		if tp1 != 102 || tp2 != 0 || tp3 != 0 {
			t.Errorf("scalping tps = %.2f/%.2f/%.2f, want 102/0/0", tp1, tp2, tp3)
		}
	})

	t.Run("none side yields nothing", func(t *testing.T) {
		sl, tp1, _, _ := computeLevels(SideNone, 100, 2, nil, tf)
		if sl != 0 || tp1 != 0 {
			t.Errorf("levels for NONE = %.2f/%.2f, want zeros", sl, tp1)
		}
	})
}

func almost(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

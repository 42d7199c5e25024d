package signal

import (
	"sort"

	"confluence-trader/config"
)

// minClosedForGate is how many closed trades a strategy needs before regime
// gating applies to it. Below that the sample is too small to trust the gate.
const minClosedForGate = 5

const regimeFitBonus = 5.0

// StrategyDef fixes a strategy's stop and target geometry plus its default
// dimension weights.
type StrategyDef struct {
	Name       string
	ATRMult    float64
	RMultiples []float64
	weights    map[string]float64
}

// dimOrder pins iteration order so scores come out identical run to run.
var dimOrder = []string{"trend", "momentum", "volume", "structure", "volatility", "riskQuality"}

var strategyOrder = []string{
	StrategyTrendFollow,
	StrategyBreakout,
	StrategyMeanRevert,
	StrategyMomentum,
	StrategyScalping,
	StrategySwing,
	StrategyPosition,
}

var strategies = map[string]*StrategyDef{
	StrategyTrendFollow: {
		Name: StrategyTrendFollow, ATRMult: 2.0, RMultiples: []float64{1.5, 2.5, 4.0},
		weights: map[string]float64{"trend": 0.35, "momentum": 0.20, "volume": 0.15, "structure": 0.10, "volatility": 0.10, "riskQuality": 0.10},
	},
	StrategyBreakout: {
		Name: StrategyBreakout, ATRMult: 1.5, RMultiples: []float64{1.0, 2.0},
		weights: map[string]float64{"trend": 0.15, "momentum": 0.20, "volume": 0.30, "structure": 0.15, "volatility": 0.10, "riskQuality": 0.10},
	},
	StrategyMeanRevert: {
		Name: StrategyMeanRevert, ATRMult: 1.2, RMultiples: []float64{1.0, 1.8},
		weights: map[string]float64{"trend": 0.05, "momentum": 0.30, "volume": 0.10, "structure": 0.30, "volatility": 0.15, "riskQuality": 0.10},
	},
	StrategyMomentum: {
		Name: StrategyMomentum, ATRMult: 1.5, RMultiples: []float64{1.2, 2.2},
		weights: map[string]float64{"trend": 0.20, "momentum": 0.35, "volume": 0.20, "structure": 0.05, "volatility": 0.10, "riskQuality": 0.10},
	},
	StrategyScalping: {
		Name: StrategyScalping, ATRMult: 1.0, RMultiples: []float64{1.0},
		weights: map[string]float64{"trend": 0.10, "momentum": 0.25, "volume": 0.25, "structure": 0.20, "volatility": 0.10, "riskQuality": 0.10},
	},
	StrategySwing: {
		Name: StrategySwing, ATRMult: 2.5, RMultiples: []float64{2.0, 3.5, 5.0},
		weights: map[string]float64{"trend": 0.30, "momentum": 0.15, "volume": 0.10, "structure": 0.25, "volatility": 0.10, "riskQuality": 0.10},
	},
	StrategyPosition: {
		Name: StrategyPosition, ATRMult: 3.0, RMultiples: []float64{2.5, 4.5, 7.0},
		weights: map[string]float64{"trend": 0.40, "momentum": 0.10, "volume": 0.10, "structure": 0.20, "volatility": 0.10, "riskQuality": 0.10},
	},
}

var regimeFit = map[Regime][]string{
	RegimeTrending:    {StrategyTrendFollow, StrategyMomentum, StrategyPosition},
	RegimeRanging:     {StrategyMeanRevert},
	RegimeCompression: {StrategyBreakout},
	RegimeVolatile:    {StrategyScalping},
	RegimeMixed:       {StrategySwing},
}

// blockedInRegime reports whether a strategy must not trade in the regime.
func blockedInRegime(name string, regime Regime) bool {
	switch regime {
	case RegimeTrending:
		return name == StrategyMeanRevert || name == StrategyScalping
	case RegimeRanging:
		return name == StrategyTrendFollow || name == StrategyMomentum || name == StrategyScalping
	}
	return false
}

func fitsRegime(name string, regime Regime) bool {
	for _, n := range regimeFit[regime] {
		if n == name {
			return true
		}
	}
	return false
}

// dimValue returns a dimension on a 0-100 scale.
func dimValue(b ScoreBreakdown, dim string) float64 {
	switch dim {
	case "trend":
		return b.Trend / 20 * 100
	case "momentum":
		return b.Momentum / 20 * 100
	case "volume":
		return b.Volume / 20 * 100
	case "structure":
		return b.Structure / 20 * 100
	case "volatility":
		return b.Volatility / 10 * 100
	case "riskQuality":
		return b.RiskQuality / 10 * 100
	}
	return 0
}

// strategyScore blends the dimension breakdown with the strategy's weights,
// learned overrides taking precedence over defaults.
func strategyScore(def *StrategyDef, b ScoreBreakdown, learned config.StrategyWeights) float64 {
	overrides := learned[def.Name]
	var sum, total float64
	for _, dim := range dimOrder {
		w := def.weights[dim]
		if lw, ok := overrides[dim]; ok {
			w = lw
		}
		if w <= 0 {
			continue
		}
		sum += w * dimValue(b, dim)
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// rankStrategies scores all strategies against the blended breakdown, applies
// regime gating (skipped for strategies with a thin closed-trade sample) and
// returns the winner plus the ranked table.
func rankStrategies(b ScoreBreakdown, regime Regime, learned config.StrategyWeights, stats map[string]StrategyStat) (best *StrategyDef, bestScore float64, top []TopStrategy) {
	ranked := make([]TopStrategy, 0, len(strategyOrder))
	for _, name := range strategyOrder {
		def := strategies[name]
		score := strategyScore(def, b, learned)
		if fitsRegime(name, regime) {
			score += regimeFitBonus
		}
		blocked := blockedInRegime(name, regime)
		if blocked && stats[name].ClosedTrades < minClosedForGate {
			blocked = false
		}
		ranked = append(ranked, TopStrategy{Name: name, Score: score, Blocked: blocked})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	for _, ts := range ranked {
		if ts.Blocked {
			continue
		}
		best = strategies[ts.Name]
		bestScore = ts.Score
		break
	}
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return best, bestScore, ranked
}

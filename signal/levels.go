package signal

import "confluence-trader/market"

// srStopPad places a snapped stop 0.2% beyond the shielding level.
const srStopPad = 0.002

// computeLevels derives stop and take-profit prices for a side using the
// strategy's ATR multiple. When a swing level from any core timeframe sits
// between the raw ATR stop and the entry, the stop is tucked just beyond
// that level so the structure shields it. Take-profits come from the
// strategy's R multiples off the final stop distance.
func computeLevels(side Side, entry, atr float64, core map[market.Timeframe]*tfAnalysis, def *StrategyDef) (sl, tp1, tp2, tp3 float64) {
	if entry <= 0 || def == nil {
		return 0, 0, 0, 0
	}
	if atr <= 0 {
		atr = entry * 0.01
	}

	if side == SideLong {
		sl = entry - def.ATRMult*atr
		var shield float64
		for _, tf := range market.CoreTimeframes {
			a := core[tf]
			if a == nil {
				continue
			}
			s := a.Snapshot.Support
			if s > sl && s < entry && s > shield {
				shield = s
			}
		}
		if shield > 0 {
			sl = shield * (1 - srStopPad)
		}
		if sl <= 0 || sl >= entry {
			sl = entry - def.ATRMult*atr
		}
		risk := entry - sl
		tps := [3]float64{}
		for i, r := range def.RMultiples {
			if i > 2 {
				break
			}
			tps[i] = entry + r*risk
		}
		return sl, tps[0], tps[1], tps[2]
	}

	if side == SideShort {
		sl = entry + def.ATRMult*atr
		var shield float64
		for _, tf := range market.CoreTimeframes {
			a := core[tf]
			if a == nil {
				continue
			}
			r := a.Snapshot.Resistance
			if r < sl && r > entry && (shield == 0 || r < shield) {
				shield = r
			}
		}
		if shield > 0 {
			sl = shield * (1 + srStopPad)
		}
		if sl <= entry {
			sl = entry + def.ATRMult*atr
		}
		risk := sl - entry
		tps := [3]float64{}
		for i, r := range def.RMultiples {
			if i > 2 {
				break
			}
			tp := entry - r*risk
			if tp <= 0 {
				break
			}
			tps[i] = tp
		}
		return sl, tps[0], tps[1], tps[2]
	}

	return 0, 0, 0, 0
}

package signal

// detectRegime classifies conditions from the daily and 4h analyses. The 4h
// stands in when the daily is missing; with neither the regime is mixed.
//
// Order matters: extreme volatility trumps everything, a squeeze beats the
// ADX reading, then trending vs ranging by ADX.
func detectRegime(d1, h4 *tfAnalysis) Regime {
	primary := d1
	if primary == nil {
		primary = h4
	}
	if primary == nil {
		return RegimeMixed
	}
	ps := primary.Snapshot

	if ps.VolatilityClass == "extreme" || (h4 != nil && h4.Snapshot.VolatilityClass == "extreme") {
		return RegimeVolatile
	}
	if ps.Squeeze || (h4 != nil && h4.Snapshot.Squeeze && h4.Snapshot.VolatilityClass == "low") {
		return RegimeCompression
	}
	trendingADX := ps.ADX >= 25 ||
		(h4 != nil && h4.Snapshot.ADX >= 30 && h4.Snapshot.Trend == ps.Trend && ps.Trend != "sideways")
	if trendingADX && ps.Trend != "sideways" {
		return RegimeTrending
	}
	if ps.ADX > 0 && ps.ADX < 20 && (h4 == nil || h4.Snapshot.ADX < 20) {
		return RegimeRanging
	}
	return RegimeMixed
}

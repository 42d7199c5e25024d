package backtest

import (
	"math"
	"sort"
	"time"

	"confluence-trader/manage"
)

// hoursPerYear annualizes the Sharpe ratio computed on 1h bar returns.
const hoursPerYear = 8760

// summarize folds a set of closed trades and their equity curve into one
// Summary. Wins are trades with positive net pnl; breakeven counts as a
// loss.
func summarize(initialBalance float64, trades []manage.Trade, curve []EquityPoint) Summary {
	s := Summary{
		FinalEquity:       initialBalance,
		StrategyBreakdown: make(map[string]StrategyPerf),
		ActionCounts:      make(map[string]int),
		ExitReasons:       make(map[string]int),
	}

	var grossProfit, grossLoss float64
	for i := range trades {
		t := &trades[i]
		if t.Status != manage.StatusClosed {
			continue
		}
		s.TotalTrades++
		s.TotalPnl += t.Pnl
		if t.Pnl > 0 {
			s.Wins++
			grossProfit += t.Pnl
		} else {
			s.Losses++
			grossLoss += -t.Pnl
		}
		if t.Strategy != "" {
			perf := s.StrategyBreakdown[t.Strategy]
			perf.Trades++
			if t.Pnl > 0 {
				perf.Wins++
			}
			perf.TotalPnl += t.Pnl
			s.StrategyBreakdown[t.Strategy] = perf
		}
		for _, a := range t.Actions {
			s.ActionCounts[a.Type]++
		}
		if t.ExitReason != "" {
			s.ExitReasons[t.ExitReason]++
		}
	}

	s.FinalEquity = initialBalance + s.TotalPnl
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	} else {
		s.ProfitFactor = grossProfit
	}
	s.MaxDrawdown, s.MaxDrawdownPct = maxDrawdown(curve)
	s.SharpeRatio = sharpe(curve)

	if len(s.StrategyBreakdown) == 0 {
		s.StrategyBreakdown = nil
	}
	if len(s.ActionCounts) == 0 {
		s.ActionCounts = nil
	}
	if len(s.ExitReasons) == 0 {
		s.ExitReasons = nil
	}
	return s
}

func maxDrawdown(curve []EquityPoint) (float64, float64) {
	var peak, maxDD, maxDDPct float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > maxDD {
			maxDD = dd
		}
		if peak > 0 {
			if pct := dd / peak * 100; pct > maxDDPct {
				maxDDPct = pct
			}
		}
	}
	return maxDD, maxDDPct
}

// sharpe is the annualized Sharpe ratio of per-bar equity returns, with a
// zero risk-free rate.
func sharpe(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(hoursPerYear)
}

// aggregate combines per-coin results into the run-level Result. The
// aggregate equity curve replays every closed trade in exit order against
// the shared starting balance, which is how the portfolio would have moved
// if the coins traded one shared account.
func aggregate(runID string, cfg Config, coins []CoinResult) *Result {
	var all []manage.Trade
	for i := range coins {
		all = append(all, coins[i].Trades...)
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].ExitTime != all[b].ExitTime {
			return all[a].ExitTime < all[b].ExitTime
		}
		return all[a].CoinID < all[b].CoinID
	})

	curve := make([]EquityPoint, 0, len(all))
	equity := cfg.InitialBalance
	peak := equity
	for i := range all {
		if all[i].Status != manage.StatusClosed {
			continue
		}
		equity += all[i].Pnl
		if equity > peak {
			peak = equity
		}
		ddPct := 0.0
		if peak > 0 {
			ddPct = (peak - equity) / peak * 100
		}
		curve = append(curve, EquityPoint{Timestamp: all[i].ExitTime, Equity: equity, DrawdownPct: ddPct})
	}

	return &Result{
		RunID:       runID,
		StartMs:     cfg.StartMs,
		EndMs:       cfg.EndMs,
		MonthRanges: monthRanges(cfg.StartMs, cfg.EndMs),
		Summary:     summarize(cfg.InitialBalance, all, curve),
		EquityCurve: curve,
		Top10:       rankCoins(coins, 10),
		Coins:       coins,
		FinishedAt:  time.Now().UnixMilli(),
	}
}

// monthRanges slices the window into UTC calendar months, clipped to the
// window edges.
func monthRanges(startMs, endMs int64) []MonthRange {
	if startMs <= 0 || endMs <= startMs {
		return nil
	}
	var out []MonthRange
	t := time.UnixMilli(startMs).UTC()
	cur := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cur.UnixMilli() < endMs {
		next := cur.AddDate(0, 1, 0)
		lo, hi := cur.UnixMilli(), next.UnixMilli()
		if lo < startMs {
			lo = startMs
		}
		if hi > endMs {
			hi = endMs
		}
		out = append(out, MonthRange{Label: cur.Format("2006-01"), StartMs: lo, EndMs: hi})
		cur = next
	}
	return out
}

// rankCoins orders coins by total pnl, errored coins last.
func rankCoins(coins []CoinResult, n int) []CoinRank {
	ranks := make([]CoinRank, 0, len(coins))
	for i := range coins {
		if coins[i].Error != "" {
			continue
		}
		ranks = append(ranks, CoinRank{
			CoinID:   coins[i].CoinID,
			TotalPnl: coins[i].Summary.TotalPnl,
			WinRate:  coins[i].Summary.WinRate,
			Trades:   coins[i].Summary.TotalTrades,
		})
	}
	sort.SliceStable(ranks, func(a, b int) bool {
		if ranks[a].TotalPnl != ranks[b].TotalPnl {
			return ranks[a].TotalPnl > ranks[b].TotalPnl
		}
		return ranks[a].CoinID < ranks[b].CoinID
	})
	if len(ranks) > n {
		ranks = ranks[:n]
	}
	return ranks
}

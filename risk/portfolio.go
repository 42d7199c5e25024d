package risk

import (
	"fmt"

	"confluence-trader/config"
	"confluence-trader/manage"
)

// PortfolioState is the account-wide view the open gates run against.
// DailyStartEquity is the equity at the last UTC midnight rollover.
type PortfolioState struct {
	OpenTrades       []*manage.Trade
	Equity           float64
	DailyStartEquity float64
	KillSwitch       bool
}

// CanOpenTrade runs the portfolio-level gates for a prospective entry on
// coinID. The returned reason is user-facing when blocked.
func CanOpenTrade(state PortfolioState, coinID string, cfg config.RiskConfig) (bool, string) {
	if state.KillSwitch {
		return false, "Kill switch active"
	}

	open := 0
	onSymbol := 0
	for _, t := range state.OpenTrades {
		if t == nil || t.Status != manage.StatusOpen {
			continue
		}
		open++
		if t.CoinID == coinID {
			onSymbol++
		}
	}
	if cfg.MaxConcurrentTrades > 0 && open >= cfg.MaxConcurrentTrades {
		return false, "Max open trades reached"
	}
	if cfg.PerSymbolCap > 0 && onSymbol >= cfg.PerSymbolCap {
		return false, fmt.Sprintf("Position cap reached on %s", coinID)
	}

	if cfg.DailyLossLimitPct > 0 && state.DailyStartEquity > 0 {
		drawdown := (state.DailyStartEquity - state.Equity) / state.DailyStartEquity * 100
		if drawdown >= cfg.DailyLossLimitPct {
			return false, fmt.Sprintf("Daily loss limit hit (%.1f%%), trading paused until next UTC day", drawdown)
		}
	}

	return true, ""
}

package notify

import (
	"fmt"

	"confluence-trader/manage"
)

// Notifier is the push side channel for trade lifecycle events. Implementations
// must be safe for concurrent use; failures are logged, never propagated into
// the trading path.
type Notifier interface {
	TradeOpened(t *manage.Trade)
	TradeClosed(t *manage.Trade)
	Info(text string)
}

// Nop is the notifier used when no channel is configured.
type Nop struct{}

func (Nop) TradeOpened(*manage.Trade) {}
func (Nop) TradeClosed(*manage.Trade) {}
func (Nop) Info(string)               {}

func openMessage(t *manage.Trade) string {
	emoji := "🟢"
	if t.Direction == "SHORT" {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s *TRADE OPENED*

*Coin:* %s
*Direction:* %s %dx
*Entry:* $%s
*Size:* $%.2f
*Stop:* $%s
*TP1:* $%s
*Strategy:* %s (score %.1f)`,
		emoji,
		t.Symbol,
		t.Direction,
		t.Leverage,
		trimPrice(t.EntryPrice),
		t.PositionSize,
		trimPrice(t.StopLoss),
		trimPrice(t.TakeProfit1),
		t.Strategy,
		t.EntryScore,
	)
}

func closeMessage(t *manage.Trade) string {
	result := fmt.Sprintf("✅ WIN: +$%.2f (%.2f%%)", t.Pnl, t.PnlPercent)
	if t.Pnl < 0 {
		result = fmt.Sprintf("❌ LOSS: -$%.2f (%.2f%%)", -t.Pnl, -t.PnlPercent)
	}
	return fmt.Sprintf(`*TRADE CLOSED*

*Coin:* %s
*Direction:* %s %dx
*Entry:* $%s
*Exit:* $%s
*Reason:* %s
*Result:* %s`,
		t.Symbol,
		t.Direction,
		t.Leverage,
		trimPrice(t.EntryPrice),
		trimPrice(t.ExitPrice),
		t.ExitReason,
		result,
	)
}

// trimPrice formats a price with enough precision for sub-dollar coins without
// spraying zeros on the majors.
func trimPrice(p float64) string {
	switch {
	case p >= 100:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	default:
		return fmt.Sprintf("%.6f", p)
	}
}

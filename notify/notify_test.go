package notify

import (
	"strings"
	"testing"

	"confluence-trader/manage"
	"confluence-trader/signal"
)

func TestTrimPrice(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{65000, "65000.00"},
		{123.456, "123.46"},
		{2.34567, "2.3457"},
		{0.000123456, "0.000123"},
	}
	for _, tt := range tests {
		if got := trimPrice(tt.price); got != tt.want {
			t.Errorf("trimPrice(%v) = %q, want %q", tt.price, got, tt.want)
		}
	}
}

func TestOpenMessage(t *testing.T) {
	tr := &manage.Trade{
		Symbol:       "ETHUSDT",
		Direction:    signal.SideShort,
		Leverage:     3,
		EntryPrice:   3200.5,
		PositionSize: 600,
		StopLoss:     3300,
		TakeProfit1:  3100,
		Strategy:     "trend",
		EntryScore:   72.5,
	}
	msg := openMessage(tr)

	for _, want := range []string{"🔴", "ETHUSDT", "SHORT 3x", "3200.50", "score 72.5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("openMessage missing %q:\n%s", want, msg)
		}
	}
}

func TestCloseMessageWinAndLoss(t *testing.T) {
	tr := &manage.Trade{
		Symbol:     "BTCUSDT",
		Direction:  signal.SideLong,
		Leverage:   2,
		EntryPrice: 50000,
		ExitPrice:  51000,
		ExitReason: "TP1",
		Pnl:        20,
		PnlPercent: 4,
	}
	msg := closeMessage(tr)
	if !strings.Contains(msg, "✅ WIN: +$20.00 (4.00%)") {
		t.Errorf("win line missing:\n%s", msg)
	}

	tr.Pnl = -15
	tr.PnlPercent = -3
	tr.ExitReason = "SL"
	msg = closeMessage(tr)
	if !strings.Contains(msg, "❌ LOSS: -$15.00 (3.00%)") {
		t.Errorf("loss line missing:\n%s", msg)
	}
	if !strings.Contains(msg, "*Reason:* SL") {
		t.Errorf("reason line missing:\n%s", msg)
	}
}

func TestNopNotifierIsSilent(t *testing.T) {
	var n Notifier = Nop{}
	n.TradeOpened(&manage.Trade{})
	n.TradeClosed(&manage.Trade{})
	n.Info("hello")
}

func TestFromConfigFallsBackToNop(t *testing.T) {
	if _, ok := FromConfig("", "").(Nop); !ok {
		t.Fatalf("FromConfig with empty settings should return Nop")
	}
}

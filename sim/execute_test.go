package sim

import (
	"math"
	"testing"

	"confluence-trader/risk"
	"confluence-trader/signal"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testSimConfig() Config {
	return Config{
		MinSlipBps: 5,
		ATRCoeff:   2.0,
		SizeRefUSD: 100000,
		SizeMult:   1.0,
		MakerFee:   0.0008,
		TakerFee:   0.001,
		Spread:     0.0005,
	}
}

func TestClose_StopExitSlipsAgainstPosition(t *testing.T) {
	cfg := testSimConfig()
	snap := Snapshot{Price: 48900, ATR: 120}

	fill := Close(signal.SideLong, 49000, 1000, false, snap, cfg)
	if !fill.Filled {
		t.Fatal("Close() did not fill")
	}
	want := 49000 / 1.0005
	if !almost(fill.FillPrice, want) {
		t.Errorf("FillPrice = %v, want %v", fill.FillPrice, want)
	}
	if !almost(fill.Fees, 1) {
		t.Errorf("Fees = %v, want 1", fill.Fees)
	}
	if !almost(fill.SlippageBps, 5) {
		t.Errorf("SlippageBps = %v, want floor 5", fill.SlippageBps)
	}

	// A take-profit exit rests as a limit: exact price, maker fee.
	fill = Close(signal.SideLong, 51500, 1000, true, snap, cfg)
	if fill.FillPrice != 51500 {
		t.Errorf("maker FillPrice = %v, want 51500", fill.FillPrice)
	}
	if !almost(fill.Fees, 0.8) {
		t.Errorf("maker Fees = %v, want 0.8", fill.Fees)
	}
}

func TestExecute_MarketEntry(t *testing.T) {
	cfg := testSimConfig()
	snap := Snapshot{Price: 100, High: 100.4, Low: 99.6, Open: 100, ATR: 1}

	long := &risk.OrderIntent{Direction: signal.SideLong, OrderType: risk.OrderMarket, Size: 5000}
	fill := Execute(long, snap, cfg)
	if !fill.Filled {
		t.Fatal("Execute() did not fill market order")
	}
	if !almost(fill.FillPrice, 100*1.0005) {
		t.Errorf("long FillPrice = %v, want %v", fill.FillPrice, 100*1.0005)
	}
	if !almost(fill.Fees, 5) {
		t.Errorf("Fees = %v, want 5", fill.Fees)
	}
	if fill.FillQty != 5000 {
		t.Errorf("FillQty = %v, want 5000", fill.FillQty)
	}

	short := &risk.OrderIntent{Direction: signal.SideShort, OrderType: risk.OrderMarket, Size: 5000}
	fill = Execute(short, snap, cfg)
	if !almost(fill.FillPrice, 100/1.0005) {
		t.Errorf("short FillPrice = %v, want %v", fill.FillPrice, 100/1.0005)
	}
}

func TestExecute_SlippageScalesWithVolatilityAndSize(t *testing.T) {
	cfg := testSimConfig()
	snap := Snapshot{Price: 100, ATR: 6}

	order := &risk.OrderIntent{Direction: signal.SideLong, OrderType: risk.OrderMarket, Size: 50000}
	fill := Execute(order, snap, cfg)
	// 2.0 coeff * 6% ATR * (1 + 50000/100000) = 18 bps, over the 5 bps floor.
	if !almost(fill.SlippageBps, 18) {
		t.Errorf("SlippageBps = %v, want 18", fill.SlippageBps)
	}
	if !almost(fill.FillPrice, 100*1.0018) {
		t.Errorf("FillPrice = %v, want %v", fill.FillPrice, 100*1.0018)
	}
}

func TestExecute_LimitOrder(t *testing.T) {
	cfg := testSimConfig()

	buy := &risk.OrderIntent{Direction: signal.SideLong, OrderType: risk.OrderLimit, Size: 1000, Entry: 99}

	fill := Execute(buy, Snapshot{Price: 99.5, High: 100, Low: 98.9}, cfg)
	if !fill.Filled {
		t.Fatal("buy limit did not fill on penetration")
	}
	if fill.FillPrice != 99 || fill.SlippageBps != 0 {
		t.Errorf("limit fill = %v at %v bps, want 99 at 0 bps", fill.FillPrice, fill.SlippageBps)
	}
	if !almost(fill.Fees, 0.8) {
		t.Errorf("Fees = %v, want maker 0.8", fill.Fees)
	}

	fill = Execute(buy, Snapshot{Price: 99.5, High: 100, Low: 99.2}, cfg)
	if fill.Filled {
		t.Errorf("buy limit filled without reaching price: %+v", fill)
	}

	sell := &risk.OrderIntent{Direction: signal.SideShort, OrderType: risk.OrderLimit, Size: 1000, Entry: 101}
	fill = Execute(sell, Snapshot{Price: 100.5, High: 101.3, Low: 100.2}, cfg)
	if !fill.Filled || fill.FillPrice != 101 {
		t.Errorf("sell limit fill = %+v, want fill at 101", fill)
	}
}

func TestExecute_StopOrders(t *testing.T) {
	cfg := testSimConfig()

	stop := &risk.OrderIntent{Direction: signal.SideLong, OrderType: risk.OrderStop, Size: 1000, Entry: 101}

	fill := Execute(stop, Snapshot{Price: 100.9, High: 101.5, Low: 100.2, ATR: 0.5}, cfg)
	if !fill.Filled {
		t.Fatal("buy stop did not trigger")
	}
	if !almost(fill.FillPrice, 101*1.0005) {
		t.Errorf("stop FillPrice = %v, want slipped %v", fill.FillPrice, 101*1.0005)
	}

	fill = Execute(stop, Snapshot{Price: 100.5, High: 100.8, Low: 100.2, ATR: 0.5}, cfg)
	if fill.Filled {
		t.Errorf("buy stop triggered below stop price: %+v", fill)
	}

	stopLimit := &risk.OrderIntent{Direction: signal.SideLong, OrderType: risk.OrderStopLimit, Size: 1000, Entry: 101}
	fill = Execute(stopLimit, Snapshot{Price: 101.1, High: 101.5, Low: 100.5, ATR: 0.5}, cfg)
	if !fill.Filled || fill.FillPrice != 101 {
		t.Errorf("stop-limit fill = %+v, want maker fill at 101", fill)
	}

	// Gaps through the trigger without retracing: triggered but never fillable.
	fill = Execute(stopLimit, Snapshot{Price: 101.4, High: 101.5, Low: 101.2, ATR: 0.5}, cfg)
	if fill.Filled {
		t.Errorf("stop-limit filled on runaway bar: %+v", fill)
	}
}

func TestFundingPayment(t *testing.T) {
	if got := FundingPayment(signal.SideLong, 10000, 0.0001); !almost(got, -1) {
		t.Errorf("long funding = %v, want -1", got)
	}
	if got := FundingPayment(signal.SideShort, 10000, 0.0001); !almost(got, 1) {
		t.Errorf("short funding = %v, want 1", got)
	}
	if got := FundingPayment(signal.SideLong, 10000, -0.0002); !almost(got, 2) {
		t.Errorf("long negative-rate funding = %v, want 2", got)
	}
}

func TestPathResolver(t *testing.T) {
	t.Run("fixed policies", func(t *testing.T) {
		if !NewPathResolver(PathWorstCase, 0).StopFirst(101.5, true, 97, 103) {
			t.Error("WORST_CASE should always hit the stop first")
		}
		if NewPathResolver(PathBestCase, 0).StopFirst(97.5, true, 97, 103) {
			t.Error("BEST_CASE should always hit the take-profit first")
		}
	})

	t.Run("midpoint default", func(t *testing.T) {
		pr := NewPathResolver(PathMidpoint, 0)
		if !pr.StopFirst(99, true, 97, 103) {
			t.Error("long opening below midpoint should stop first")
		}
		if pr.StopFirst(101.5, true, 97, 103) {
			t.Error("long opening above midpoint should take profit first")
		}
		if !pr.StopFirst(101.5, false, 103, 97) {
			t.Error("short opening above midpoint should stop first")
		}
	})

	t.Run("seeded runs repeat", func(t *testing.T) {
		a := NewPathResolver(PathRandomSeeded, 42)
		b := NewPathResolver(PathRandomSeeded, 42)
		for i := 0; i < 20; i++ {
			if a.StopFirst(100, true, 97, 103) != b.StopFirst(100, true, 97, 103) {
				t.Fatalf("seeded resolvers diverged at call %d", i)
			}
		}
	})
}

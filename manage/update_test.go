package manage

import (
	"math"
	"testing"

	"confluence-trader/config"
	"confluence-trader/signal"
)

const testEntryTime = int64(1700000000000)

const hourMs = int64(3600000)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func openLongTrade() Trade {
	return Trade{
		ID:                   "t1",
		CoinID:               "bitcoin",
		Symbol:               "BTCUSDT",
		Direction:            signal.SideLong,
		Status:               StatusOpen,
		EntryPrice:           100,
		EntryTime:            testEntryTime,
		EntryScore:           80,
		PositionSize:         1000,
		OriginalPositionSize: 1000,
		Leverage:             2,
		StopLoss:             96,
		OriginalStopLoss:     96,
		TakeProfit1:          106,
		TakeProfit2:          110,
		TakeProfit3:          116,
		ActiveTP:             1,
		MaxPriceSeen:         100,
		MinPriceSeen:         100,
	}
}

func TestUpdate_StopLossClosesAtTrigger(t *testing.T) {
	tr := openLongTrade()
	tr.EntryPrice = 50000
	tr.StopLoss = 49000
	tr.OriginalStopLoss = 49000
	tr.TakeProfit1 = 51500
	tr.TakeProfit2 = 0
	tr.TakeProfit3 = 0
	tr.MaxPriceSeen = 50000
	tr.MinPriceSeen = 50000

	cfg := config.ManageConfig{
		AutoBreakeven:      true,
		AutoTrailingStop:   true,
		BreakevenRMultiple: 1.0,
		TrailingStartR:     1.5,
		TrailingDistR:      1.0,
		StopGraceBars:      2,
	}
	snap := Snapshot{
		Price: 48900, High: 49500, Low: 48800, Open: 49800,
		Timestamp: testEntryTime + 5*hourMs, CloseBasedStops: true,
	}

	actions, got := Update(tr, snap, cfg)
	if len(actions) != 1 {
		t.Fatalf("Update() produced %d actions, want 1: %+v", len(actions), actions)
	}
	if actions[0].Type != ActionStopLoss {
		t.Errorf("action type = %s, want %s", actions[0].Type, ActionStopLoss)
	}
	if actions[0].Price != 49000 {
		t.Errorf("stop fill price = %v, want trigger price 49000", actions[0].Price)
	}
	if got.Status != StatusClosed || got.ExitReason != ExitReasonSL {
		t.Errorf("trade closed as %s/%s, want %s/%s", got.Status, got.ExitReason, StatusClosed, ExitReasonSL)
	}
	if got.ExitPrice != 49000 {
		t.Errorf("ExitPrice = %v, want 49000", got.ExitPrice)
	}
	if !almost(got.Pnl, -20) {
		t.Errorf("Pnl = %v, want -20", got.Pnl)
	}
	if !almost(got.PnlPercent, -4) {
		t.Errorf("PnlPercent = %v, want -4", got.PnlPercent)
	}
}

func TestUpdate_SingleTakeProfitClosesFull(t *testing.T) {
	tr := openLongTrade()
	tr.StopLoss = 99
	tr.OriginalStopLoss = 99
	tr.TakeProfit1 = 101.5
	tr.TakeProfit2 = 0
	tr.TakeProfit3 = 0

	cfg := config.ManageConfig{PartialTP: true}
	snap := Snapshot{
		Price: 101.2, High: 101.6, Low: 100.8, Open: 100.9,
		Timestamp: testEntryTime + hourMs, CloseBasedStops: true,
	}

	actions, got := Update(tr, snap, cfg)
	if len(actions) != 1 {
		t.Fatalf("Update() produced %d actions, want 1: %+v", len(actions), actions)
	}
	if actions[0].Type != ActionPartial || actions[0].Reason != "TP1" {
		t.Errorf("action = %s/%s, want %s/TP1", actions[0].Type, actions[0].Reason, ActionPartial)
	}
	if actions[0].Price != 101.5 {
		t.Errorf("fill price = %v, want trigger price 101.5", actions[0].Price)
	}
	if !almost(actions[0].Portion, 1.0) {
		t.Errorf("portion = %v, want 1.0", actions[0].Portion)
	}
	if got.Status != StatusClosed || got.ExitReason != ExitReasonTP1 {
		t.Errorf("trade closed as %s/%s, want %s/%s", got.Status, got.ExitReason, StatusClosed, ExitReasonTP1)
	}
	if got.PositionSize != 0 {
		t.Errorf("PositionSize = %v, want 0", got.PositionSize)
	}
	if !almost(got.Pnl, 15) {
		t.Errorf("Pnl = %v, want 15", got.Pnl)
	}
}

func TestUpdate_PartialLadder(t *testing.T) {
	tr := openLongTrade()
	cfg := config.ManageConfig{
		AutoTrailingStop: true,
		PartialTP:        true,
		TrailingStartR:   1.5,
		TrailingDistR:    1.0,
	}

	bars := []Snapshot{
		{Price: 105.8, High: 106.1, Low: 104.0, Open: 104.5},
		{Price: 106.5, High: 106.8, Low: 105.5, Open: 105.8},
		{Price: 106.3, High: 110.2, Low: 106.0, Open: 106.4},
		{Price: 106.2, High: 116.2, Low: 105.9, Open: 106.3},
	}
	for i := range bars {
		bars[i].Timestamp = testEntryTime + int64(i+1)*hourMs
		bars[i].CloseBasedStops = true
		var actions []Action
		actions, tr = Update(tr, bars[i], cfg)
		if len(actions) != 1 {
			t.Fatalf("bar %d produced %d actions, want 1: %+v", i+1, len(actions), actions)
		}
	}

	wantTypes := []string{ActionPartial, ActionTrailing, ActionPartial, ActionPartial}
	wantReasons := []string{"TP1", "", "TP2", "TP3"}
	if len(tr.Actions) != len(wantTypes) {
		t.Fatalf("action log has %d entries, want %d: %+v", len(tr.Actions), len(wantTypes), tr.Actions)
	}
	for i, a := range tr.Actions {
		if a.Type != wantTypes[i] || a.Reason != wantReasons[i] {
			t.Errorf("action %d = %s/%s, want %s/%s", i, a.Type, a.Reason, wantTypes[i], wantReasons[i])
		}
	}
	if !almost(tr.Actions[1].NewStop, 102.5) {
		t.Errorf("trailing stop = %v, want 102.5", tr.Actions[1].NewStop)
	}

	if tr.Status != StatusClosed || tr.ExitReason != ExitReasonTP3 {
		t.Errorf("trade closed as %s/%s, want %s/%s", tr.Status, tr.ExitReason, StatusClosed, ExitReasonTP3)
	}
	if tr.ExitPrice != 116 {
		t.Errorf("ExitPrice = %v, want 116", tr.ExitPrice)
	}
	if !almost(tr.Pnl, 102) {
		t.Errorf("Pnl = %v, want 102", tr.Pnl)
	}
	if !almost(tr.PnlPercent, 20.4) {
		t.Errorf("PnlPercent = %v, want 20.4", tr.PnlPercent)
	}
}

func TestUpdate_ScoreExit(t *testing.T) {
	recheck := &signal.Decision{Score: 30, Signal: signal.SignalSell}
	cfg := config.ManageConfig{ScoreRecheck: true}

	t.Run("collapse in loss exits before stop", func(t *testing.T) {
		tr := openLongTrade()
		tr.StopLoss = 99
		tr.OriginalStopLoss = 99
		tr.Leverage = 3
		tr.PositionSize = 900
		tr.OriginalPositionSize = 900

		snap := Snapshot{
			Price: 97, Timestamp: testEntryTime + 4*hourMs,
			Recheck: recheck, CloseBasedStops: true,
		}
		actions, got := Update(tr, snap, cfg)
		if len(actions) != 1 || actions[0].Type != ActionExit {
			t.Fatalf("Update() actions = %+v, want single EXIT", actions)
		}
		if got.Status != StatusClosed || got.ExitReason != ExitReasonScoreExit {
			t.Errorf("trade closed as %s/%s, want %s/%s", got.Status, got.ExitReason, StatusClosed, ExitReasonScoreExit)
		}
		if got.ExitPrice != 97 {
			t.Errorf("ExitPrice = %v, want current price 97, not the stop", got.ExitPrice)
		}
		if !almost(got.Pnl, -27) {
			t.Errorf("Pnl = %v, want -27", got.Pnl)
		}
	})

	t.Run("collapse in profit holds", func(t *testing.T) {
		tr := openLongTrade()
		snap := Snapshot{
			Price: 103, Timestamp: testEntryTime + 4*hourMs,
			Recheck: recheck, CloseBasedStops: true,
		}
		actions, got := Update(tr, snap, cfg)
		if len(actions) != 0 {
			t.Errorf("Update() actions = %+v, want none", actions)
		}
		if got.Status != StatusOpen {
			t.Errorf("Status = %s, want %s", got.Status, StatusOpen)
		}
	})
}

func TestUpdate_ScoreReduceAndPartial(t *testing.T) {
	cfg := config.ManageConfig{ScoreRecheck: true}

	tr := openLongTrade()
	tr.StopLoss = 90
	tr.OriginalStopLoss = 90
	tr.TakeProfit1 = 102
	tr.TakeProfit2 = 110
	tr.PositionSize = 1200
	tr.OriginalPositionSize = 1200
	tr.MaxPriceSeen = 101.9 // ran near TP1 earlier, then faded

	// Drop of 28 in loss halves the position once.
	snap := Snapshot{
		Price: 99, Timestamp: testEntryTime + 4*hourMs,
		Recheck: &signal.Decision{Score: 52, Signal: signal.SignalHold}, CloseBasedStops: true,
	}
	actions, tr2 := Update(tr, snap, cfg)
	if len(actions) != 1 || actions[0].Type != ActionReduce {
		t.Fatalf("Update() actions = %+v, want single RP", actions)
	}
	if !almost(tr2.PositionSize, 600) {
		t.Errorf("PositionSize after reduce = %v, want 600", tr2.PositionSize)
	}
	if !tr2.ReducedByScore {
		t.Error("ReducedByScore not set")
	}

	// Same drop again: the once-per-trade guard holds.
	actions, tr2 = Update(tr2, snap, cfg)
	if len(actions) != 0 {
		t.Errorf("second reduce produced %+v, want none", actions)
	}

	// Mild drop, still in loss, having come near TP1: bank a third.
	snap3 := Snapshot{
		Price: 99.5, Timestamp: testEntryTime + 8*hourMs,
		Recheck: &signal.Decision{Score: 70, Signal: signal.SignalHold}, CloseBasedStops: true,
	}
	actions, tr3 := Update(tr2, snap3, cfg)
	if len(actions) != 1 || actions[0].Type != ActionPartial || actions[0].Reason != "SCORE_PARTIAL" {
		t.Fatalf("Update() actions = %+v, want single PP SCORE_PARTIAL", actions)
	}
	if !almost(tr3.PositionSize, 400) {
		t.Errorf("PositionSize after partial = %v, want 400", tr3.PositionSize)
	}
	if !tr3.TakenPartialByScore {
		t.Error("TakenPartialByScore not set")
	}
}

func TestUpdate_BreakevenAfterGrace(t *testing.T) {
	tr := openLongTrade()
	tr.TakeProfit1 = 120
	tr.TakeProfit2 = 0
	tr.TakeProfit3 = 0
	cfg := config.ManageConfig{
		AutoBreakeven:      true,
		BreakevenRMultiple: 1.0,
		BreakevenBufferPct: 0.001,
		StopGraceBars:      2,
	}

	// Inside the grace window nothing moves, even at +1R.
	snap := Snapshot{Price: 104.5, Timestamp: testEntryTime + hourMs, CloseBasedStops: true}
	actions, tr := Update(tr, snap, cfg)
	if len(actions) != 0 {
		t.Errorf("actions inside grace window = %+v, want none", actions)
	}

	snap.Timestamp = testEntryTime + 2*hourMs
	actions, tr = Update(tr, snap, cfg)
	if len(actions) != 1 || actions[0].Type != ActionBreakeven {
		t.Fatalf("Update() actions = %+v, want single BE", actions)
	}
	if !almost(actions[0].NewStop, 100.1) {
		t.Errorf("breakeven stop = %v, want 100.1", actions[0].NewStop)
	}
	if !tr.BreakevenHit {
		t.Error("BreakevenHit not set")
	}

	snap.Timestamp = testEntryTime + 3*hourMs
	snap.Price = 105
	actions, _ = Update(tr, snap, cfg)
	if len(actions) != 0 {
		t.Errorf("breakeven fired twice: %+v", actions)
	}
}

func TestUpdate_LockInSteps(t *testing.T) {
	tr := openLongTrade()
	tr.TakeProfit1 = 109
	tr.TakeProfit2 = 110
	tr.TakeProfit3 = 0
	cfg := config.ManageConfig{
		AutoLockIn: true,
		LockInLevels: []config.LockLevel{
			{Progress: 0.5, LockR: 0.5},
			{Progress: 0.8, LockR: 1.0},
		},
	}

	// Halfway to TP2 locks 0.5R, the same level never repeats, 85% of the
	// way steps up to 1R.
	steps := []struct {
		price       float64
		wantActions int
		wantStop    float64
		wantReason  string
	}{
		{105, 1, 102, "0.50R"},
		{106, 0, 102, ""},
		{108.5, 1, 104, "1.00R"},
	}
	for i, st := range steps {
		snap := Snapshot{Price: st.price, Timestamp: testEntryTime + int64(i+1)*hourMs, CloseBasedStops: true}
		var actions []Action
		actions, tr = Update(tr, snap, cfg)
		if len(actions) != st.wantActions {
			t.Fatalf("step %d actions = %+v, want %d", i, actions, st.wantActions)
		}
		if !almost(tr.StopLoss, st.wantStop) {
			t.Errorf("step %d StopLoss = %v, want %v", i, tr.StopLoss, st.wantStop)
		}
		if st.wantActions == 1 {
			if actions[0].Type != ActionLock || actions[0].Reason != st.wantReason {
				t.Errorf("step %d action = %s/%s, want %s/%s", i, actions[0].Type, actions[0].Reason, ActionLock, st.wantReason)
			}
		}
	}
}

func TestUpdate_TrailingNeverLoosens(t *testing.T) {
	cfg := config.ManageConfig{
		AutoTrailingStop: true,
		TrailingStartR:   1.0,
		TrailingDistR:    1.0,
	}

	t.Run("long", func(t *testing.T) {
		tr := openLongTrade()
		tr.TakeProfit1 = 200
		tr.TakeProfit2 = 0
		tr.TakeProfit3 = 0

		prices := []float64{104, 102, 105}
		wantStops := []float64{100, 100, 101}
		wantCounts := []int{1, 0, 1}
		for i, p := range prices {
			snap := Snapshot{Price: p, Timestamp: testEntryTime + int64(i+1)*hourMs, CloseBasedStops: true}
			var actions []Action
			actions, tr = Update(tr, snap, cfg)
			if len(actions) != wantCounts[i] {
				t.Fatalf("tick %d actions = %+v, want %d", i, actions, wantCounts[i])
			}
			if !almost(tr.StopLoss, wantStops[i]) {
				t.Errorf("tick %d StopLoss = %v, want %v", i, tr.StopLoss, wantStops[i])
			}
		}
	})

	t.Run("short", func(t *testing.T) {
		tr := openLongTrade()
		tr.Direction = signal.SideShort
		tr.StopLoss = 104
		tr.OriginalStopLoss = 104
		tr.TakeProfit1 = 50
		tr.TakeProfit2 = 0
		tr.TakeProfit3 = 0
		tr.MinPriceSeen = 100

		prices := []float64{96, 98}
		wantStops := []float64{100, 100}
		wantCounts := []int{1, 0}
		for i, p := range prices {
			snap := Snapshot{Price: p, Timestamp: testEntryTime + int64(i+1)*hourMs, CloseBasedStops: true}
			var actions []Action
			actions, tr = Update(tr, snap, cfg)
			if len(actions) != wantCounts[i] {
				t.Fatalf("tick %d actions = %+v, want %d", i, actions, wantCounts[i])
			}
			if !almost(tr.StopLoss, wantStops[i]) {
				t.Errorf("tick %d StopLoss = %v, want %v", i, tr.StopLoss, wantStops[i])
			}
		}
	})
}

func TestUpdate_SameBarStopAndTarget(t *testing.T) {
	newTrade := func() Trade {
		tr := openLongTrade()
		tr.StopLoss = 97
		tr.OriginalStopLoss = 97
		tr.TakeProfit1 = 103
		tr.TakeProfit2 = 106
		tr.TakeProfit3 = 0
		return tr
	}
	cfg := config.ManageConfig{PartialTP: true}

	t.Run("open above midpoint fills target first", func(t *testing.T) {
		snap := Snapshot{
			Price: 98, High: 103.2, Low: 96.8, Open: 101.5,
			Timestamp: testEntryTime + hourMs,
		}
		actions, got := Update(newTrade(), snap, cfg)
		if len(actions) != 2 {
			t.Fatalf("Update() actions = %+v, want TP partial then stop", actions)
		}
		if actions[0].Type != ActionPartial || actions[0].Reason != "TP1" || actions[0].Price != 103 {
			t.Errorf("first action = %+v, want PP TP1 at 103", actions[0])
		}
		if actions[1].Type != ActionStopLoss || actions[1].Price != 97 {
			t.Errorf("second action = %+v, want SL at 97", actions[1])
		}
		if got.Status != StatusClosed || got.ExitReason != ExitReasonSL {
			t.Errorf("trade closed as %s/%s, want %s/%s", got.Status, got.ExitReason, StatusClosed, ExitReasonSL)
		}
		if !almost(got.Pnl, -6) {
			t.Errorf("Pnl = %v, want -6", got.Pnl)
		}
	})

	t.Run("open below midpoint fills stop first", func(t *testing.T) {
		snap := Snapshot{
			Price: 98, High: 103.2, Low: 96.8, Open: 99,
			Timestamp: testEntryTime + hourMs,
		}
		actions, got := Update(newTrade(), snap, cfg)
		if len(actions) != 1 || actions[0].Type != ActionStopLoss {
			t.Fatalf("Update() actions = %+v, want single SL", actions)
		}
		if !almost(got.Pnl, -30) {
			t.Errorf("Pnl = %v, want -30", got.Pnl)
		}
	})
}

func TestUpdate_CloseBasedStopIgnoresWick(t *testing.T) {
	snap := Snapshot{
		Price: 96.5, High: 97.5, Low: 95.8, Open: 97.2,
		Timestamp: testEntryTime + hourMs,
	}
	cfg := config.ManageConfig{}

	snap.CloseBasedStops = true
	actions, got := Update(openLongTrade(), snap, cfg)
	if len(actions) != 0 || got.Status != StatusOpen {
		t.Errorf("close-based stop fired on wick: %+v", actions)
	}

	snap.CloseBasedStops = false
	actions, got = Update(openLongTrade(), snap, cfg)
	if len(actions) != 1 || actions[0].Type != ActionStopLoss {
		t.Fatalf("wick stop actions = %+v, want single SL", actions)
	}
	if got.ExitPrice != 96 {
		t.Errorf("ExitPrice = %v, want trigger price 96", got.ExitPrice)
	}
}

func TestUpdate_ShortSideMirrors(t *testing.T) {
	tr := openLongTrade()
	tr.Direction = signal.SideShort
	tr.StopLoss = 104
	tr.OriginalStopLoss = 104
	tr.TakeProfit1 = 94
	tr.TakeProfit2 = 90
	tr.TakeProfit3 = 84
	tr.MinPriceSeen = 100

	cfg := config.ManageConfig{
		AutoTrailingStop: true,
		PartialTP:        true,
		TrailingStartR:   1.5,
		TrailingDistR:    1.0,
	}

	snap := Snapshot{
		Price: 94.2, High: 95.2, Low: 93.9, Open: 95,
		Timestamp: testEntryTime + hourMs, CloseBasedStops: true,
	}
	actions, tr := Update(tr, snap, cfg)
	if len(actions) != 1 || actions[0].Type != ActionPartial || actions[0].Reason != "TP1" {
		t.Fatalf("bar 1 actions = %+v, want single PP TP1", actions)
	}
	if actions[0].Price != 94 {
		t.Errorf("fill price = %v, want trigger price 94", actions[0].Price)
	}
	if !almost(tr.PositionSize, 600) {
		t.Errorf("PositionSize = %v, want 600", tr.PositionSize)
	}

	snap = Snapshot{
		Price: 93.5, High: 94.5, Low: 93.2, Open: 94.2,
		Timestamp: testEntryTime + 2*hourMs, CloseBasedStops: true,
	}
	actions, tr = Update(tr, snap, cfg)
	if len(actions) != 1 || actions[0].Type != ActionTrailing {
		t.Fatalf("bar 2 actions = %+v, want single TS", actions)
	}
	if !almost(tr.StopLoss, 97.5) {
		t.Errorf("StopLoss = %v, want 97.5", tr.StopLoss)
	}
}

func TestUpdate_SizeAccounting(t *testing.T) {
	tr := openLongTrade()
	tr.StopLoss = 90
	tr.OriginalStopLoss = 90
	tr.TakeProfit1 = 102
	tr.TakeProfit2 = 110
	tr.TakeProfit3 = 0
	tr.PositionSize = 1200
	tr.OriginalPositionSize = 1200
	tr.MaxPriceSeen = 101.9

	cfg := config.ManageConfig{ScoreRecheck: true, PartialTP: true}

	snaps := []Snapshot{
		{Price: 99, Recheck: &signal.Decision{Score: 52, Signal: signal.SignalHold}},
		{Price: 99.5, Recheck: &signal.Decision{Score: 70, Signal: signal.SignalHold}},
		{Price: 101.8, High: 102.1, Low: 99.4, Open: 99.6},
	}
	for i := range snaps {
		snaps[i].Timestamp = testEntryTime + int64(i+1)*hourMs
		snaps[i].CloseBasedStops = true
		var actions []Action
		actions, tr = Update(tr, snaps[i], cfg)
		if len(actions) != 1 {
			t.Fatalf("tick %d actions = %+v, want 1", i, actions)
		}

		closed := 0.0
		for _, a := range tr.Actions {
			closed += a.Portion * tr.OriginalPositionSize
		}
		if tr.PositionSize < 0 {
			t.Fatalf("tick %d PositionSize went negative: %v", i, tr.PositionSize)
		}
		if !almost(closed+tr.PositionSize, tr.OriginalPositionSize) {
			t.Errorf("tick %d closed %v + open %v != original %v", i, closed, tr.PositionSize, tr.OriginalPositionSize)
		}
	}

	if tr.Status != StatusClosed || tr.ExitReason != ExitReasonTP1 {
		t.Errorf("trade closed as %s/%s, want %s/%s", tr.Status, tr.ExitReason, StatusClosed, ExitReasonTP1)
	}
	if tr.PositionSize != 0 {
		t.Errorf("final PositionSize = %v, want 0", tr.PositionSize)
	}
	// -6 on the reduce, -1 on the score partial, +8 closing the rest at TP1.
	if !almost(tr.Pnl, 1) {
		t.Errorf("Pnl = %v, want 1", tr.Pnl)
	}
}

func TestUpdate_ErrorOnCorruptPortion(t *testing.T) {
	tr := openLongTrade()
	tr.OriginalPositionSize = 0
	tr.PositionSize = 500
	tr.StopLoss = 0
	tr.OriginalStopLoss = 0
	tr.TakeProfit1 = 101.5
	tr.TakeProfit2 = 110

	cfg := config.ManageConfig{PartialTP: true}
	snap := Snapshot{Price: 101.8, High: 102, Low: 101, Open: 101.2, Timestamp: testEntryTime + hourMs, CloseBasedStops: true}

	actions, got := Update(tr, snap, cfg)
	if got.Status != StatusError {
		t.Fatalf("Status = %s, want %s", got.Status, StatusError)
	}
	if len(actions) != 1 || actions[0].Type != ActionError {
		t.Errorf("actions = %+v, want single ERROR", actions)
	}
	if got.PositionSize != 500 {
		t.Errorf("PositionSize changed on error path: %v", got.PositionSize)
	}
}

func TestIsValidStopMove(t *testing.T) {
	long := openLongTrade()
	short := openLongTrade()
	short.Direction = signal.SideShort
	short.StopLoss = 104

	tests := []struct {
		name    string
		trade   *Trade
		newStop float64
		want    bool
	}{
		{"long tighten", &long, 98, true},
		{"long loosen", &long, 95, false},
		{"long unchanged", &long, 96, false},
		{"short tighten", &short, 102, true},
		{"short loosen", &short, 105, false},
		{"non-positive stop", &long, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidStopMove(tt.trade, tt.newStop); got != tt.want {
				t.Errorf("IsValidStopMove(%v) = %v, want %v", tt.newStop, got, tt.want)
			}
		})
	}
}

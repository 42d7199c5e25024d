package store

import (
	"encoding/json"
	"testing"

	"confluence-trader/manage"
	"confluence-trader/signal"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	if err := Init(t.TempDir()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func sampleTrade(coinID string, dir signal.Side) *manage.Trade {
	return &manage.Trade{
		UserID:               DefaultUserID,
		CoinID:               coinID,
		Symbol:               "BTCUSDT",
		Direction:            dir,
		Status:               manage.StatusOpen,
		EntryPrice:           50000,
		EntryTime:            1700000000000,
		EntryScore:           78,
		Strategy:             "TREND_FOLLOW",
		Regime:               "TRENDING_UP",
		PositionSize:         1000,
		OriginalPositionSize: 1000,
		Leverage:             3,
		StopLoss:             49000,
		OriginalStopLoss:     49000,
		TakeProfit1:          51500,
		TakeProfit2:          53000,
		TakeProfit3:          56000,
		ActiveTP:             1,
		MaxPriceSeen:         50000,
		MinPriceSeen:         50000,
	}
}

func TestTradeStoreRoundTrip(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()

	tr := sampleTrade("bitcoin", signal.SideLong)
	tr.Actions = []manage.Action{
		{Type: manage.ActionBreakeven, Time: 1700003600000, Price: 50800, NewStop: 50050},
		{Type: manage.ActionPartial, Time: 1700007200000, Price: 51500, Portion: 0.4, Reason: "TP1"},
	}
	tr.PartialPnl = 12

	if err := ts.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if tr.ID == "" {
		t.Fatal("Save did not assign an id")
	}

	got, err := ts.Find(tr.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got == nil {
		t.Fatal("Find returned nil for saved trade")
	}
	if got.Direction != signal.SideLong {
		t.Errorf("direction = %q, want %q", got.Direction, signal.SideLong)
	}
	if got.EntryPrice != 50000 || got.StopLoss != 49000 {
		t.Errorf("prices not preserved: entry=%v stop=%v", got.EntryPrice, got.StopLoss)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("actions len = %d, want 2", len(got.Actions))
	}
	if got.Actions[1].Type != manage.ActionPartial || got.Actions[1].Portion != 0.4 {
		t.Errorf("action[1] = %+v, not preserved", got.Actions[1])
	}
	if got.PartialPnl != 12 {
		t.Errorf("partial pnl = %v, want 12", got.PartialPnl)
	}
}

func TestTradeStoreFindUnknown(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()

	got, err := ts.Find("nope")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != nil {
		t.Errorf("Find unknown id = %+v, want nil", got)
	}

	byCoin, err := ts.FindOpenTradeByCoin(DefaultUserID, "bitcoin")
	if err != nil {
		t.Fatalf("FindOpenTradeByCoin: %v", err)
	}
	if byCoin != nil {
		t.Errorf("FindOpenTradeByCoin on empty db = %+v, want nil", byCoin)
	}
}

func TestTradeStoreOpenClosedSplit(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()

	open := sampleTrade("bitcoin", signal.SideLong)
	if err := ts.Save(open); err != nil {
		t.Fatalf("Save open: %v", err)
	}

	closed := sampleTrade("ethereum", signal.SideShort)
	closed.Status = manage.StatusClosed
	closed.ExitPrice = 49000
	closed.ExitTime = 1700010000000
	closed.ExitReason = manage.ExitReasonTP1
	closed.Pnl = 20
	if err := ts.Save(closed); err != nil {
		t.Fatalf("Save closed: %v", err)
	}

	opens, err := ts.FindOpenTrades(DefaultUserID)
	if err != nil {
		t.Fatalf("FindOpenTrades: %v", err)
	}
	if len(opens) != 1 || opens[0].CoinID != "bitcoin" {
		t.Errorf("open trades = %d, want 1 bitcoin", len(opens))
	}

	closedList, err := ts.FindClosedTrades(DefaultUserID, 10)
	if err != nil {
		t.Fatalf("FindClosedTrades: %v", err)
	}
	if len(closedList) != 1 || closedList[0].ExitReason != manage.ExitReasonTP1 {
		t.Errorf("closed trades = %d, want 1 with TP1 exit", len(closedList))
	}

	n, err := ts.CountOpen(DefaultUserID)
	if err != nil {
		t.Fatalf("CountOpen: %v", err)
	}
	if n != 1 {
		t.Errorf("CountOpen = %d, want 1", n)
	}

	byCoin, err := ts.FindOpenTradeByCoin(DefaultUserID, "bitcoin")
	if err != nil {
		t.Fatalf("FindOpenTradeByCoin: %v", err)
	}
	if byCoin == nil || byCoin.ID != open.ID {
		t.Errorf("FindOpenTradeByCoin missed the open bitcoin trade")
	}
}

func TestTradeStoreLastClosedTimes(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()

	for i, exitTime := range []int64{1700000000000, 1700100000000} {
		tr := sampleTrade("bitcoin", signal.SideLong)
		tr.EntryTime = exitTime - 3600000
		tr.Status = manage.StatusClosed
		tr.ExitTime = exitTime
		tr.ExitReason = manage.ExitReasonSL
		tr.Pnl = float64(-10 * (i + 1))
		if err := ts.Save(tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	short := sampleTrade("bitcoin", signal.SideShort)
	short.Status = manage.StatusClosed
	short.ExitTime = 1700050000000
	short.ExitReason = manage.ExitReasonTP2
	short.Pnl = 30
	if err := ts.Save(short); err != nil {
		t.Fatalf("Save short: %v", err)
	}

	times, err := ts.LastClosedTimes(DefaultUserID)
	if err != nil {
		t.Fatalf("LastClosedTimes: %v", err)
	}
	if got := times["bitcoin_LONG"]; got != 1700100000000 {
		t.Errorf("bitcoin_LONG last close = %d, want most recent exit", got)
	}
	if got := times["bitcoin_SHORT"]; got != 1700050000000 {
		t.Errorf("bitcoin_SHORT last close = %d", got)
	}
}

func TestTradeStoreStats(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()

	pnls := []float64{100, 50, -30, -20}
	for _, pnl := range pnls {
		tr := sampleTrade("bitcoin", signal.SideLong)
		tr.Status = manage.StatusClosed
		tr.ExitTime = 1700000000000
		tr.Pnl = pnl
		if err := ts.Save(tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	stats, err := ts.Stats(DefaultUserID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTrades != 4 || stats.Wins != 2 || stats.Losses != 2 {
		t.Errorf("counts = %d/%d/%d, want 4/2/2", stats.TotalTrades, stats.Wins, stats.Losses)
	}
	if stats.WinRate != 50 {
		t.Errorf("win rate = %v, want 50", stats.WinRate)
	}
	if stats.TotalPnl != 100 {
		t.Errorf("total pnl = %v, want 100", stats.TotalPnl)
	}
	if stats.ProfitFactor != 3 { // 150 gross profit / 50 gross loss
		t.Errorf("profit factor = %v, want 3", stats.ProfitFactor)
	}
	if stats.AvgWin != 75 || stats.AvgLoss != 25 {
		t.Errorf("avg win/loss = %v/%v, want 75/25", stats.AvgWin, stats.AvgLoss)
	}
	if stats.BestTrade != 100 || stats.WorstTrade != -30 {
		t.Errorf("best/worst = %v/%v", stats.BestTrade, stats.WorstTrade)
	}
}

func TestStrategyStoreStats(t *testing.T) {
	setupTestDB(t)
	ts := NewTradeStore()
	ss := NewStrategyStore()

	records := []struct {
		strategy string
		pnl      float64
	}{
		{"TREND_FOLLOW", 100},
		{"TREND_FOLLOW", -40},
		{"RANGE_BOUNCE", 25},
	}
	for _, rec := range records {
		tr := sampleTrade("bitcoin", signal.SideLong)
		tr.Status = manage.StatusClosed
		tr.ExitTime = 1700000000000
		tr.Strategy = rec.strategy
		tr.Pnl = rec.pnl
		if err := ts.Save(tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	stats, err := ss.Stats(DefaultUserID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	tf := stats["TREND_FOLLOW"]
	if tf.ClosedTrades != 2 || tf.Wins != 1 || tf.TotalPnl != 60 {
		t.Errorf("TREND_FOLLOW stat = %+v", tf)
	}
	rb := stats["RANGE_BOUNCE"]
	if rb.ClosedTrades != 1 || rb.Wins != 1 {
		t.Errorf("RANGE_BOUNCE stat = %+v", rb)
	}
}

func TestStrategyStoreWeights(t *testing.T) {
	setupTestDB(t)
	ss := NewStrategyStore()

	in := map[string]float64{"trend": 1.4, "momentum": 0.8}
	if err := ss.SaveWeights("TREND_FOLLOW", in); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}

	all, err := ss.Weights()
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	got, ok := all["TREND_FOLLOW"]
	if !ok {
		t.Fatal("saved strategy missing from Weights()")
	}
	if got["trend"] != 1.4 || got["momentum"] != 0.8 {
		t.Errorf("weights = %v, want %v", got, in)
	}

	if err := ss.DeleteWeights("TREND_FOLLOW"); err != nil {
		t.Fatalf("DeleteWeights: %v", err)
	}
	all, _ = ss.Weights()
	if len(all) != 0 {
		t.Errorf("weights after delete = %v, want empty", all)
	}
}

func TestUserStoreLifecycle(t *testing.T) {
	setupTestDB(t)
	us := NewUserStore()

	seed := &User{
		ID:              DefaultUserID,
		PaperBalance:    10000,
		InitialBalance:  10000,
		RiskPerTradePct: 2,
		RiskMode:        "percent",
		DefaultLeverage: 3,
		MaxOpenTrades:   5,
		CooldownHours:   4,
	}
	u, err := us.EnsureDefault(seed)
	if err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	if u.PaperBalance != 10000 {
		t.Fatalf("seed balance = %v", u.PaperBalance)
	}

	// Second call must return the stored row, not reseed.
	if err := us.UpdateBalance(DefaultUserID, -250); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}
	again, err := us.EnsureDefault(seed)
	if err != nil {
		t.Fatalf("EnsureDefault again: %v", err)
	}
	if again.PaperBalance != 9750 {
		t.Errorf("balance after delta = %v, want 9750", again.PaperBalance)
	}

	if err := us.UpdateStats(DefaultUserID, StatsDelta{Trades: 1, Wins: 1, Pnl: 80}); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	u, _ = us.Find(DefaultUserID)
	if u.TotalTrades != 1 || u.Wins != 1 || u.TotalPnl != 80 {
		t.Errorf("stats = %d/%d/%v", u.TotalTrades, u.Wins, u.TotalPnl)
	}

	if err := us.ResetBalance(DefaultUserID, 5000); err != nil {
		t.Fatalf("ResetBalance: %v", err)
	}
	u, _ = us.Find(DefaultUserID)
	if u.PaperBalance != 5000 || u.TotalTrades != 0 {
		t.Errorf("after reset balance=%v trades=%d", u.PaperBalance, u.TotalTrades)
	}
}

func TestBacktestStoreRoundTrip(t *testing.T) {
	setupTestDB(t)
	bs := NewBacktestStore()

	rec := &BacktestRecord{
		UserID:  DefaultUserID,
		Status:  BacktestStatusDone,
		StartMs: 1690000000000,
		EndMs:   1700000000000,
		Coins:   []string{"bitcoin", "ethereum"},
		Summary: json.RawMessage(`{"total_trades":12,"win_rate":58.3}`),
		Results: json.RawMessage(`{"bitcoin":{"trades":7}}`),
	}
	if err := bs.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := bs.Find(rec.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got == nil {
		t.Fatal("Find returned nil")
	}
	if len(got.Coins) != 2 || got.Coins[1] != "ethereum" {
		t.Errorf("coins = %v", got.Coins)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(got.Summary, &summary); err != nil {
		t.Fatalf("summary not valid json: %v", err)
	}
	if summary["total_trades"].(float64) != 12 {
		t.Errorf("summary = %v", summary)
	}

	latest, err := bs.FindLatest(DefaultUserID)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if latest == nil || latest.ID != rec.ID {
		t.Error("FindLatest did not return the saved run")
	}

	list, err := bs.List(DefaultUserID, 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List len = %d", len(list))
	}
	if len(list[0].Results) != 0 {
		t.Error("List should omit the results payload")
	}
}

func TestSettingsStore(t *testing.T) {
	setupTestDB(t)
	ss := NewSettingsStore()

	if err := ss.Set("min_signal_score", "70"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := ss.Get("min_signal_score")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "70" {
		t.Errorf("Get = %q, want 70", v)
	}

	// Unknown keys read as empty, not error.
	v, err = ss.Get("missing")
	if err != nil || v != "" {
		t.Errorf("Get missing = %q, %v", v, err)
	}

	gs := &GlobalSettings{
		BinanceAPIKey:    "AKIA1234567890SECRET",
		BinanceSecretKey: "sk",
		TelegramToken:    "123456:token-value-here",
	}
	if err := ss.SaveGlobalSettings(gs); err != nil {
		t.Fatalf("SaveGlobalSettings: %v", err)
	}
	loaded, err := ss.GetGlobalSettings()
	if err != nil {
		t.Fatalf("GetGlobalSettings: %v", err)
	}
	if loaded.BinanceAPIKey != gs.BinanceAPIKey {
		t.Errorf("api key = %q", loaded.BinanceAPIKey)
	}

	// JSON serialization must mask the secrets.
	out, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var masked map[string]interface{}
	json.Unmarshal(out, &masked)
	if masked["binance_api_key"] == gs.BinanceAPIKey {
		t.Error("api key not masked in JSON output")
	}
	if masked["binance_secret_key"] != "****" {
		t.Errorf("short secret mask = %v, want ****", masked["binance_secret_key"])
	}
}

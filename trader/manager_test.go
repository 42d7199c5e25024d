package trader

import (
	"context"
	"strings"
	"testing"

	"confluence-trader/events"
	"confluence-trader/notify"
	"confluence-trader/store"
)

func testManager(t *testing.T) *EngineManager {
	t.Helper()
	if err := store.Init(t.TempDir()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := events.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	return NewEngineManager(testTraderConfig(), nil, hub, notify.Nop{})
}

func TestDefaultUserSeedCarriesRiskDefaults(t *testing.T) {
	seed := DefaultUserSeed(testTraderConfig().Risk)

	if seed.ID != store.DefaultUserID {
		t.Errorf("id = %q, want %q", seed.ID, store.DefaultUserID)
	}
	if seed.PaperBalance != 10000 || seed.InitialBalance != 10000 {
		t.Errorf("balances = %v/%v, want 10000/10000", seed.PaperBalance, seed.InitialBalance)
	}
	if seed.RiskPerTradePct != 2 || seed.MaxOpenTrades != 5 || seed.CooldownHours != 4 {
		t.Errorf("risk defaults not carried: %+v", seed)
	}
	if !seed.AutoBreakeven || !seed.AutoTrailingStop {
		t.Error("management automation should default on")
	}
	if seed.LiveTrading {
		t.Error("new accounts must not default to live routing")
	}
}

func TestLoadUserCreatesDefaultOnce(t *testing.T) {
	m := testManager(t)

	user, err := m.loadUser(store.DefaultUserID)
	if err != nil {
		t.Fatalf("loadUser: %v", err)
	}
	if user == nil || user.PaperBalance != 10000 {
		t.Fatalf("default user not seeded: %+v", user)
	}

	// A second load finds the stored row instead of reseeding.
	if err := m.users.UpdateBalance(store.DefaultUserID, -500); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}
	again, err := m.loadUser(store.DefaultUserID)
	if err != nil {
		t.Fatalf("loadUser again: %v", err)
	}
	if again.PaperBalance != 9500 {
		t.Errorf("balance = %v, want 9500 (reseed would reset it)", again.PaperBalance)
	}
}

func TestStartRejectsUnknownUser(t *testing.T) {
	m := testManager(t)

	err := m.Start(context.Background(), "ghost")
	if err == nil || !strings.Contains(err.Error(), "unknown user") {
		t.Fatalf("err = %v, want unknown user", err)
	}
	if m.IsRunning("ghost") {
		t.Error("failed start left an engine running")
	}
	if got := len(m.RunningUsers()); got != 0 {
		t.Errorf("running users = %d, want 0", got)
	}
}

func TestStopWithoutEngine(t *testing.T) {
	m := testManager(t)

	if err := m.Stop(store.DefaultUserID); err == nil {
		t.Fatal("Stop on an idle manager should fail")
	}
}

func TestLiveRoutingRequiresAllThreeFlags(t *testing.T) {
	tests := []struct {
		name     string
		procLive bool
		userLive bool
		key      string
		want     bool
	}{
		{"all off", false, false, "", false},
		{"process only", true, false, "k", false},
		{"user only", false, true, "k", false},
		{"flags without keys", true, true, "", false},
		{"all set", true, true, "k", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager(t)
			m.cfg.LiveTrading = tt.procLive
			m.cfg.BinanceAPIKey = tt.key

			user := &store.User{ID: store.DefaultUserID, LiveTrading: tt.userLive}
			if got := m.liveRouting(user); got != tt.want {
				t.Errorf("liveRouting = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutorForDefaultsToPaper(t *testing.T) {
	m := testManager(t)

	exec := m.executorFor(&store.User{ID: store.DefaultUserID, LiveTrading: true})
	if exec.Name() != "paper" {
		t.Errorf("executor = %q, want paper without process opt-in", exec.Name())
	}
}

func TestGetStatusFallback(t *testing.T) {
	m := testManager(t)

	status := m.GetStatus("nobody")
	if running, _ := status["running"].(bool); running {
		t.Error("idle user reported running")
	}
	if status["user_id"] != "nobody" {
		t.Errorf("user_id = %v, want nobody", status["user_id"])
	}
}

package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"confluence-trader/config"
	"confluence-trader/events"
	"confluence-trader/exchange"
	"confluence-trader/market"
	"confluence-trader/notify"
	"confluence-trader/sim"
	"confluence-trader/store"
)

// EngineManager owns the live engines, one per user. It decides the executor
// on each start: fills stay simulated unless the process flag, the user flag
// and API credentials all line up.
type EngineManager struct {
	cfg      *config.Config
	mkt      *market.Service
	hub      *events.Hub
	notifier notify.Notifier
	funding  FundingSource

	users   *store.UserStore
	engines map[string]*Engine
	mu      sync.RWMutex
}

func NewEngineManager(cfg *config.Config, mkt *market.Service, hub *events.Hub, notifier notify.Notifier) *EngineManager {
	// Funding rates come from the public premium index; the dry client needs
	// no keys and never places orders.
	return &EngineManager{
		cfg:      cfg,
		mkt:      mkt,
		hub:      hub,
		notifier: notifier,
		funding:  exchange.NewBinanceFutures("", "", false, true, cfg.Risk.TakerFee),
		users:    store.NewUserStore(),
		engines:  make(map[string]*Engine),
	}
}

// Start creates and starts the engine for a user.
func (m *EngineManager) Start(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, exists := m.engines[userID]; exists && engine.IsRunning() {
		return fmt.Errorf("engine for user %s is already running", userID)
	}

	user, err := m.loadUser(userID)
	if err != nil {
		return err
	}

	executor := m.executorFor(user)
	engine := NewEngine(userID, m.cfg, m.mkt, executor, m.funding, m.notifier, m.hub)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	m.engines[userID] = engine
	log.Info().Str("user", userID).Str("executor", executor.Name()).Msg("[trader] Started engine")
	return nil
}

// loadUser fetches the account, creating the default paper account on first
// use. Unknown non-default ids are an error.
func (m *EngineManager) loadUser(userID string) (*store.User, error) {
	user, err := m.users.Find(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user != nil {
		return user, nil
	}
	if userID != store.DefaultUserID {
		return nil, fmt.Errorf("unknown user %s", userID)
	}
	return m.users.EnsureDefault(DefaultUserSeed(m.cfg.Risk))
}

// DefaultUserSeed builds the first-run paper account from the configured
// risk defaults.
func DefaultUserSeed(rc config.RiskConfig) *store.User {
	return &store.User{
		ID:                        store.DefaultUserID,
		PaperBalance:              10000,
		InitialBalance:            10000,
		RiskPerTradePct:           rc.RiskPerTradePct,
		RiskMode:                  rc.RiskMode,
		DollarRiskPerTrade:        rc.DollarRiskPerTrade,
		DefaultLeverage:           rc.DefaultLeverage,
		MaxOpenTrades:             rc.MaxOpenTrades,
		MaxBalancePercentPerTrade: rc.MaxBalancePercentPerTrade,
		CooldownHours:             rc.CooldownHours,
		AutoBreakeven:             true,
		AutoTrailingStop:          true,
	}
}

// liveRouting reports whether orders should hit the venue for this user:
// the process flag, the user flag and credentials must all be set.
func (m *EngineManager) liveRouting(user *store.User) bool {
	return m.cfg.LiveTrading && user.LiveTrading && m.cfg.BinanceAPIKey != ""
}

// executorFor picks the venue. Everything short of full live routing trades
// paper.
func (m *EngineManager) executorFor(user *store.User) exchange.Executor {
	if m.liveRouting(user) {
		return exchange.NewBinanceFutures(
			m.cfg.BinanceAPIKey, m.cfg.BinanceSecretKey,
			m.cfg.BinanceTestnet, false, m.cfg.Risk.TakerFee)
	}
	return exchange.NewPaperExecutor(sim.DefaultConfig(m.cfg.Risk))
}

// Stop stops one user's engine.
func (m *EngineManager) Stop(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	engine, exists := m.engines[userID]
	if !exists || !engine.IsRunning() {
		return fmt.Errorf("no running engine for user %s", userID)
	}
	engine.Stop()
	delete(m.engines, userID)
	log.Info().Str("user", userID).Msg("[trader] Stopped engine")
	return nil
}

// StopAll stops every running engine. Used on shutdown.
func (m *EngineManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, engine := range m.engines {
		engine.Stop()
		log.Info().Str("user", userID).Msg("[trader] Stopped engine")
	}
	m.engines = make(map[string]*Engine)
}

// IsRunning reports whether a user's engine is live.
func (m *EngineManager) IsRunning(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if engine, exists := m.engines[userID]; exists {
		return engine.IsRunning()
	}
	return false
}

// Get returns the engine for a user if one exists.
func (m *EngineManager) Get(userID string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, exists := m.engines[userID]
	return engine, exists
}

// GetStatus reports one engine's state for the API.
func (m *EngineManager) GetStatus(userID string) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if engine, exists := m.engines[userID]; exists {
		return engine.Status()
	}
	return map[string]interface{}{
		"running": false,
		"user_id": userID,
		"message": "Engine not running",
	}
}

// RunningUsers returns the ids with a live engine.
func (m *EngineManager) RunningUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id, engine := range m.engines {
		if engine.IsRunning() {
			ids = append(ids, id)
		}
	}
	return ids
}

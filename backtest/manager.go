package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"confluence-trader/config"
	"confluence-trader/market"
	"confluence-trader/store"
)

// Manager owns the lifecycle of backtest runs: one goroutine per run, live
// metadata for polling, and persistence through the backtest store so
// finished runs survive restarts.
type Manager struct {
	appCfg   *config.Config
	universe []market.CoinMeta
	source   CandleSource
	store    *store.BacktestStore

	mu      sync.RWMutex
	runners map[string]*Runner
	cancels map[string]context.CancelFunc
}

func NewManager(appCfg *config.Config, universe []market.CoinMeta, source CandleSource, st *store.BacktestStore) *Manager {
	return &Manager{
		appCfg:   appCfg,
		universe: universe,
		source:   source,
		store:    st,
		runners:  make(map[string]*Runner),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches a run in the background and returns its id. The run record
// is saved immediately as RUNNING and updated when the run settles.
func (m *Manager) Start(ctx context.Context, cfg Config) (string, error) {
	id := uuid.New().String()
	runner, err := NewRunner(id, cfg, m.appCfg, m.universe, m.source)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runners[id] = runner
	m.cancels[id] = cancel
	m.mu.Unlock()

	if m.store != nil {
		rec := &store.BacktestRecord{
			ID:      id,
			Status:  store.BacktestStatusRunning,
			StartMs: runner.cfg.StartMs,
			EndMs:   runner.cfg.EndMs,
			Coins:   runner.cfg.Coins,
		}
		if err := m.store.Save(rec); err != nil {
			log.Warn().Err(err).Str("run", id).Msg("[backtest] cannot persist run record")
		}
	}

	go func() {
		defer cancel()
		res := runner.Run(runCtx)
		m.persist(runner, res)
	}()

	return id, nil
}

func (m *Manager) persist(runner *Runner, res *Result) {
	if m.store == nil {
		return
	}
	meta := runner.Metadata()
	rec, err := m.store.Find(meta.ID)
	if err != nil || rec == nil {
		rec = &store.BacktestRecord{
			ID:      meta.ID,
			StartMs: meta.StartMs,
			EndMs:   meta.EndMs,
			Coins:   meta.Coins,
		}
	}
	rec.Error = meta.Error
	switch meta.Status {
	case StatusCompleted:
		rec.Status = store.BacktestStatusDone
	case StatusCanceled:
		rec.Status = store.BacktestStatusCanceled
	default:
		rec.Status = store.BacktestStatusFailed
	}
	if res != nil {
		if b, err := json.Marshal(res.Summary); err == nil {
			rec.Summary = b
		}
		if b, err := json.Marshal(res); err == nil {
			rec.Results = b
		}
	}
	if err := m.store.Save(rec); err != nil {
		log.Warn().Err(err).Str("run", meta.ID).Msg("[backtest] cannot persist run result")
	}
}

// Stop cancels a running backtest. The run settles as canceled with partial
// results.
func (m *Manager) Stop(runID string) error {
	m.mu.RLock()
	cancel, ok := m.cancels[runID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("backtest %s not found", runID)
	}
	cancel()
	return nil
}

// Status returns the live metadata for a run, falling back to the stored
// record for runs from a previous process.
func (m *Manager) Status(runID string) (*RunMetadata, error) {
	m.mu.RLock()
	runner, ok := m.runners[runID]
	m.mu.RUnlock()
	if ok {
		meta := runner.Metadata()
		return &meta, nil
	}
	if m.store != nil {
		rec, err := m.store.Find(runID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			meta := recordMetadata(rec)
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("backtest %s not found", runID)
}

// Result returns a finished run's full result, from memory when the run
// happened in this process, otherwise from the store.
func (m *Manager) Result(runID string) (*Result, error) {
	m.mu.RLock()
	runner, ok := m.runners[runID]
	m.mu.RUnlock()
	if ok {
		if res := runner.Result(); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("backtest %s still running", runID)
	}
	return m.storedResult(runID)
}

func (m *Manager) storedResult(runID string) (*Result, error) {
	if m.store == nil {
		return nil, fmt.Errorf("backtest %s not found", runID)
	}
	rec, err := m.store.Find(runID)
	if err != nil {
		return nil, err
	}
	if rec == nil || len(rec.Results) == 0 {
		return nil, fmt.Errorf("backtest %s not found", runID)
	}
	var res Result
	if err := json.Unmarshal(rec.Results, &res); err != nil {
		return nil, fmt.Errorf("stored backtest %s is corrupt: %w", runID, err)
	}
	return &res, nil
}

// Latest returns the most recently finished run's result, if any.
func (m *Manager) Latest() (*Result, error) {
	if m.store == nil {
		return nil, nil
	}
	rec, err := m.store.FindLatest(store.DefaultUserID)
	if err != nil || rec == nil {
		return nil, err
	}
	return m.storedResult(rec.ID)
}

// List returns metadata for every known run, live ones first.
func (m *Manager) List() ([]RunMetadata, error) {
	m.mu.RLock()
	live := make(map[string]bool, len(m.runners))
	out := make([]RunMetadata, 0, len(m.runners))
	for id, runner := range m.runners {
		live[id] = true
		out = append(out, runner.Metadata())
	}
	m.mu.RUnlock()

	if m.store != nil {
		recs, err := m.store.List(store.DefaultUserID, 50)
		if err != nil {
			return out, err
		}
		for _, rec := range recs {
			if !live[rec.ID] {
				out = append(out, recordMetadata(rec))
			}
		}
	}
	return out, nil
}

// Delete removes a finished run from memory and the store.
func (m *Manager) Delete(runID string) error {
	m.mu.Lock()
	if runner, ok := m.runners[runID]; ok {
		if runner.Metadata().Status == StatusRunning {
			m.mu.Unlock()
			return fmt.Errorf("backtest %s is still running", runID)
		}
		delete(m.runners, runID)
		delete(m.cancels, runID)
	}
	m.mu.Unlock()

	if m.store != nil {
		return m.store.Delete(runID)
	}
	return nil
}

func recordMetadata(rec *store.BacktestRecord) RunMetadata {
	meta := RunMetadata{
		ID:          rec.ID,
		Coins:       rec.Coins,
		StartMs:     rec.StartMs,
		EndMs:       rec.EndMs,
		StartedAt:   rec.CreatedAt,
		CompletedAt: rec.UpdatedAt,
		TotalCoins:  len(rec.Coins),
		Error:       rec.Error,
	}
	switch rec.Status {
	case store.BacktestStatusRunning:
		meta.Status = StatusRunning
	case store.BacktestStatusDone:
		meta.Status = StatusCompleted
		meta.Progress = 100
		meta.CompletedCoins = len(rec.Coins)
	case store.BacktestStatusCanceled:
		meta.Status = StatusCanceled
	default:
		meta.Status = StatusFailed
	}
	return meta
}

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"confluence-trader/manage"
	"confluence-trader/signal"
)

// StrategyStore serves per-strategy performance back to the signal engine and
// persists learned dimension-weight overrides. Performance is derived from
// the trades table on read rather than maintained as counters, so it can
// never drift from the trade history.
type StrategyStore struct{}

func NewStrategyStore() *StrategyStore {
	return &StrategyStore{}
}

// InitTables creates the strategy weights table if it doesn't exist
func (s *StrategyStore) InitTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS strategy_weights (
		strategy TEXT PRIMARY KEY,
		weights TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(query)
	return err
}

// Stats aggregates closed trades per strategy, in the shape the signal
// engine's regime gate and ranking bonuses consume.
func (s *StrategyStore) Stats(userID string) (map[string]signal.StrategyStat, error) {
	rows, err := db.Query(`
		SELECT strategy, COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE user_id = ? AND status = ? AND strategy != ''
		GROUP BY strategy
	`, userID, manage.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]signal.StrategyStat)
	for rows.Next() {
		var name string
		var st signal.StrategyStat
		if err := rows.Scan(&name, &st.ClosedTrades, &st.Wins, &st.TotalPnl); err != nil {
			return nil, err
		}
		stats[name] = st
	}
	return stats, rows.Err()
}

// StrategyBreakdown is one strategy's closed-trade record for the API.
type StrategyBreakdown struct {
	Strategy    string  `json:"strategy"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	TotalPnl    float64 `json:"total_pnl"`
	AvgPnl      float64 `json:"avg_pnl"`
}

// Breakdown returns per-strategy performance rows, best pnl first.
func (s *StrategyStore) Breakdown(userID string) ([]StrategyBreakdown, error) {
	rows, err := db.Query(`
		SELECT strategy, COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(pnl), 0)
		FROM trades
		WHERE user_id = ? AND status = ? AND strategy != ''
		GROUP BY strategy
		ORDER BY SUM(pnl) DESC
	`, userID, manage.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StrategyBreakdown
	for rows.Next() {
		var b StrategyBreakdown
		if err := rows.Scan(&b.Strategy, &b.TotalTrades, &b.Wins, &b.TotalPnl, &b.AvgPnl); err != nil {
			return nil, err
		}
		if b.TotalTrades > 0 {
			b.WinRate = float64(b.Wins) / float64(b.TotalTrades) * 100
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveWeights stores one strategy's dimension-weight overrides.
func (s *StrategyStore) SaveWeights(strategy string, weights map[string]float64) error {
	data, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO strategy_weights (strategy, weights, updated_at)
		VALUES (?, ?, ?)
	`, strategy, string(data), time.Now())
	return err
}

// Weights returns all stored weight overrides keyed by strategy name.
func (s *StrategyStore) Weights() (map[string]map[string]float64, error) {
	rows, err := db.Query(`SELECT strategy, weights FROM strategy_weights`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]float64)
	for rows.Next() {
		var strategy, data string
		if err := rows.Scan(&strategy, &data); err != nil {
			return nil, err
		}
		var weights map[string]float64
		if err := json.Unmarshal([]byte(data), &weights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weights for %s: %w", strategy, err)
		}
		out[strategy] = weights
	}
	return out, rows.Err()
}

// DeleteWeights removes one strategy's overrides.
func (s *StrategyStore) DeleteWeights(strategy string) error {
	_, err := db.Exec(`DELETE FROM strategy_weights WHERE strategy = ?`, strategy)
	return err
}

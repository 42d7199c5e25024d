package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Backtest run status constants
const (
	BacktestStatusRunning  = "RUNNING"
	BacktestStatusDone     = "DONE"
	BacktestStatusFailed   = "FAILED"
	BacktestStatusCanceled = "CANCELED"
)

// BacktestRecord is one stored backtest run. Summary and Results are opaque
// JSON written by the backtest package; the store does not interpret them.
type BacktestRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Status    string          `json:"status"`
	StartMs   int64           `json:"start_ms"`
	EndMs     int64           `json:"end_ms"`
	Coins     []string        `json:"coins"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Results   json.RawMessage `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BacktestStore handles backtest run persistence
type BacktestStore struct{}

func NewBacktestStore() *BacktestStore {
	return &BacktestStore{}
}

// InitTables creates the backtest runs table if it doesn't exist
func (s *BacktestStore) InitTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		coins TEXT DEFAULT '[]',
		summary TEXT DEFAULT '',
		results TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_backtests_user ON backtest_runs(user_id, created_at DESC);
	`
	_, err := db.Exec(query)
	return err
}

// Save writes the full run row, assigning an id on first save.
func (s *BacktestStore) Save(r *BacktestRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.UserID == "" {
		r.UserID = DefaultUserID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = time.Now()

	coinsJSON, err := json.Marshal(r.Coins)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO backtest_runs
			(id, user_id, status, start_ms, end_ms, coins, summary, results, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Status, r.StartMs, r.EndMs, string(coinsJSON),
		string(r.Summary), string(r.Results), r.Error, r.CreatedAt, r.UpdatedAt)
	return err
}

func scanBacktest(row interface{ Scan(...interface{}) error }) (*BacktestRecord, error) {
	var r BacktestRecord
	var coins, summary, results string
	err := row.Scan(&r.ID, &r.UserID, &r.Status, &r.StartMs, &r.EndMs,
		&coins, &summary, &results, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if coins != "" {
		if err := json.Unmarshal([]byte(coins), &r.Coins); err != nil {
			return nil, err
		}
	}
	if summary != "" {
		r.Summary = json.RawMessage(summary)
	}
	if results != "" {
		r.Results = json.RawMessage(results)
	}
	return &r, nil
}

// Find returns the run or nil when the id is unknown.
func (s *BacktestStore) Find(id string) (*BacktestRecord, error) {
	row := db.QueryRow(`
		SELECT id, user_id, status, start_ms, end_ms, coins, summary, results, error, created_at, updated_at
		FROM backtest_runs WHERE id = ?
	`, id)
	r, err := scanBacktest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// FindLatest returns the user's most recent run, nil if they have none.
func (s *BacktestStore) FindLatest(userID string) (*BacktestRecord, error) {
	row := db.QueryRow(`
		SELECT id, user_id, status, start_ms, end_ms, coins, summary, results, error, created_at, updated_at
		FROM backtest_runs WHERE user_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, userID)
	r, err := scanBacktest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// List returns the user's runs newest-first without the per-coin results
// payload, which can run to megabytes.
func (s *BacktestStore) List(userID string, limit int) ([]*BacktestRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, user_id, status, start_ms, end_ms, coins, summary, '', error, created_at, updated_at
		FROM backtest_runs WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BacktestRecord
	for rows.Next() {
		r, err := scanBacktest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a run.
func (s *BacktestStore) Delete(id string) error {
	_, err := db.Exec(`DELETE FROM backtest_runs WHERE id = ?`, id)
	return err
}

package store

import (
	"database/sql"
	"time"
)

// DefaultUserID is the single paper account created on first start.
const DefaultUserID = "default"

// User is one trading account: paper balance plus the risk settings the
// engines read as a snapshot. The repository is the only writer.
type User struct {
	ID             string  `json:"id"`
	PaperBalance   float64 `json:"paper_balance"`
	InitialBalance float64 `json:"initial_balance"`

	RiskPerTradePct           float64 `json:"risk_per_trade_pct"`
	RiskMode                  string  `json:"risk_mode"` // "percent" or "dollar"
	DollarRiskPerTrade        float64 `json:"dollar_risk_per_trade"`
	DefaultLeverage           int     `json:"default_leverage"`
	MaxOpenTrades             int     `json:"max_open_trades"`
	MaxBalancePercentPerTrade float64 `json:"max_balance_pct_per_trade"`
	CooldownHours             float64 `json:"cooldown_hours"`
	AutoBreakeven             bool    `json:"auto_breakeven"`
	AutoTrailingStop          bool    `json:"auto_trailing_stop"`
	LiveTrading               bool    `json:"live_trading"`

	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalPnl    float64 `json:"total_pnl"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatsDelta increments a user's lifetime counters when a trade closes.
type StatsDelta struct {
	Trades int
	Wins   int
	Losses int
	Pnl    float64
}

// UserStore handles account persistence
type UserStore struct{}

func NewUserStore() *UserStore {
	return &UserStore{}
}

// InitTables creates the users table if it doesn't exist
func (s *UserStore) InitTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		paper_balance REAL NOT NULL,
		initial_balance REAL NOT NULL,
		risk_per_trade_pct REAL DEFAULT 2.0,
		risk_mode TEXT DEFAULT 'percent',
		dollar_risk_per_trade REAL DEFAULT 100,
		default_leverage INTEGER DEFAULT 2,
		max_open_trades INTEGER DEFAULT 5,
		max_balance_pct_per_trade REAL DEFAULT 0.25,
		cooldown_hours REAL DEFAULT 4,
		auto_breakeven BOOLEAN DEFAULT 1,
		auto_trailing_stop BOOLEAN DEFAULT 1,
		live_trading BOOLEAN DEFAULT 0,
		total_trades INTEGER DEFAULT 0,
		wins INTEGER DEFAULT 0,
		losses INTEGER DEFAULT 0,
		total_pnl REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(query)
	return err
}

// Find returns the user or nil when the id is unknown.
func (s *UserStore) Find(id string) (*User, error) {
	row := db.QueryRow(`
		SELECT id, paper_balance, initial_balance,
			risk_per_trade_pct, risk_mode, dollar_risk_per_trade, default_leverage,
			max_open_trades, max_balance_pct_per_trade, cooldown_hours,
			auto_breakeven, auto_trailing_stop, live_trading,
			total_trades, wins, losses, total_pnl, created_at, updated_at
		FROM users WHERE id = ?
	`, id)

	var u User
	err := row.Scan(&u.ID, &u.PaperBalance, &u.InitialBalance,
		&u.RiskPerTradePct, &u.RiskMode, &u.DollarRiskPerTrade, &u.DefaultLeverage,
		&u.MaxOpenTrades, &u.MaxBalancePercentPerTrade, &u.CooldownHours,
		&u.AutoBreakeven, &u.AutoTrailingStop, &u.LiveTrading,
		&u.TotalTrades, &u.Wins, &u.Losses, &u.TotalPnl, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureDefault creates the account if it's missing and returns the stored
// row either way. The passed user supplies the seed balance and settings.
func (s *UserStore) EnsureDefault(seed *User) (*User, error) {
	existing, err := s.Find(seed.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	_, err = db.Exec(`
		INSERT INTO users (
			id, paper_balance, initial_balance,
			risk_per_trade_pct, risk_mode, dollar_risk_per_trade, default_leverage,
			max_open_trades, max_balance_pct_per_trade, cooldown_hours,
			auto_breakeven, auto_trailing_stop, live_trading
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, seed.ID, seed.PaperBalance, seed.InitialBalance,
		seed.RiskPerTradePct, seed.RiskMode, seed.DollarRiskPerTrade, seed.DefaultLeverage,
		seed.MaxOpenTrades, seed.MaxBalancePercentPerTrade, seed.CooldownHours,
		seed.AutoBreakeven, seed.AutoTrailingStop, seed.LiveTrading)
	if err != nil {
		return nil, err
	}
	return s.Find(seed.ID)
}

// UpdateBalance applies a signed delta to the paper balance.
func (s *UserStore) UpdateBalance(id string, delta float64) error {
	_, err := db.Exec(`
		UPDATE users SET paper_balance = paper_balance + ?, updated_at = ?
		WHERE id = ?
	`, delta, time.Now(), id)
	return err
}

// UpdateStats applies a closed-trade delta to the lifetime counters.
func (s *UserStore) UpdateStats(id string, d StatsDelta) error {
	_, err := db.Exec(`
		UPDATE users SET
			total_trades = total_trades + ?,
			wins = wins + ?,
			losses = losses + ?,
			total_pnl = total_pnl + ?,
			updated_at = ?
		WHERE id = ?
	`, d.Trades, d.Wins, d.Losses, d.Pnl, time.Now(), id)
	return err
}

// UpdateSettings rewrites the tunable columns only, leaving balance and
// lifetime stats alone.
func (s *UserStore) UpdateSettings(u *User) error {
	_, err := db.Exec(`
		UPDATE users SET
			risk_per_trade_pct = ?, risk_mode = ?, dollar_risk_per_trade = ?,
			default_leverage = ?, max_open_trades = ?, max_balance_pct_per_trade = ?,
			cooldown_hours = ?, auto_breakeven = ?, auto_trailing_stop = ?,
			live_trading = ?, updated_at = ?
		WHERE id = ?
	`, u.RiskPerTradePct, u.RiskMode, u.DollarRiskPerTrade,
		u.DefaultLeverage, u.MaxOpenTrades, u.MaxBalancePercentPerTrade,
		u.CooldownHours, u.AutoBreakeven, u.AutoTrailingStop,
		u.LiveTrading, time.Now(), u.ID)
	return err
}

// ResetBalance puts the paper balance back to the given amount and clears the
// lifetime counters. Open trades are the caller's problem.
func (s *UserStore) ResetBalance(id string, balance float64) error {
	_, err := db.Exec(`
		UPDATE users SET
			paper_balance = ?, initial_balance = ?,
			total_trades = 0, wins = 0, losses = 0, total_pnl = 0,
			updated_at = ?
		WHERE id = ?
	`, balance, balance, time.Now(), id)
	return err
}

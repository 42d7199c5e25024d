package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"confluence-trader/manage"
	"confluence-trader/signal"
)

// TradeStore persists positions through their whole lifecycle: opened by the
// live loop, mutated by management actions, closed by stops or exits. Rows
// are full snapshots; Save replaces the row so callers never issue partial
// updates.
type TradeStore struct{}

func NewTradeStore() *TradeStore {
	return &TradeStore{}
}

const tradeColumns = `id, user_id, coin_id, symbol, direction, status,
	entry_price, entry_time, entry_score, strategy, regime,
	position_size, original_position_size, leverage,
	stop_loss, original_stop_loss,
	take_profit_1, take_profit_2, take_profit_3, active_tp,
	max_price_seen, min_price_seen,
	breakeven_hit, trailing_activated, reduced_by_score, taken_partial_by_score,
	partial_pnl, actions,
	exit_price, exit_time, exit_reason, pnl, pnl_percent`

// InitTables creates the trades table if it doesn't exist
func (s *TradeStore) InitTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_price REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		entry_score REAL DEFAULT 0,
		strategy TEXT DEFAULT '',
		regime TEXT DEFAULT '',
		position_size REAL NOT NULL,
		original_position_size REAL NOT NULL,
		leverage INTEGER DEFAULT 1,
		stop_loss REAL DEFAULT 0,
		original_stop_loss REAL DEFAULT 0,
		take_profit_1 REAL DEFAULT 0,
		take_profit_2 REAL DEFAULT 0,
		take_profit_3 REAL DEFAULT 0,
		active_tp INTEGER DEFAULT 1,
		max_price_seen REAL DEFAULT 0,
		min_price_seen REAL DEFAULT 0,
		breakeven_hit BOOLEAN DEFAULT 0,
		trailing_activated BOOLEAN DEFAULT 0,
		reduced_by_score BOOLEAN DEFAULT 0,
		taken_partial_by_score BOOLEAN DEFAULT 0,
		partial_pnl REAL DEFAULT 0,
		actions TEXT DEFAULT '[]',
		exit_price REAL DEFAULT 0,
		exit_time INTEGER DEFAULT 0,
		exit_reason TEXT DEFAULT '',
		pnl REAL DEFAULT 0,
		pnl_percent REAL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_exit ON trades(user_id, exit_time DESC);
	CREATE INDEX IF NOT EXISTS idx_trades_user_coin ON trades(user_id, coin_id, status);
	`
	_, err := db.Exec(query)
	return err
}

// Save writes the full trade row, assigning an id on first save.
func (s *TradeStore) Save(t *manage.Trade) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.UserID == "" {
		t.UserID = DefaultUserID
	}

	actionsJSON, err := json.Marshal(t.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.CoinID, t.Symbol, string(t.Direction), t.Status,
		t.EntryPrice, t.EntryTime, t.EntryScore, t.Strategy, t.Regime,
		t.PositionSize, t.OriginalPositionSize, t.Leverage,
		t.StopLoss, t.OriginalStopLoss,
		t.TakeProfit1, t.TakeProfit2, t.TakeProfit3, t.ActiveTP,
		t.MaxPriceSeen, t.MinPriceSeen,
		t.BreakevenHit, t.TrailingActivated, t.ReducedByScore, t.TakenPartialByScore,
		t.PartialPnl, string(actionsJSON),
		t.ExitPrice, t.ExitTime, t.ExitReason, t.Pnl, t.PnlPercent)
	return err
}

func scanTrade(row interface{ Scan(...interface{}) error }) (*manage.Trade, error) {
	var t manage.Trade
	var direction, actionsJSON string
	err := row.Scan(&t.ID, &t.UserID, &t.CoinID, &t.Symbol, &direction, &t.Status,
		&t.EntryPrice, &t.EntryTime, &t.EntryScore, &t.Strategy, &t.Regime,
		&t.PositionSize, &t.OriginalPositionSize, &t.Leverage,
		&t.StopLoss, &t.OriginalStopLoss,
		&t.TakeProfit1, &t.TakeProfit2, &t.TakeProfit3, &t.ActiveTP,
		&t.MaxPriceSeen, &t.MinPriceSeen,
		&t.BreakevenHit, &t.TrailingActivated, &t.ReducedByScore, &t.TakenPartialByScore,
		&t.PartialPnl, &actionsJSON,
		&t.ExitPrice, &t.ExitTime, &t.ExitReason, &t.Pnl, &t.PnlPercent)
	if err != nil {
		return nil, err
	}
	t.Direction = signal.Side(direction)
	if actionsJSON != "" && actionsJSON != "[]" {
		if err := json.Unmarshal([]byte(actionsJSON), &t.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions for trade %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

// Find returns the trade or nil when the id is unknown.
func (s *TradeStore) Find(id string) (*manage.Trade, error) {
	row := db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// FindOpenTrades returns open positions oldest-first, the order the live loop
// manages them in.
func (s *TradeStore) FindOpenTrades(userID string) ([]*manage.Trade, error) {
	rows, err := db.Query(`
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ? AND status = ?
		ORDER BY entry_time ASC
	`, userID, manage.StatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*manage.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// FindOpenTradeByCoin returns the open position on a coin, nil if flat.
func (s *TradeStore) FindOpenTradeByCoin(userID, coinID string) (*manage.Trade, error) {
	row := db.QueryRow(`
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ? AND coin_id = ? AND status = ?
		ORDER BY entry_time DESC LIMIT 1
	`, userID, coinID, manage.StatusOpen)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// FindClosedTrades returns closed positions newest-first.
func (s *TradeStore) FindClosedTrades(userID string, limit int) ([]*manage.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ? AND status = ?
		ORDER BY exit_time DESC LIMIT ?
	`, userID, manage.StatusClosed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*manage.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountOpen returns how many positions the user has open.
func (s *TradeStore) CountOpen(userID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM trades WHERE user_id = ? AND status = ?
	`, userID, manage.StatusOpen).Scan(&n)
	return n, err
}

// LastClosedTimes returns the most recent exit time per coin and direction.
// Keys are coinID_direction, matching risk.CooldownKey, so the result feeds
// the cooldown gate directly.
func (s *TradeStore) LastClosedTimes(userID string) (map[string]int64, error) {
	rows, err := db.Query(`
		SELECT coin_id, direction, MAX(exit_time)
		FROM trades WHERE user_id = ? AND status = ?
		GROUP BY coin_id, direction
	`, userID, manage.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make(map[string]int64)
	for rows.Next() {
		var coinID, direction string
		var exitTime int64
		if err := rows.Scan(&coinID, &direction, &exitTime); err != nil {
			return nil, err
		}
		times[coinID+"_"+direction] = exitTime
	}
	return times, rows.Err()
}

// TradeStats is the aggregate performance of a user's closed trades.
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnl     float64 `json:"total_pnl"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	BestTrade    float64 `json:"best_trade"`
	WorstTrade   float64 `json:"worst_trade"`
}

// Stats aggregates closed-trade performance for a user.
func (s *TradeStore) Stats(userID string) (*TradeStats, error) {
	stats := &TradeStats{}
	var grossProfit, grossLoss float64

	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl <= 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN pnl ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN -pnl ELSE 0 END), 0),
			COALESCE(MAX(pnl), 0),
			COALESCE(MIN(pnl), 0)
		FROM trades WHERE user_id = ? AND status = ?
	`, userID, manage.StatusClosed).Scan(
		&stats.TotalTrades, &stats.Wins, &stats.Losses, &stats.TotalPnl,
		&grossProfit, &grossLoss, &stats.BestTrade, &stats.WorstTrade)
	if err != nil {
		return nil, err
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if stats.Wins > 0 {
		stats.AvgWin = grossProfit / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = grossLoss / float64(stats.Losses)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		stats.ProfitFactor = grossProfit
	}
	return stats, nil
}

// CoinStats is per-coin closed-trade performance.
type CoinStats struct {
	CoinID      string  `json:"coin_id"`
	Symbol      string  `json:"symbol"`
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	TotalPnl    float64 `json:"total_pnl"`
	AvgPnl      float64 `json:"avg_pnl"`
}

// StatsByCoin breaks closed-trade performance down per coin, best pnl first.
func (s *TradeStore) StatsByCoin(userID string) ([]CoinStats, error) {
	rows, err := db.Query(`
		SELECT coin_id, symbol, COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(pnl), 0)
		FROM trades WHERE user_id = ? AND status = ?
		GROUP BY coin_id, symbol
		ORDER BY SUM(pnl) DESC
	`, userID, manage.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoinStats
	for rows.Next() {
		var cs CoinStats
		if err := rows.Scan(&cs.CoinID, &cs.Symbol, &cs.TotalTrades, &cs.Wins, &cs.TotalPnl, &cs.AvgPnl); err != nil {
			return nil, err
		}
		if cs.TotalTrades > 0 {
			cs.WinRate = float64(cs.Wins) / float64(cs.TotalTrades) * 100
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ExitReasonCounts tallies closed trades by exit reason.
func (s *TradeStore) ExitReasonCounts(userID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT exit_reason, COUNT(*)
		FROM trades WHERE user_id = ? AND status = ?
		GROUP BY exit_reason
	`, userID, manage.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[reason] = n
	}
	return counts, rows.Err()
}

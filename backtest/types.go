package backtest

import (
	"time"

	"confluence-trader/config"
	"confluence-trader/manage"
)

// RunStatus is the lifecycle state of one backtest run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// walkStartBar is the first bar index the walker evaluates; everything
// before it only feeds indicators.
const walkStartBar = 50

// btcRecheckBars is how often the BTC overlay decision is recomputed.
const btcRecheckBars = 4

// Config holds one run's parameters. Zero-valued knobs are filled from the
// app defaults by Validate.
type Config struct {
	Coins           []string      `json:"coins"`
	StartMs         int64         `json:"start_ms"`
	EndMs           int64         `json:"end_ms"`
	InitialBalance  float64       `json:"initial_balance"`
	RiskPerTrade    float64       `json:"risk_per_trade"` // fraction, 0.02 = 2%
	Leverage        int           `json:"leverage"`
	WarmupBars      int           `json:"warmup_bars"`
	ParallelBatch   int           `json:"parallel_batch"`
	PerCoinTimeout  time.Duration `json:"per_coin_timeout"`
	CloseBasedStops bool          `json:"close_based_stops"`
	PathPolicy      string        `json:"path_policy,omitempty"`
	Seed            int64         `json:"seed,omitempty"`
}

// Validate normalizes the config against the app-level backtest defaults.
func (c *Config) Validate(defaults config.BacktestConfig) error {
	if c.InitialBalance <= 0 {
		c.InitialBalance = defaults.InitialBalance
	}
	if c.RiskPerTrade <= 0 {
		c.RiskPerTrade = defaults.RiskPerTrade
	}
	if c.Leverage <= 0 {
		c.Leverage = defaults.DefaultLeverage
	}
	if c.WarmupBars <= 0 {
		c.WarmupBars = defaults.WarmupBars
	}
	if c.ParallelBatch <= 0 {
		c.ParallelBatch = defaults.ParallelBatch
	}
	if c.PerCoinTimeout <= 0 {
		c.PerCoinTimeout = defaults.PerCoinTimeout
	}
	if c.StartMs <= 0 || c.EndMs <= c.StartMs {
		return errInvalidRange
	}
	return nil
}

// EquityPoint is one sample of the equity curve, taken at each bar close.
type EquityPoint struct {
	Timestamp   int64   `json:"timestamp"`
	Equity      float64 `json:"equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
}

// StrategyPerf is one strategy's record within a run.
type StrategyPerf struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	TotalPnl float64 `json:"total_pnl"`
}

// Summary is the aggregate performance of a set of closed trades.
type Summary struct {
	TotalTrades       int                     `json:"total_trades"`
	Wins              int                     `json:"wins"`
	Losses            int                     `json:"losses"`
	WinRate           float64                 `json:"win_rate"`
	TotalPnl          float64                 `json:"total_pnl"`
	ProfitFactor      float64                 `json:"profit_factor"`
	MaxDrawdown       float64                 `json:"max_drawdown"`
	MaxDrawdownPct    float64                 `json:"max_drawdown_pct"`
	SharpeRatio       float64                 `json:"sharpe_ratio"`
	FinalEquity       float64                 `json:"final_equity"`
	StrategyBreakdown map[string]StrategyPerf `json:"strategy_breakdown,omitempty"`
	ActionCounts      map[string]int          `json:"action_counts,omitempty"`
	ExitReasons       map[string]int          `json:"exit_reasons,omitempty"`
}

// CoinResult is the outcome of one coin's walk. A failed coin carries Error
// and empty trades so the batch can still aggregate.
type CoinResult struct {
	CoinID      string         `json:"coin_id"`
	Trades      []manage.Trade `json:"trades"`
	EquityCurve []EquityPoint  `json:"equity_curve"`
	Summary     Summary        `json:"summary"`
	Error       string         `json:"error,omitempty"`
}

// MonthRange is one calendar month slice of the tested window, UTC.
type MonthRange struct {
	Label   string `json:"label"` // "2024-03"
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// CoinRank is one row of the per-coin leaderboard.
type CoinRank struct {
	CoinID   string  `json:"coin_id"`
	TotalPnl float64 `json:"total_pnl"`
	WinRate  float64 `json:"win_rate"`
	Trades   int     `json:"trades"`
}

// Result is one finished run: per-coin results plus the cross-coin
// aggregate.
type Result struct {
	RunID       string        `json:"run_id"`
	StartMs     int64         `json:"start_ms"`
	EndMs       int64         `json:"end_ms"`
	MonthRanges []MonthRange  `json:"month_ranges"`
	Summary     Summary       `json:"summary"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Top10       []CoinRank    `json:"top10"`
	Coins       []CoinResult  `json:"coins"`
	FinishedAt  int64         `json:"finished_at"`
}

// RunMetadata is the live view of a run the API polls.
type RunMetadata struct {
	ID             string    `json:"id"`
	Status         RunStatus `json:"status"`
	Coins          []string  `json:"coins"`
	StartMs        int64     `json:"start_ms"`
	EndMs          int64     `json:"end_ms"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	Progress       float64   `json:"progress"`
	CompletedCoins int       `json:"completed_coins"`
	TotalCoins     int       `json:"total_coins"`
	Error          string    `json:"error,omitempty"`
}

package signal

import (
	"confluence-trader/config"
	"confluence-trader/market"
)

// Side is the trade direction a decision resolves to.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

// Valid signal constants
const (
	SignalStrongBuy  = "STRONG_BUY"
	SignalBuy        = "BUY"
	SignalHold       = "HOLD"
	SignalSell       = "SELL"
	SignalStrongSell = "STRONG_SELL"
)

// Direction is the per-timeframe bias derived from bull/bear points.
type Direction string

const (
	DirBull    Direction = "BULL"
	DirBear    Direction = "BEAR"
	DirNeutral Direction = "NEUTRAL"
)

// Regime classifies current market conditions from the higher timeframes.
type Regime string

const (
	RegimeTrending    Regime = "trending"
	RegimeRanging     Regime = "ranging"
	RegimeVolatile    Regime = "volatile"
	RegimeCompression Regime = "compression"
	RegimeMixed       Regime = "mixed"
)

// Valid strategy constants
const (
	StrategyTrendFollow = "trend_follow"
	StrategyBreakout    = "breakout"
	StrategyMeanRevert  = "mean_revert"
	StrategyMomentum    = "momentum"
	StrategyScalping    = "scalping"
	StrategySwing       = "swing"
	StrategyPosition    = "position"
)

// ScoreBreakdown holds the six scoring dimensions, blended across timeframes
// with the confluence weights. Trend/momentum/volume/structure are 0-20,
// volatility and riskQuality 0-10.
type ScoreBreakdown struct {
	Trend       float64 `json:"trend"`
	Momentum    float64 `json:"momentum"`
	Volume      float64 `json:"volume"`
	Structure   float64 `json:"structure"`
	Volatility  float64 `json:"volatility"`
	RiskQuality float64 `json:"risk_quality"`
}

// TopStrategy is one row of the ranked strategy table kept on a decision.
type TopStrategy struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Blocked bool    `json:"blocked,omitempty"`
}

// TFSummary is the per-timeframe slice of the analysis kept on a decision
// for display and persistence.
type TFSummary struct {
	Score     float64   `json:"score"`
	Direction Direction `json:"direction"`
	Trend     string    `json:"trend"`
	RSI       float64   `json:"rsi"`
	ADX       float64   `json:"adx"`
	ATRPct    float64   `json:"atr_pct"`
}

// Decision is the full output of one evaluation for one coin at one bar.
// It is produced once and never mutated.
type Decision struct {
	CoinID          string  `json:"coin_id"`
	Side            Side    `json:"side"`
	Signal          string  `json:"signal"`
	Score           float64 `json:"score"`
	Weak            bool    `json:"weak,omitempty"`
	ConfluenceLevel int     `json:"confluence_level"`
	Regime          Regime  `json:"regime"`
	Strategy        string  `json:"strategy,omitempty"`

	Entry       float64 `json:"entry,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit1 float64 `json:"take_profit_1,omitempty"`
	TakeProfit2 float64 `json:"take_profit_2,omitempty"`
	TakeProfit3 float64 `json:"take_profit_3,omitempty"`
	ATR         float64 `json:"atr,omitempty"`

	TopStrategies []TopStrategy        `json:"top_strategies,omitempty"`
	Reasoning     []string             `json:"reasoning"`
	Breakdown     ScoreBreakdown       `json:"score_breakdown"`
	Timeframes    map[string]TFSummary `json:"timeframes,omitempty"`
	EvaluatedAt   int64                `json:"evaluated_at"`
}

// StrategyStat is the learned per-strategy record fed back from closed trades.
type StrategyStat struct {
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	TotalPnl     float64 `json:"total_pnl"`
}

// Options carries the cross-coin context for one evaluation. BarTime, when
// set, pins the session filter and the decision timestamp so replays are
// reproducible; live callers leave it zero.
type Options struct {
	StrategyWeights config.StrategyWeights
	StrategyStats   map[string]StrategyStat
	BTCSignal       string
	BTCDirection    Direction
	FundingRates    map[string]float64
	BarTime         int64

	PriceActionConfluence bool
	VolatilityFilter      bool
	VolumeConfirmation    bool
}

// Input bundles everything Evaluate needs for one coin.
type Input struct {
	Coin    market.CoinMeta
	Quote   market.Quote
	Candles market.CandleSet
	History []market.PricePoint
	Options Options
}

// ActiveSide maps a signal constant to its trade side.
func ActiveSide(sig string) Side {
	switch sig {
	case SignalStrongBuy, SignalBuy:
		return SideLong
	case SignalStrongSell, SignalSell:
		return SideShort
	default:
		return SideNone
	}
}

package manage

import "confluence-trader/signal"

// Trade status constants
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
	StatusError  = "ERROR"
)

// Action type constants. PP covers both take-profit partials and the
// score-based partial; the Reason field carries which.
const (
	ActionBreakeven = "BE"
	ActionTrailing  = "TS"
	ActionLock      = "LOCK"
	ActionReduce    = "RP"
	ActionPartial   = "PP"
	ActionStopLoss  = "SL"
	ActionExit      = "EXIT"
	ActionError     = "ERROR"
)

// Exit reason constants
const (
	ExitReasonSL        = "SL"
	ExitReasonTP1       = "TP1"
	ExitReasonTP2       = "TP2"
	ExitReasonTP3       = "TP3"
	ExitReasonScoreExit = "SCORE_EXIT"
	ExitReasonEnd       = "END"
	ExitReasonManual    = "MANUAL"
)

// Action is one entry of a trade's append-only action log. Prices are
// trigger prices; execution adjusts fills afterwards.
type Action struct {
	Type    string  `json:"type"`
	Time    int64   `json:"time"`
	Price   float64 `json:"price"`
	Portion float64 `json:"portion,omitempty"` // fraction of original size closed
	NewStop float64 `json:"new_stop,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Trade is the mutable state of one position. The management engine returns
// updated copies; callers own persistence.
type Trade struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	CoinID string `json:"coin_id"`
	Symbol string `json:"symbol"`

	Direction signal.Side `json:"direction"`
	Status    string      `json:"status"`

	EntryPrice float64 `json:"entry_price"`
	EntryTime  int64   `json:"entry_time"`
	EntryScore float64 `json:"entry_score"`
	Strategy   string  `json:"strategy"`
	Regime     string  `json:"regime"`

	PositionSize         float64 `json:"position_size"` // current notional USD
	OriginalPositionSize float64 `json:"original_position_size"`
	Leverage             int     `json:"leverage"`

	StopLoss         float64 `json:"stop_loss"`
	OriginalStopLoss float64 `json:"original_stop_loss"`
	TakeProfit1      float64 `json:"take_profit_1"`
	TakeProfit2      float64 `json:"take_profit_2,omitempty"`
	TakeProfit3      float64 `json:"take_profit_3,omitempty"`
	ActiveTP         int     `json:"active_tp"` // next take-profit to watch, 1-based

	MaxPriceSeen float64 `json:"max_price_seen"`
	MinPriceSeen float64 `json:"min_price_seen"`

	BreakevenHit        bool `json:"breakeven_hit"`
	TrailingActivated   bool `json:"trailing_activated"`
	ReducedByScore      bool `json:"reduced_by_score"`
	TakenPartialByScore bool `json:"taken_partial_by_score"`

	PartialPnl float64  `json:"partial_pnl"` // realized pnl from partials, USD
	Actions    []Action `json:"actions,omitempty"`

	ExitPrice  float64 `json:"exit_price,omitempty"`
	ExitTime   int64   `json:"exit_time,omitempty"`
	ExitReason string  `json:"exit_reason,omitempty"`
	Pnl        float64 `json:"pnl"`
	PnlPercent float64 `json:"pnl_percent"`
}

// Risk returns the original per-unit stop distance the R multiples are
// measured against.
func (t *Trade) Risk() float64 {
	r := t.EntryPrice - t.OriginalStopLoss
	if t.Direction == signal.SideShort {
		r = t.OriginalStopLoss - t.EntryPrice
	}
	if r < 0 {
		r = -r
	}
	return r
}

// PnlUSD is the profit on a notional slice closed at price.
func (t *Trade) PnlUSD(price, notional float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	move := price/t.EntryPrice - 1
	if t.Direction == signal.SideShort {
		move = -move
	}
	return notional * move
}

// PnlPct is the leveraged unrealized return at price, in percent of margin.
func (t *Trade) PnlPct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	move := price/t.EntryPrice - 1
	if t.Direction == signal.SideShort {
		move = -move
	}
	return move * float64(t.Leverage) * 100
}

// favorableMove is how far price has gone in the trade's direction, in price
// units. Negative when under water.
func (t *Trade) favorableMove(price float64) float64 {
	if t.Direction == signal.SideShort {
		return t.EntryPrice - price
	}
	return price - t.EntryPrice
}

// activeTakeProfit returns the level the trade is currently watching, or 0
// when every configured target is done.
func (t *Trade) activeTakeProfit() float64 {
	switch t.ActiveTP {
	case 1:
		return t.TakeProfit1
	case 2:
		return t.TakeProfit2
	case 3:
		return t.TakeProfit3
	}
	return 0
}

// lastTP reports whether level is the final configured take-profit.
func (t *Trade) lastTP(level int) bool {
	switch level {
	case 1:
		return t.TakeProfit2 <= 0
	case 2:
		return t.TakeProfit3 <= 0
	case 3:
		return true
	}
	return false
}

// IsValidStopMove checks a proposed stop only ever tightens: up for longs,
// down for shorts, and stays positive.
func IsValidStopMove(t *Trade, newStop float64) bool {
	if newStop <= 0 {
		return false
	}
	if t.Direction == signal.SideShort {
		return newStop < t.StopLoss
	}
	return newStop > t.StopLoss
}

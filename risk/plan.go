package risk

import (
	"fmt"
	"math"

	"confluence-trader/config"
	"confluence-trader/manage"
	"confluence-trader/signal"
)

// Order type constants
const (
	OrderMarket    = "MARKET"
	OrderLimit     = "LIMIT"
	OrderStop      = "STOP"
	OrderStopLimit = "STOP_LIMIT"
)

// TP mode constants
const (
	TpModePartial = "partial"
	TpModeFull    = "full"
)

const (
	maxConfidence  = 1.2
	slDistFloorPct = 0.02
	balanceBuffer  = 0.5 // USD kept back from every entry
)

// OrderIntent is a sized, leveled order ready for an execution adapter.
// Size is notional USD; margin is Size/Leverage.
type OrderIntent struct {
	CoinID           string      `json:"coin_id"`
	Symbol           string      `json:"symbol"`
	Direction        signal.Side `json:"direction"`
	OrderType        string      `json:"order_type"`
	Size             float64     `json:"size"`
	Entry            float64     `json:"entry"`
	StopLoss         float64     `json:"stop_loss"`
	TakeProfit1      float64     `json:"take_profit_1"`
	TakeProfit2      float64     `json:"take_profit_2,omitempty"`
	TakeProfit3      float64     `json:"take_profit_3,omitempty"`
	Leverage         int         `json:"leverage"`
	TpMode           string      `json:"tp_mode"`
	TrailingDistance float64     `json:"trailing_distance,omitempty"` // 1R in price units, for exchange-native trails
	Score            float64     `json:"score"`
	Strategy         string      `json:"strategy"`
	Regime           string      `json:"regime"`
}

// Context is the portfolio view an entry is judged against. LastClosed maps
// CooldownKey(coin, direction) to the close time of the most recent trade,
// in epoch ms.
type Context struct {
	Balance    float64
	OpenTrades []*manage.Trade
	LastClosed map[string]int64
	Now        int64
}

// CooldownKey builds the per-(coin, direction) cooldown map key.
func CooldownKey(coinID string, side signal.Side) string {
	return coinID + "_" + string(side)
}

// Engine turns decisions into order intents under the configured budget
// rules.
type Engine struct {
	cfg config.RiskConfig
}

func NewEngine(cfg config.RiskConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Plan sizes an entry for the decision, or rejects it. A non-empty reason is
// a user-facing message naming the rule that blocked the entry; a nil intent
// with an empty reason means the decision simply isn't tradeable (no side,
// unusable levels).
func (e *Engine) Plan(d signal.Decision, ctx Context) (*OrderIntent, string) {
	if d.Side == signal.SideNone || d.Entry <= 0 {
		return nil, ""
	}
	long := d.Side == signal.SideLong

	for _, t := range ctx.OpenTrades {
		if t == nil || t.Status != manage.StatusOpen {
			continue
		}
		if t.CoinID == d.CoinID && t.Direction == d.Side {
			return nil, fmt.Sprintf("Already have an open %s on %s", d.Side, d.CoinID)
		}
	}

	if e.cfg.CooldownHours > 0 {
		if closedAt, ok := ctx.LastClosed[CooldownKey(d.CoinID, d.Side)]; ok {
			cooldownMs := int64(e.cfg.CooldownHours * 3600000)
			if elapsed := ctx.Now - closedAt; elapsed < cooldownMs {
				waitH := int(math.Ceil(float64(cooldownMs-elapsed) / 3600000))
				return nil, fmt.Sprintf("In cooldown, wait %dh", waitH)
			}
		}
	}

	if e.cfg.MaxOpenTrades > 0 {
		open := 0
		for _, t := range ctx.OpenTrades {
			if t != nil && t.Status == manage.StatusOpen {
				open++
			}
		}
		if open >= e.cfg.MaxOpenTrades {
			return nil, "Max open trades reached"
		}
	}

	if ctx.Balance <= balanceBuffer {
		return nil, fmt.Sprintf("Insufficient balance: need $%.2f, have $%.2f", balanceBuffer, ctx.Balance)
	}

	leverage := e.cfg.DefaultLeverage
	if leverage < 1 {
		leverage = 1
	}
	entry := d.Entry
	sl, tp1, tp2, tp3 := repairLevels(long, entry, d.StopLoss, d.TakeProfit1, d.TakeProfit2, d.TakeProfit3)
	if tp1 <= 0 {
		return nil, ""
	}

	riskAmount := ctx.Balance * e.cfg.RiskPerTradePct / 100
	if e.cfg.RiskMode == "dollar" && e.cfg.DollarRiskPerTrade > 0 {
		riskAmount = e.cfg.DollarRiskPerTrade
	}
	if riskAmount <= 0 {
		return nil, ""
	}

	origDist := math.Abs(entry-sl) / entry
	slDist := origDist
	if slDist <= 0 {
		slDist = slDistFloorPct
	}
	if e.cfg.EnforceMinAtrStop && d.ATR > 0 {
		if minDist := e.cfg.MinSlAtrMult * d.ATR / entry; slDist < minDist {
			slDist = minDist
		}
	}
	if e.cfg.EnforceMaxStopCap && e.cfg.MaxSlDistancePct > 0 && slDist > e.cfg.MaxSlDistancePct {
		slDist = e.cfg.MaxSlDistancePct
	}
	// A floored or capped distance moves the stop with it so the fill and the
	// size agree on risk.
	if slDist != origDist {
		if long {
			sl = entry * (1 - slDist)
		} else {
			sl = entry * (1 + slDist)
		}
	}

	size := riskAmount / slDist * float64(leverage)
	size *= math.Min(maxConfidence, 0.5+d.Score/100)

	if e.cfg.MaxBalancePercentPerTrade > 0 {
		if maxNotional := e.cfg.MaxBalancePercentPerTrade * ctx.Balance * float64(leverage); size > maxNotional {
			size = maxNotional
		}
	}

	needed := size/float64(leverage) + size*e.cfg.MakerFee
	fit := (ctx.Balance - balanceBuffer) / (1/float64(leverage) + e.cfg.MakerFee)
	if fit <= 0 {
		return nil, fmt.Sprintf("Insufficient balance: need $%.2f, have $%.2f", needed, ctx.Balance)
	}
	if size > fit {
		size = fit
	}
	if size <= 0 {
		return nil, ""
	}

	tpMode := TpModeFull
	if tp2 > 0 {
		tpMode = TpModePartial
	}
	return &OrderIntent{
		CoinID:           d.CoinID,
		Direction:        d.Side,
		OrderType:        OrderMarket,
		Size:             size,
		Entry:            entry,
		StopLoss:         sl,
		TakeProfit1:      tp1,
		TakeProfit2:      tp2,
		TakeProfit3:      tp3,
		Leverage:         leverage,
		TpMode:           tpMode,
		TrailingDistance: math.Abs(entry - sl),
		Score:            d.Score,
		Strategy:         d.Strategy,
		Regime:           string(d.Regime),
	}, ""
}

// repairLevels enforces the per-direction level invariants: a wrong-side stop
// is reset to a 2% default, wrong-side take-profits are dropped and the rest
// promoted to keep TP1 first.
func repairLevels(long bool, entry, sl, tp1, tp2, tp3 float64) (float64, float64, float64, float64) {
	if long {
		if sl <= 0 || sl >= entry {
			sl = entry * (1 - slDistFloorPct)
		}
	} else {
		if sl <= 0 || sl <= entry {
			sl = entry * (1 + slDistFloorPct)
		}
	}

	var kept []float64
	for _, tp := range []float64{tp1, tp2, tp3} {
		if tp <= 0 {
			continue
		}
		if long && tp > entry || !long && tp < entry {
			kept = append(kept, tp)
		}
	}
	out := [3]float64{}
	copy(out[:], kept)
	return sl, out[0], out[1], out[2]
}

package sim

import (
	"math"
	"math/rand"

	"confluence-trader/config"
	"confluence-trader/risk"
	"confluence-trader/signal"
)

// Path policy constants
const (
	PathWorstCase    = "WORST_CASE"
	PathBestCase     = "BEST_CASE"
	PathRandomSeeded = "RANDOM_SEEDED"
	PathMidpoint     = "MIDPOINT"
)

// Config tunes the paper execution model. Slippage bps for taker fills is
// max(MinSlipBps, ATRCoeff * ATR% * sizeFactor * SizeMult) with sizeFactor =
// 1 + notional/SizeRefUSD.
type Config struct {
	MinSlipBps float64
	ATRCoeff   float64
	SizeRefUSD float64
	SizeMult   float64
	MakerFee   float64
	TakerFee   float64
	Spread     float64 // penetration a resting limit needs before it fills
	PathPolicy string
	Seed       int64
}

// DefaultConfig derives the execution model from the risk settings.
func DefaultConfig(rc config.RiskConfig) Config {
	return Config{
		MinSlipBps: rc.SlippageBps,
		ATRCoeff:   2.0,
		SizeRefUSD: 100000,
		SizeMult:   1.0,
		MakerFee:   rc.MakerFee,
		TakerFee:   rc.TakerFee,
		Spread:     0.0005,
		PathPolicy: PathMidpoint,
	}
}

// Snapshot is the bar the order executes against. Price is the reference for
// market fills (the backtester passes the next bar's open).
type Snapshot struct {
	Price float64
	High  float64
	Low   float64
	Open  float64
	ATR   float64
	Time  int64
}

// Fill is the outcome of one execution attempt. FillQty is notional USD.
type Fill struct {
	Filled      bool    `json:"filled"`
	FillPrice   float64 `json:"fill_price"`
	FillQty     float64 `json:"fill_qty"`
	Fees        float64 `json:"fees"`
	SlippageBps float64 `json:"slippage_bps"`
	OrderType   string  `json:"order_type"`
}

// Execute attempts to open the order intent against one bar. Market orders
// always fill at the slipped reference price; limit, stop and stop-limit
// orders fill only when the bar reaches them.
func Execute(order *risk.OrderIntent, snap Snapshot, cfg Config) Fill {
	if order == nil || order.Size <= 0 || snap.Price <= 0 {
		return Fill{}
	}
	buy := order.Direction == signal.SideLong

	switch order.OrderType {
	case risk.OrderLimit:
		if !limitReached(buy, order.Entry, snap, cfg) {
			return Fill{OrderType: risk.OrderLimit}
		}
		return makerFill(order.Entry, order.Size, risk.OrderLimit, cfg)
	case risk.OrderStop:
		if !stopTriggered(buy, order.Entry, snap) {
			return Fill{OrderType: risk.OrderStop}
		}
		return takerFill(buy, order.Entry, order.Size, risk.OrderStop, snap, cfg)
	case risk.OrderStopLimit:
		if !stopTriggered(buy, order.Entry, snap) || !limitReached(buy, order.Entry, snap, cfg) {
			return Fill{OrderType: risk.OrderStopLimit}
		}
		return makerFill(order.Entry, order.Size, risk.OrderStopLimit, cfg)
	default:
		return takerFill(buy, snap.Price, order.Size, risk.OrderMarket, snap, cfg)
	}
}

// Close reprices a position exit at its trigger price. Take-profit exits rest
// as reduce-only limits (maker, no slip); stops and forced exits cross the
// book (taker, slipped against the position).
func Close(side signal.Side, trigger, notional float64, maker bool, snap Snapshot, cfg Config) Fill {
	if trigger <= 0 || notional <= 0 {
		return Fill{}
	}
	if maker {
		return makerFill(trigger, notional, risk.OrderLimit, cfg)
	}
	// Closing a long sells, closing a short buys.
	return takerFill(side == signal.SideShort, trigger, notional, risk.OrderMarket, snap, cfg)
}

// FundingPayment is the hourly funding transfer for an open position, as a
// balance delta. Positive rate means longs pay shorts.
func FundingPayment(side signal.Side, notional, rate float64) float64 {
	p := notional * rate
	if side == signal.SideShort {
		return p
	}
	return -p
}

func slipBps(notional float64, snap Snapshot, cfg Config) float64 {
	atrPct := 0.0
	if snap.ATR > 0 && snap.Price > 0 {
		atrPct = snap.ATR / snap.Price * 100
	}
	sizeFactor := 1.0
	if cfg.SizeRefUSD > 0 {
		sizeFactor = 1 + notional/cfg.SizeRefUSD
	}
	mult := cfg.SizeMult
	if mult <= 0 {
		mult = 1
	}
	return math.Max(cfg.MinSlipBps, cfg.ATRCoeff*atrPct*sizeFactor*mult)
}

func takerFill(buy bool, price, notional float64, orderType string, snap Snapshot, cfg Config) Fill {
	bps := slipBps(notional, snap, cfg)
	slip := bps / 10000
	fill := price / (1 + slip)
	if buy {
		fill = price * (1 + slip)
	}
	return Fill{
		Filled:      true,
		FillPrice:   fill,
		FillQty:     notional,
		Fees:        notional * cfg.TakerFee,
		SlippageBps: bps,
		OrderType:   orderType,
	}
}

func makerFill(price, notional float64, orderType string, cfg Config) Fill {
	return Fill{
		Filled:    true,
		FillPrice: price,
		FillQty:   notional,
		Fees:      notional * cfg.MakerFee,
		OrderType: orderType,
	}
}

func limitReached(buy bool, limit float64, snap Snapshot, cfg Config) bool {
	if limit <= 0 {
		return false
	}
	if buy {
		return snap.Low <= limit*(1-cfg.Spread)
	}
	return snap.High >= limit*(1+cfg.Spread)
}

func stopTriggered(buy bool, stop float64, snap Snapshot) bool {
	if stop <= 0 {
		return false
	}
	if buy {
		return snap.High >= stop
	}
	return snap.Low <= stop
}

// PathResolver decides which of two intrabar levels traded first when one bar
// spans both a stop and a take-profit.
type PathResolver struct {
	policy string
	rng    *rand.Rand
}

func NewPathResolver(policy string, seed int64) *PathResolver {
	pr := &PathResolver{policy: policy}
	if policy == PathRandomSeeded {
		pr.rng = rand.New(rand.NewSource(seed))
	}
	return pr
}

// StopFirst reports whether the stop traded before the take-profit. The
// default policy reads the bar's open against the stop/TP midpoint, matching
// the management engine's conflict rule.
func (p *PathResolver) StopFirst(open float64, long bool, stop, tp float64) bool {
	switch p.policy {
	case PathWorstCase:
		return true
	case PathBestCase:
		return false
	case PathRandomSeeded:
		return p.rng.Float64() < 0.5
	}
	mid := (stop + tp) / 2
	if long {
		return open <= mid
	}
	return open >= mid
}

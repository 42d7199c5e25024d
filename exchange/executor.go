package exchange

import (
	"context"

	"confluence-trader/manage"
	"confluence-trader/risk"
	"confluence-trader/sim"
)

// OrderFill is what an executor reports back for an entry or exit. Notional
// and Fees are USD; callers book the fees against realized pnl.
type OrderFill struct {
	Price       float64 `json:"price"`
	Notional    float64 `json:"notional"`
	Fees        float64 `json:"fees"`
	SlippageBps float64 `json:"slippage_bps"`
}

// Executor places and unwinds positions for the live loop. The paper
// implementation fills through the execution model; the Binance one routes
// real futures orders. A nil fill with nil error means the order did not
// fill (resting limit, zero size).
type Executor interface {
	Name() string

	// PlaceOrder opens the intent. snap carries the reference price and ATR
	// for the paper fill model.
	PlaceOrder(ctx context.Context, intent *risk.OrderIntent, snap sim.Snapshot) (*OrderFill, error)

	// ClosePosition unwinds notional USD of the trade at the trigger price.
	// maker marks take-profit exits that rest as limits.
	ClosePosition(ctx context.Context, t *manage.Trade, notional, trigger float64, maker bool, snap sim.Snapshot) (*OrderFill, error)

	// UpdateStopLoss moves the protective stop for the trade.
	UpdateStopLoss(ctx context.Context, t *manage.Trade, stop float64) error

	// CloseAllPositions flattens everything resting on the venue.
	CloseAllPositions(ctx context.Context) error
}

// PaperExecutor fills orders through the execution model against the caller's
// snapshot. It holds no position state; trades live in the repository.
type PaperExecutor struct {
	cfg sim.Config
}

func NewPaperExecutor(cfg sim.Config) *PaperExecutor {
	return &PaperExecutor{cfg: cfg}
}

func (p *PaperExecutor) Name() string { return "paper" }

func (p *PaperExecutor) PlaceOrder(ctx context.Context, intent *risk.OrderIntent, snap sim.Snapshot) (*OrderFill, error) {
	fill := sim.Execute(intent, snap, p.cfg)
	if !fill.Filled {
		return nil, nil
	}
	return &OrderFill{
		Price:       fill.FillPrice,
		Notional:    fill.FillQty,
		Fees:        fill.Fees,
		SlippageBps: fill.SlippageBps,
	}, nil
}

func (p *PaperExecutor) ClosePosition(ctx context.Context, t *manage.Trade, notional, trigger float64, maker bool, snap sim.Snapshot) (*OrderFill, error) {
	fill := sim.Close(t.Direction, trigger, notional, maker, snap, p.cfg)
	if !fill.Filled {
		return nil, nil
	}
	return &OrderFill{
		Price:       fill.FillPrice,
		Notional:    fill.FillQty,
		Fees:        fill.Fees,
		SlippageBps: fill.SlippageBps,
	}, nil
}

// Paper stops live in the trade record; the management engine enforces them.
func (p *PaperExecutor) UpdateStopLoss(ctx context.Context, t *manage.Trade, stop float64) error {
	return nil
}

// Nothing rests on a venue in paper mode.
func (p *PaperExecutor) CloseAllPositions(ctx context.Context) error {
	return nil
}

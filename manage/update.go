package manage

import (
	"fmt"

	"confluence-trader/config"
	"confluence-trader/signal"
)

// Snapshot is one tick of market context for an open trade. High/Low/Open
// describe the bar when known (backtest bars, candle ticks); quote-only
// ticks leave them zero and everything falls back to Price. Recheck is the
// fresh decision on the re-check cadence, nil otherwise.
type Snapshot struct {
	Price           float64
	High            float64
	Low             float64
	Open            float64
	Timestamp       int64
	Recheck         *signal.Decision
	CloseBasedStops bool
}

// nearTPPct is the tolerance for "came within reach of TP1" in the
// score-based partial: best price within 0.5% of the target.
const nearTPPct = 0.005

// Take-profit portions of the original position, by level. The final
// configured level always closes the remainder.
var tpPortions = [4]float64{0, 0.40, 0.30, 0.30}

// Score re-check thresholds.
const (
	scoreExitDrop        = -45.0
	scoreExitFlippedDrop = -40.0
	scoreExitMaxPnl      = -8.0
	scoreReduceDrop      = -25.0
	scoreReduceFlipDrop  = -20.0
	scoreReducePortion   = 0.5
	scorePartialPortion  = 1.0 / 3.0
)

// Update advances one open trade against one snapshot and returns the
// actions taken plus the updated trade. Pure: no I/O, no clock reads.
//
// Evaluation order: breakeven, trailing stop, lock-in, score re-check,
// stop-loss, take-profits. A close ends evaluation for the tick. Prices on
// actions are trigger prices; execution layers reprice fills.
func Update(t Trade, snap Snapshot, cfg config.ManageConfig) ([]Action, Trade) {
	if t.Status != StatusOpen || snap.Price <= 0 {
		return nil, t
	}
	if t.ActiveTP == 0 {
		t.ActiveTP = 1
	}
	long := t.Direction == signal.SideLong

	hi, lo := snap.High, snap.Low
	if hi <= 0 {
		hi = snap.Price
	}
	if lo <= 0 {
		lo = snap.Price
	}
	if hi > t.MaxPriceSeen {
		t.MaxPriceSeen = hi
	}
	if t.MinPriceSeen == 0 || lo < t.MinPriceSeen {
		t.MinPriceSeen = lo
	}

	var actions []Action
	risk := t.Risk()

	record := func(a Action) {
		actions = append(actions, a)
		t.Actions = append(t.Actions, a)
	}
	fail := func(reason string) ([]Action, Trade) {
		t.Status = StatusError
		record(Action{Type: ActionError, Time: snap.Timestamp, Price: snap.Price, Reason: reason})
		return actions, t
	}
	moveStop := func(newStop float64, typ, reason string) bool {
		if !IsValidStopMove(&t, newStop) {
			return false
		}
		t.StopLoss = newStop
		record(Action{Type: typ, Time: snap.Timestamp, Price: snap.Price, NewStop: newStop, Reason: reason})
		return true
	}
	closeTrade := func(price float64, actionType, reason string) ([]Action, Trade) {
		remaining := t.PositionSize
		t.Pnl = t.PartialPnl + t.PnlUSD(price, remaining)
		if t.OriginalPositionSize > 0 && t.Leverage > 0 {
			margin := t.OriginalPositionSize / float64(t.Leverage)
			t.PnlPercent = t.Pnl / margin * 100
		}
		t.PositionSize = 0
		t.Status = StatusClosed
		t.ExitPrice = price
		t.ExitTime = snap.Timestamp
		t.ExitReason = reason
		portion := 0.0
		if t.OriginalPositionSize > 0 {
			portion = remaining / t.OriginalPositionSize
		}
		record(Action{Type: actionType, Time: snap.Timestamp, Price: price, Portion: portion, Reason: reason})
		return actions, t
	}
	realize := func(portionNotional, price float64, typ, reason string) bool {
		if t.OriginalPositionSize <= 0 || portionNotional <= 0 || portionNotional > t.PositionSize+1e-9 {
			return false
		}
		if portionNotional > t.PositionSize {
			portionNotional = t.PositionSize
		}
		t.PartialPnl += t.PnlUSD(price, portionNotional)
		t.PositionSize -= portionNotional
		record(Action{
			Type: typ, Time: snap.Timestamp, Price: price,
			Portion: portionNotional / t.OriginalPositionSize, Reason: reason,
		})
		return true
	}

	// 1. Breakeven: once, after the grace window, when price has run the
	// configured fraction of the original risk.
	if cfg.AutoBreakeven && !t.BreakevenHit && risk > 0 {
		graceMs := int64(cfg.StopGraceBars) * 3600000
		if snap.Timestamp-t.EntryTime >= graceMs && t.favorableMove(snap.Price) >= cfg.BreakevenRMultiple*risk {
			newStop := t.EntryPrice * (1 + cfg.BreakevenBufferPct)
			if !long {
				newStop = t.EntryPrice * (1 - cfg.BreakevenBufferPct)
			}
			if moveStop(newStop, ActionBreakeven, "") {
				t.BreakevenHit = true
			} else if long && t.StopLoss >= newStop || !long && t.StopLoss <= newStop {
				// Stop already at or beyond breakeven, nothing to do again.
				t.BreakevenHit = true
			}
		}
	}

	// 2. Trailing stop: arms at the start R, then ratchets off the current
	// price, only ever toward safety.
	if cfg.AutoTrailingStop && risk > 0 {
		if !t.TrailingActivated && t.favorableMove(snap.Price) >= cfg.TrailingStartR*risk {
			t.TrailingActivated = true
		}
		if t.TrailingActivated {
			newStop := snap.Price - cfg.TrailingDistR*risk
			if !long {
				newStop = snap.Price + cfg.TrailingDistR*risk
			}
			moveStop(newStop, ActionTrailing, "")
		}
	}

	// 3. Stepped lock-in by progress toward TP2, with a leveraged-PnL
	// fallback when no TP2 is configured.
	if cfg.AutoLockIn && risk > 0 && len(cfg.LockInLevels) > 0 {
		progress := 0.0
		if t.TakeProfit2 > 0 {
			span := t.TakeProfit2 - t.EntryPrice
			if !long {
				span = t.EntryPrice - t.TakeProfit2
			}
			if span > 0 {
				progress = t.favorableMove(snap.Price) / span
			}
		} else if len(cfg.PnlLockFallbackPcts) >= 2 && len(cfg.LockInLevels) >= 2 {
			pnl := t.PnlPct(snap.Price)
			switch {
			case pnl >= cfg.PnlLockFallbackPcts[1]:
				progress = cfg.LockInLevels[1].Progress
			case pnl >= cfg.PnlLockFallbackPcts[0]:
				progress = cfg.LockInLevels[0].Progress
			}
		}
		lockR, hit := 0.0, false
		for _, lv := range cfg.LockInLevels {
			if progress >= lv.Progress {
				lockR, hit = lv.LockR, true
			}
		}
		if hit {
			newStop := t.EntryPrice + lockR*risk
			if !long {
				newStop = t.EntryPrice - lockR*risk
			}
			moveStop(newStop, ActionLock, fmt.Sprintf("%.2fR", lockR))
		}
	}

	// 4. Score re-check, when the caller supplied a fresh decision.
	if cfg.ScoreRecheck && snap.Recheck != nil {
		rec := snap.Recheck
		drop := rec.Score - t.EntryScore
		recSide := signal.ActiveSide(rec.Signal)
		flipped := recSide != signal.SideNone && recSide != t.Direction
		pnl := t.PnlPct(snap.Price)

		exitHit := (drop <= scoreExitDrop || (flipped && drop <= scoreExitFlippedDrop)) && pnl <= scoreExitMaxPnl
		reduceHit := !t.ReducedByScore && (drop <= scoreReduceDrop || (flipped && drop <= scoreReduceFlipDrop)) && pnl < 0
		nearTP1 := false
		if t.TakeProfit1 > 0 {
			if long {
				nearTP1 = t.MaxPriceSeen >= t.TakeProfit1*(1-nearTPPct)
			} else {
				nearTP1 = t.MinPriceSeen <= t.TakeProfit1*(1+nearTPPct)
			}
		}
		partialHit := !t.TakenPartialByScore && drop > scoreReduceDrop && drop < 0 && pnl < 0 && nearTP1

		switch {
		case exitHit:
			return closeTrade(snap.Price, ActionExit, ExitReasonScoreExit)
		case reduceHit:
			if !realize(t.PositionSize*scoreReducePortion, snap.Price, ActionReduce, "SCORE_REDUCE") {
				return fail("invalid reduce portion")
			}
			t.ReducedByScore = true
		case partialHit:
			if !realize(t.PositionSize*scorePartialPortion, snap.Price, ActionPartial, "SCORE_PARTIAL") {
				return fail("invalid partial portion")
			}
			t.TakenPartialByScore = true
		}
	}

	// 5. Stop-loss. Close-based stops compare the close/current price, wick
	// stops the bar extreme. When the bar spans both the stop and the active
	// take-profit, the bar's open against the stop/TP1 midpoint decides
	// which side traded first.
	if t.StopLoss > 0 {
		stopRef := snap.Price
		if !snap.CloseBasedStops {
			if long {
				stopRef = lo
			} else {
				stopRef = hi
			}
		}
		stopHit := (long && stopRef <= t.StopLoss) || (!long && stopRef >= t.StopLoss)
		if stopHit {
			tp := t.activeTakeProfit()
			tpRef := hi
			if !long {
				tpRef = lo
			}
			tpAlsoHit := tp > 0 && ((long && tpRef >= tp) || (!long && tpRef <= tp))
			if tpAlsoHit && snap.Open > 0 && t.TakeProfit1 > 0 {
				mid := (t.StopLoss + t.TakeProfit1) / 2
				tpFirst := (long && snap.Open > mid) || (!long && snap.Open < mid)
				if tpFirst {
					level := t.ActiveTP
					reason := fmt.Sprintf("TP%d", level)
					portion := tpPortions[level] * t.OriginalPositionSize
					if !cfg.PartialTP || t.lastTP(level) || portion >= t.PositionSize {
						return closeTrade(tp, ActionPartial, reason)
					}
					if !realize(portion, tp, ActionPartial, reason) {
						return fail("invalid take-profit portion")
					}
					t.ActiveTP = level + 1
				}
			}
			return closeTrade(t.StopLoss, ActionStopLoss, ExitReasonSL)
		}
	}

	// 6. Take-profits, in order, wick-triggered. Partial mode banks
	// 40/30/30 of the original size; otherwise TP1 closes everything. A
	// single wild bar can walk several levels.
	for t.Status == StatusOpen && t.TakeProfit1 > 0 {
		level := t.ActiveTP
		tp := t.activeTakeProfit()
		if tp <= 0 {
			break
		}
		ref := hi
		if !long {
			ref = lo
		}
		hit := (long && ref >= tp) || (!long && ref <= tp)
		if !hit {
			break
		}
		reason := fmt.Sprintf("TP%d", level)
		portion := tpPortions[level] * t.OriginalPositionSize
		if !cfg.PartialTP || t.lastTP(level) || portion >= t.PositionSize {
			return closeTrade(tp, ActionPartial, reason)
		}
		if !realize(portion, tp, ActionPartial, reason) {
			return fail("invalid take-profit portion")
		}
		t.ActiveTP = level + 1
	}

	return actions, t
}

package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"confluence-trader/config"
	"confluence-trader/indicators"
	"confluence-trader/manage"
	"confluence-trader/market"
	"confluence-trader/risk"
	"confluence-trader/signal"
	"confluence-trader/sim"
)

var errInvalidRange = errors.New("backtest window start must precede end")

// atrPeriod matches the signal engine's risk sizing window.
const atrPeriod = 14

// Runner walks historical candles through the same signal, risk, manage and
// execution path the live engine uses. One Runner serves one run; per-coin
// walks are independent and safe to run concurrently.
type Runner struct {
	cfg     Config
	engine  *signal.Engine
	riskEng *risk.Engine
	engCfg  config.EngineConfig
	manCfg  config.ManageConfig
	simCfg  sim.Config
	weights config.StrategyWeights

	cache    *CandleCache
	source   CandleSource
	universe map[string]market.CoinMeta

	btcOnce sync.Once
	btcCoin market.CoinMeta
	btcSet  market.CandleSet
	btcIdx  map[int64]int

	mu       sync.RWMutex
	metadata RunMetadata
	result   *Result
}

// NewRunner wires a run against the app config. The risk engine is rebuilt
// with the run's sizing so backtests and live trading can diverge on risk
// per trade and leverage while sharing every other rule.
func NewRunner(id string, cfg Config, appCfg *config.Config, universe []market.CoinMeta, source CandleSource) (*Runner, error) {
	if err := cfg.Validate(appCfg.Backtest); err != nil {
		return nil, err
	}

	byID := make(map[string]market.CoinMeta, len(universe))
	order := make([]string, 0, len(universe))
	for _, c := range universe {
		byID[c.ID] = c
		order = append(order, c.ID)
	}
	if len(cfg.Coins) == 0 {
		cfg.Coins = order
	} else {
		for _, id := range cfg.Coins {
			if _, ok := byID[id]; !ok {
				return nil, fmt.Errorf("unknown coin %q", id)
			}
		}
	}

	riskCfg := appCfg.Risk
	riskCfg.RiskMode = "percent"
	riskCfg.RiskPerTradePct = cfg.RiskPerTrade * 100
	riskCfg.DefaultLeverage = cfg.Leverage

	manCfg := appCfg.Manage
	manCfg.CloseBasedStops = cfg.CloseBasedStops

	simCfg := sim.DefaultConfig(riskCfg)
	if cfg.PathPolicy != "" {
		simCfg.PathPolicy = cfg.PathPolicy
		simCfg.Seed = cfg.Seed
	}

	r := &Runner{
		cfg:      cfg,
		engine:   signal.NewEngine(appCfg.Engine),
		riskEng:  risk.NewEngine(riskCfg),
		engCfg:   appCfg.Engine,
		manCfg:   manCfg,
		simCfg:   simCfg,
		weights:  config.Weights(),
		cache:    NewCandleCache(appCfg.CacheDir),
		source:   source,
		universe: byID,
		metadata: RunMetadata{
			ID:         id,
			Status:     StatusPending,
			Coins:      cfg.Coins,
			StartMs:    cfg.StartMs,
			EndMs:      cfg.EndMs,
			TotalCoins: len(cfg.Coins),
		},
	}
	if btc, ok := byID[market.BTCCoinID]; ok {
		r.btcCoin = btc
	}
	return r, nil
}

// Metadata returns a copy of the live run state.
func (r *Runner) Metadata() RunMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// Result returns the finished result, or nil while the run is in flight.
func (r *Runner) Result() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Run executes the full backtest: coins in batches of ParallelBatch, each
// capped at PerCoinTimeout. A coin that times out or errors is reported in
// its CoinResult; the batch keeps going.
func (r *Runner) Run(ctx context.Context) *Result {
	r.mu.Lock()
	r.metadata.Status = StatusRunning
	r.metadata.StartedAt = time.Now()
	r.mu.Unlock()

	log.Info().Str("run", r.metadata.ID).Int("coins", len(r.cfg.Coins)).
		Int64("start", r.cfg.StartMs).Int64("end", r.cfg.EndMs).
		Msg("[backtest] run started")

	// The BTC set is shared by every coin's overlay, so fetch it outside the
	// per-coin timeouts.
	r.ensureBTC(ctx)

	results := make([]CoinResult, len(r.cfg.Coins))
	batch := r.cfg.ParallelBatch
	if batch < 1 {
		batch = 1
	}
	for lo := 0; lo < len(r.cfg.Coins); lo += batch {
		hi := lo + batch
		if hi > len(r.cfg.Coins) {
			hi = len(r.cfg.Coins)
		}
		var wg sync.WaitGroup
		for j := lo; j < hi; j++ {
			if ctx.Err() != nil {
				results[j] = CoinResult{CoinID: r.cfg.Coins[j], Error: "run canceled"}
				r.coinDone()
				continue
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				coinCtx, cancel := context.WithTimeout(ctx, r.cfg.PerCoinTimeout)
				defer cancel()
				results[idx] = r.RunForCoin(coinCtx, r.cfg.Coins[idx], r.cfg.StartMs, r.cfg.EndMs)
				r.coinDone()
			}(j)
		}
		wg.Wait()
	}

	res := aggregate(r.metadata.ID, r.cfg, results)

	r.mu.Lock()
	r.result = res
	r.metadata.CompletedAt = time.Now()
	if ctx.Err() != nil {
		r.metadata.Status = StatusCanceled
	} else {
		r.metadata.Status = StatusCompleted
	}
	status := r.metadata.Status
	r.mu.Unlock()

	log.Info().Str("run", r.metadata.ID).Str("status", string(status)).
		Int("trades", res.Summary.TotalTrades).
		Float64("pnl", res.Summary.TotalPnl).
		Msg("[backtest] run finished")
	return res
}

func (r *Runner) coinDone() {
	r.mu.Lock()
	r.metadata.CompletedCoins++
	if r.metadata.TotalCoins > 0 {
		r.metadata.Progress = float64(r.metadata.CompletedCoins) / float64(r.metadata.TotalCoins) * 100
	}
	r.mu.Unlock()
}

func (r *Runner) ensureBTC(ctx context.Context) {
	r.btcOnce.Do(func() {
		if r.btcCoin.ID == "" {
			return
		}
		set, err := loadOrFetch(ctx, r.cache, r.source, r.btcCoin, r.cfg.StartMs, r.cfg.EndMs, r.cfg.WarmupBars)
		if err != nil {
			log.Warn().Err(err).Msg("[backtest] no BTC candles, overlay disabled for this run")
			return
		}
		h1 := set[market.TF1h]
		idx := make(map[int64]int, len(h1))
		for i, c := range h1 {
			idx[c.OpenTime] = i
		}
		r.btcSet = set
		r.btcIdx = idx
	})
}

// RunForCoin walks one coin over the window and returns its trades, equity
// curve and summary. The walk holds at most one open position.
func (r *Runner) RunForCoin(ctx context.Context, coinID string, startMs, endMs int64) CoinResult {
	res := CoinResult{CoinID: coinID}
	coin, ok := r.universe[coinID]
	if !ok {
		res.Error = fmt.Sprintf("unknown coin %q", coinID)
		return res
	}
	r.ensureBTC(ctx)

	set, err := loadOrFetch(ctx, r.cache, r.source, coin, startMs, endMs, r.cfg.WarmupBars)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	return r.walk(ctx, coin, set, startMs)
}

func (r *Runner) walk(ctx context.Context, coin market.CoinMeta, set market.CandleSet, startMs int64) CoinResult {
	res := CoinResult{CoinID: coin.ID}
	h1 := set[market.TF1h]
	if len(h1) <= walkStartBar+1 {
		res.Error = fmt.Sprintf("only %d 1h bars, need more than %d", len(h1), walkStartBar+1)
		return res
	}

	// First bar allowed to open a trade; earlier bars only warm indicators.
	tradeStart := sort.Search(len(h1), func(i int) bool { return h1[i].OpenTime >= startMs })

	balance := r.cfg.InitialBalance
	peak := balance
	var open *manage.Trade
	var pending *risk.OrderIntent
	var pendingATR float64
	lastClosed := make(map[string]int64)
	stats := make(map[string]signal.StrategyStat)
	var trades []manage.Trade
	curve := make([]EquityPoint, 0, len(h1)-walkStartBar)

	btcSignal := ""
	btcDir := signal.DirNeutral
	lastBar := walkStartBar - 1

	for i := walkStartBar; i < len(h1); i++ {
		if ctx.Err() != nil {
			res.Error = "aborted: " + ctx.Err().Error()
			break
		}
		bar := h1[i]
		barClose := bar.OpenTime + market.TF1h.Millis()

		if coin.ID != market.BTCCoinID && r.btcSet != nil && (i-walkStartBar)%btcRecheckBars == 0 {
			if bi, ok := r.btcIdx[bar.OpenTime]; ok {
				btcSignal, btcDir = r.btcOverlay(bi)
			}
		}

		// Fill the intent queued on the previous bar at this bar's open.
		if pending != nil {
			if open == nil {
				snap := sim.Snapshot{Price: bar.Open, High: bar.High, Low: bar.Low, Open: bar.Open, ATR: pendingATR, Time: bar.OpenTime}
				if fill := sim.Execute(pending, snap, r.simCfg); fill.Filled {
					open = tradeFromIntent(coin, pending, fill, bar.OpenTime)
				}
			}
			pending = nil
		}

		if open != nil {
			var recheck *signal.Decision
			if r.manCfg.ScoreRecheck && r.manCfg.ScoreRecheckIntervalBars > 0 &&
				(i-walkStartBar)%r.manCfg.ScoreRecheckIntervalBars == 0 && bar.OpenTime > open.EntryTime {
				d := r.evaluate(coin, set, i, btcSignal, btcDir, stats)
				recheck = &d
			}
			snap := manage.Snapshot{
				Price: bar.Close, High: bar.High, Low: bar.Low, Open: bar.Open,
				Timestamp: barClose, Recheck: recheck, CloseBasedStops: r.cfg.CloseBasedStops,
			}
			actions, updated := manage.Update(*open, snap, r.manCfg)
			if len(actions) > 0 {
				atr := indicators.ATR(h1[:i+1], atrPeriod)
				execSnap := sim.Snapshot{Price: bar.Close, High: bar.High, Low: bar.Low, Open: bar.Open, ATR: atr, Time: barClose}
				settleActions(&updated, actions, execSnap, r.simCfg)
			}
			*open = updated
			if open.Status != manage.StatusOpen {
				if open.Status == manage.StatusClosed {
					balance += open.Pnl
					lastClosed[risk.CooldownKey(open.CoinID, open.Direction)] = open.ExitTime
					recordStrategy(stats, open)
				}
				trades = append(trades, *open)
				open = nil
			}
		} else if i >= tradeStart && i+1 < len(h1) {
			d := r.evaluate(coin, set, i, btcSignal, btcDir, stats)
			if d.Side != signal.SideNone {
				intent, _ := r.riskEng.Plan(d, risk.Context{Balance: balance, LastClosed: lastClosed, Now: barClose})
				if intent != nil {
					intent.Symbol = coin.Binance
					pending = intent
					pendingATR = d.ATR
				}
			}
		}

		equity := balance
		if open != nil {
			equity += open.PartialPnl + open.PnlUSD(bar.Close, open.PositionSize)
		}
		if equity > peak {
			peak = equity
		}
		ddPct := 0.0
		if peak > 0 {
			ddPct = (peak - equity) / peak * 100
		}
		curve = append(curve, EquityPoint{Timestamp: barClose, Equity: equity, DrawdownPct: ddPct})
		lastBar = i
	}

	// Anything still open marks to the last processed close, no fees or
	// slippage, so final equity always equals balance plus realized pnl.
	if open != nil && lastBar >= walkStartBar {
		last := h1[lastBar]
		closeAtEnd(open, last.Close, last.OpenTime+market.TF1h.Millis())
		balance += open.Pnl
		trades = append(trades, *open)
	}

	res.Trades = trades
	res.EquityCurve = curve
	res.Summary = summarize(r.cfg.InitialBalance, trades, curve)
	return res
}

// btcOverlay evaluates BTC at its own bar index and reduces the decision to
// the (signal, 1h direction) pair the altcoin override keys on.
func (r *Runner) btcOverlay(bi int) (string, signal.Direction) {
	d := r.evaluate(r.btcCoin, r.btcSet, bi, "", signal.DirNeutral, nil)
	dir := signal.DirNeutral
	if tf, ok := d.Timeframes[string(market.TF1h)]; ok {
		dir = tf.Direction
	}
	return d.Signal, dir
}

// evaluate rebuilds the live evaluation input as it would have looked at bar
// i's close: candles truncated to fully closed bars, a synthetic quote from
// the 1h series, and the bar close pinned as the decision time.
func (r *Runner) evaluate(coin market.CoinMeta, set market.CandleSet, i int, btcSignal string, btcDir signal.Direction, stats map[string]signal.StrategyStat) signal.Decision {
	h1 := set[market.TF1h]
	barClose := h1[i].OpenTime + market.TF1h.Millis()

	in := signal.Input{
		Coin:    coin,
		Quote:   syntheticQuote(coin.ID, h1, i, barClose),
		Candles: alignedSet(set, i),
		Options: signal.Options{
			StrategyWeights:       r.weights,
			StrategyStats:         stats,
			BTCSignal:             btcSignal,
			BTCDirection:          btcDir,
			BarTime:               barClose,
			PriceActionConfluence: r.engCfg.PriceActionConfluence,
			VolatilityFilter:      r.engCfg.VolatilityFilter,
			VolumeConfirmation:    r.engCfg.VolumeConfirmation,
		},
	}
	return r.engine.Evaluate(in)
}

// alignedSet truncates every timeframe to bars fully closed by the 1h bar
// i's close, so higher-timeframe candles never leak future data into a
// decision.
func alignedSet(set market.CandleSet, i int) market.CandleSet {
	h1 := set[market.TF1h]
	barClose := h1[i].OpenTime + market.TF1h.Millis()
	out := market.CandleSet{market.TF1h: h1[:i+1]}
	for _, tf := range []market.Timeframe{market.TF4h, market.TF1d} {
		cs := set[tf]
		if len(cs) == 0 {
			continue
		}
		n := sort.Search(len(cs), func(j int) bool {
			return cs[j].OpenTime+tf.Millis() > barClose
		})
		if n > 0 {
			out[tf] = cs[:n]
		}
	}
	return out
}

func syntheticQuote(coinID string, h1 []market.Candle, i int, barClose int64) market.Quote {
	q := market.Quote{CoinID: coinID, PriceUSD: h1[i].Close, LastUpdated: barClose}
	if i >= 24 && h1[i-24].Close > 0 {
		q.Change24hPct = (h1[i].Close/h1[i-24].Close - 1) * 100
	}
	lo := i - 23
	if lo < 0 {
		lo = 0
	}
	for _, c := range h1[lo : i+1] {
		q.Volume24h += c.Volume * c.Close
	}
	return q
}

// tradeFromIntent opens a position from a fill. The entry fee is folded into
// PartialPnl so the final trade pnl is net of all costs. Stop and target
// levels stay where the intent placed them, like resting orders.
func tradeFromIntent(coin market.CoinMeta, in *risk.OrderIntent, fill sim.Fill, entryTime int64) *manage.Trade {
	return &manage.Trade{
		ID:                   fmt.Sprintf("bt-%s-%d", coin.ID, entryTime),
		CoinID:               in.CoinID,
		Symbol:               coin.Binance,
		Direction:            in.Direction,
		Status:               manage.StatusOpen,
		EntryPrice:           fill.FillPrice,
		EntryTime:            entryTime,
		EntryScore:           in.Score,
		Strategy:             in.Strategy,
		Regime:               in.Regime,
		PositionSize:         fill.FillQty,
		OriginalPositionSize: fill.FillQty,
		Leverage:             in.Leverage,
		StopLoss:             in.StopLoss,
		OriginalStopLoss:     in.StopLoss,
		TakeProfit1:          in.TakeProfit1,
		TakeProfit2:          in.TakeProfit2,
		TakeProfit3:          in.TakeProfit3,
		ActiveTP:             1,
		MaxPriceSeen:         fill.FillPrice,
		MinPriceSeen:         fill.FillPrice,
		PartialPnl:           -fill.Fees,
	}
}

// settleActions reprices the tick's realizing actions through the execution
// model. Take-profit partials rest as reduce-only limits; stops, score exits
// and reductions cross the book. Each fill's price drift and fees adjust the
// realized pnl the management engine booked at trigger prices.
func settleActions(t *manage.Trade, actions []manage.Action, snap sim.Snapshot, cfg sim.Config) {
	closed := t.Status == manage.StatusClosed
	var partialAdj, exitAdj float64
	for idx, a := range actions {
		switch a.Type {
		case manage.ActionPartial, manage.ActionReduce, manage.ActionStopLoss, manage.ActionExit:
		default:
			continue
		}
		notional := a.Portion * t.OriginalPositionSize
		if notional <= 0 || a.Price <= 0 {
			continue
		}
		maker := a.Type == manage.ActionPartial && strings.HasPrefix(a.Reason, "TP")
		fill := sim.Close(t.Direction, a.Price, notional, maker, snap, cfg)
		if !fill.Filled {
			continue
		}
		adj := t.PnlUSD(fill.FillPrice, notional) - t.PnlUSD(a.Price, notional) - fill.Fees
		if closed && idx == len(actions)-1 {
			t.ExitPrice = fill.FillPrice
			exitAdj = adj
		} else {
			partialAdj += adj
		}
	}
	t.PartialPnl += partialAdj
	if closed {
		t.Pnl += partialAdj + exitAdj
		if t.OriginalPositionSize > 0 && t.Leverage > 0 {
			margin := t.OriginalPositionSize / float64(t.Leverage)
			t.PnlPercent = t.Pnl / margin * 100
		}
	}
}

func closeAtEnd(t *manage.Trade, price float64, ts int64) {
	remaining := t.PositionSize
	t.Pnl = t.PartialPnl + t.PnlUSD(price, remaining)
	if t.OriginalPositionSize > 0 && t.Leverage > 0 {
		margin := t.OriginalPositionSize / float64(t.Leverage)
		t.PnlPercent = t.Pnl / margin * 100
	}
	portion := 0.0
	if t.OriginalPositionSize > 0 {
		portion = remaining / t.OriginalPositionSize
	}
	t.PositionSize = 0
	t.Status = manage.StatusClosed
	t.ExitPrice = price
	t.ExitTime = ts
	t.ExitReason = manage.ExitReasonEnd
	t.Actions = append(t.Actions, manage.Action{
		Type: manage.ActionExit, Time: ts, Price: price, Portion: portion, Reason: manage.ExitReasonEnd,
	})
}

func recordStrategy(stats map[string]signal.StrategyStat, t *manage.Trade) {
	if t.Strategy == "" {
		return
	}
	st := stats[t.Strategy]
	st.ClosedTrades++
	if t.Pnl > 0 {
		st.Wins++
	}
	st.TotalPnl += t.Pnl
	stats[t.Strategy] = st
}

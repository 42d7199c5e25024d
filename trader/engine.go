package trader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"confluence-trader/config"
	"confluence-trader/events"
	"confluence-trader/exchange"
	"confluence-trader/manage"
	"confluence-trader/market"
	"confluence-trader/notify"
	"confluence-trader/risk"
	"confluence-trader/signal"
	"confluence-trader/sim"
	"confluence-trader/store"
)

// cycleInterval is the slow cadence: one full scan-and-manage pass.
const cycleInterval = 5 * time.Minute

// FundingSource supplies current funding rates per exchange symbol. Optional;
// a nil source just leaves the funding tilt out of the signal options.
type FundingSource interface {
	FundingRates(ctx context.Context) (map[string]float64, error)
}

// Engine runs the live loop for one user: a slow five-minute cycle that
// manages open trades and scans every tracked coin for entries, and a fast
// path on streamed price ticks that only checks stops and take-profits.
type Engine struct {
	userID string
	cfg    *config.Config

	mkt      *market.Service
	hub      *events.Hub
	notifier notify.Notifier
	executor exchange.Executor
	funding  FundingSource

	sigEng  *signal.Engine
	riskEng *risk.Engine

	users      *store.UserStore
	trades     *store.TradeStore
	strategies *store.StrategyStore

	running   bool
	stopCh    chan struct{}
	mu        sync.RWMutex
	cycleBusy atomic.Bool

	// tradeMu serializes trade mutation between the slow cycle and the
	// fast tick path. Open trades are cached here; the repository is the
	// durable copy.
	tradeMu   sync.Mutex
	open      map[string]*manage.Trade
	recheckAt map[string]int64 // trade id -> next score recheck, ms

	// Cycle state, guarded by mu.
	lastDecisions map[string]signal.Decision
	fundingRates  map[string]float64
	btcSignal     string
	btcDirection  signal.Direction
	manCfg        config.ManageConfig
	simCfg        sim.Config
	riskCfg       config.RiskConfig
	killSwitch    bool
	dailyStart    float64
	dailyDay      int
	cycleCount    int
	lastCycle     time.Time
	startTime     time.Time
}

// NewEngine wires a live engine for one user. The executor decides whether
// fills are simulated or routed to Binance.
func NewEngine(userID string, cfg *config.Config, mkt *market.Service, executor exchange.Executor,
	funding FundingSource, notifier notify.Notifier, hub *events.Hub) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		userID:        userID,
		cfg:           cfg,
		mkt:           mkt,
		hub:           hub,
		notifier:      notifier,
		executor:      executor,
		funding:       funding,
		sigEng:        signal.NewEngine(cfg.Engine),
		riskEng:       risk.NewEngine(cfg.Risk),
		users:         store.NewUserStore(),
		trades:        store.NewTradeStore(),
		strategies:    store.NewStrategyStore(),
		open:          make(map[string]*manage.Trade),
		recheckAt:     make(map[string]int64),
		lastDecisions: make(map[string]signal.Decision),
		manCfg:        cfg.Manage,
		simCfg:        sim.DefaultConfig(cfg.Risk),
		riskCfg:       cfg.Risk,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running for user %s", e.userID)
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.startTime = time.Now()
	e.mu.Unlock()

	user, err := e.users.Find(e.userID)
	if err == nil && user == nil {
		err = fmt.Errorf("unknown user %s", e.userID)
	}
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("load user: %w", err)
	}

	openTrades, err := e.trades.FindOpenTrades(e.userID)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("load open trades: %w", err)
	}
	e.tradeMu.Lock()
	for _, t := range openTrades {
		e.open[t.ID] = t
	}
	e.tradeMu.Unlock()

	e.resolveUserConfigs(user)
	eq := e.unrealizedEquity(user.PaperBalance)
	e.mu.Lock()
	e.dailyStart = eq
	e.dailyDay = time.Now().UTC().YearDay()
	e.mu.Unlock()

	log.Info().Str("user", e.userID).Str("executor", e.executor.Name()).
		Int("open_trades", len(openTrades)).Float64("balance", user.PaperBalance).
		Msg("[trader] Starting live engine")

	go e.tradingLoop(ctx)
	go e.fastLoop(ctx)

	e.hub.Publish(events.TypeEngine, map[string]interface{}{
		"user":    e.userID,
		"running": true,
	})
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	log.Info().Str("user", e.userID).Msg("[trader] Stopping live engine")
	close(e.stopCh)
	e.running = false

	e.hub.Publish(events.TypeEngine, map[string]interface{}{
		"user":    e.userID,
		"running": false,
	})
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// SetKillSwitch blocks new entries. Open trades keep being managed.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.killSwitch = on
	e.mu.Unlock()
	log.Warn().Str("user", e.userID).Bool("on", on).Msg("[trader] Kill switch")
}

func (e *Engine) tradingLoop(ctx context.Context) {
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	log.Info().Str("user", e.userID).Dur("interval", cycleInterval).Msg("[trader] Trading loop started")

	// Run immediately on start.
	e.runCycle(ctx)

	for {
		select {
		case <-e.stopCh:
			log.Info().Str("user", e.userID).Msg("[trader] Trading loop stopped")
			return
		case <-ctx.Done():
			log.Info().Str("user", e.userID).Msg("[trader] Context cancelled, stopping trading loop")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle is one slow pass: manage open trades with a fresh score re-check
// when due, then scan for entries. A tick that arrives while the previous
// cycle still runs is skipped.
func (e *Engine) runCycle(ctx context.Context) {
	if !e.cycleBusy.CompareAndSwap(false, true) {
		log.Warn().Str("user", e.userID).Msg("[trader] Previous cycle still running, skipping tick")
		return
	}
	defer e.cycleBusy.Store(false)

	log.Info().Str("user", e.userID).Msg("[trader] === Starting trading cycle ===")

	user, err := e.users.Find(e.userID)
	if err != nil || user == nil {
		log.Error().Err(err).Str("user", e.userID).Msg("[trader] user load failed, skipping cycle")
		return
	}
	e.resolveUserConfigs(user)

	e.mkt.RefreshIfStale()
	e.rolloverDaily(user.PaperBalance)
	e.refreshFunding(ctx)
	e.updateBTCOverlay()

	closed := e.manageOpenTrades(ctx)
	if closed > 0 {
		// Closes settled into the balance; rescan with the fresh number.
		if fresh, err := e.users.Find(e.userID); err == nil && fresh != nil {
			user = fresh
		}
	}
	opened := e.scanForEntries(ctx, user)

	e.mu.Lock()
	e.cycleCount++
	e.lastCycle = time.Now()
	cycles := e.cycleCount
	e.mu.Unlock()

	log.Info().Str("user", e.userID).Int("cycle", cycles).
		Int("opened", opened).Int("closed", closed).
		Msg("[trader] === Trading cycle complete ===")
}

// fastLoop consumes streamed price ticks and runs price-only management:
// stops, take-profits, trailing. No score re-checks on this path.
func (e *Engine) fastLoop(ctx context.Context) {
	ticks := make(chan market.BrowserTick, 256)
	e.mkt.SubscribeBrowser(ticks)
	defer e.mkt.UnsubscribeBrowser(ticks)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case tick := <-ticks:
			e.onTick(ctx, tick)
		}
	}
}

func (e *Engine) onTick(ctx context.Context, tick market.BrowserTick) {
	if tick.Price <= 0 {
		return
	}
	e.mu.RLock()
	manCfg := e.manCfg
	e.mu.RUnlock()

	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	for _, t := range e.open {
		if t.CoinID != tick.CoinID {
			continue
		}
		now := time.Now().UnixMilli()
		snap := manage.Snapshot{
			Price:           tick.Price,
			High:            tick.Price,
			Low:             tick.Price,
			Open:            tick.Price,
			Timestamp:       now,
			CloseBasedStops: manCfg.CloseBasedStops,
		}
		actions, updated := manage.Update(*t, snap, manCfg)
		if len(actions) == 0 {
			// Keep extremes fresh in memory; the slow cycle checkpoints them.
			*t = updated
			continue
		}
		e.settleTrade(ctx, t, updated, actions, snap)
	}
}

// manageOpenTrades advances every open trade against the current quote and
// applies the emitted actions. Returns the number of trades closed.
func (e *Engine) manageOpenTrades(ctx context.Context) int {
	e.mu.RLock()
	manCfg := e.manCfg
	e.mu.RUnlock()

	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	closed := 0
	for _, t := range e.open {
		quote, ok := e.mkt.GetQuote(t.CoinID)
		if !ok || quote.PriceUSD <= 0 {
			log.Warn().Str("user", e.userID).Str("coin", t.CoinID).
				Msg("[trader] no fresh quote, trade not advanced")
			continue
		}

		now := time.Now().UnixMilli()
		snap := manage.Snapshot{
			Price:           quote.PriceUSD,
			High:            quote.PriceUSD,
			Low:             quote.PriceUSD,
			Open:            quote.PriceUSD,
			Timestamp:       now,
			CloseBasedStops: manCfg.CloseBasedStops,
		}
		if manCfg.ScoreRecheck && now >= e.recheckAt[t.ID] {
			if d, ok := e.evaluateCoin(t.CoinID); ok {
				snap.Recheck = &d
				log.Info().Str("user", e.userID).Str("coin", t.CoinID).
					Float64("score", d.Score).Msg("[trader] score re-check")
			}
			e.recheckAt[t.ID] = now + int64(manCfg.ScoreRecheckIntervalBars)*time.Hour.Milliseconds()
		}

		actions, updated := manage.Update(*t, snap, manCfg)
		if len(actions) == 0 {
			*t = updated
			if err := e.trades.Save(t); err != nil {
				log.Error().Err(err).Str("trade", t.ID).Msg("[trader] trade checkpoint failed")
			}
			continue
		}
		if e.settleTrade(ctx, t, updated, actions, snap) {
			closed++
		}
	}
	return closed
}

// settleTrade applies one batch of management actions: stop moves go to the
// executor, realizing actions are filled and the trigger-priced books are
// adjusted to the realized fills. Caller holds tradeMu. Returns true when the
// trade closed.
func (e *Engine) settleTrade(ctx context.Context, t *manage.Trade, updated manage.Trade, actions []manage.Action, msnap manage.Snapshot) bool {
	*t = updated
	closed := t.Status == manage.StatusClosed

	e.mu.RLock()
	_ = e.simCfg
	e.mu.RUnlock()

	snap := sim.Snapshot{
		Price: msnap.Price,
		High:  msnap.High,
		Low:   msnap.Low,
		Open:  msnap.Open,
		Time:  msnap.Timestamp,
	}

	var partialAdj, exitAdj float64
	for i, a := range actions {
		switch a.Type {
		case manage.ActionError:
			log.Warn().Str("trade", t.ID).Str("reason", a.Reason).Msg("[trader] management error")
			continue

		case manage.ActionBreakeven, manage.ActionTrailing, manage.ActionLock:
			if err := e.executor.UpdateStopLoss(ctx, t, a.NewStop); err != nil {
				log.Error().Err(err).Str("trade", t.ID).Msg("[trader] stop move failed on venue")
			}
			log.Info().Str("user", e.userID).Str("coin", t.CoinID).Str("action", a.Type).
				Float64("new_stop", a.NewStop).Msg("[trader] stop moved")
			continue

		case manage.ActionReduce, manage.ActionPartial, manage.ActionStopLoss, manage.ActionExit:
			notional := a.Portion * t.OriginalPositionSize
			if notional <= 0 {
				continue
			}
			maker := a.Type == manage.ActionPartial && strings.HasPrefix(a.Reason, "TP")
			fill, err := e.executor.ClosePosition(ctx, t, notional, a.Price, maker, snap)
			if err != nil {
				// Trigger-priced books stand when the venue call fails.
				log.Error().Err(err).Str("trade", t.ID).Str("action", a.Type).
					Msg("[trader] close fill failed, keeping trigger price")
				continue
			}
			if fill == nil {
				continue
			}
			adj := t.PnlUSD(fill.Price, notional) - t.PnlUSD(a.Price, notional) - fill.Fees
			if closed && i == len(actions)-1 {
				t.ExitPrice = fill.Price
				exitAdj += adj
			} else {
				t.PartialPnl += adj
				partialAdj += adj
			}
		}
	}

	if closed {
		t.Pnl += partialAdj + exitAdj
		if margin := t.OriginalPositionSize / float64(t.Leverage); margin > 0 {
			t.PnlPercent = t.Pnl / margin * 100
		}
	}

	if err := e.trades.Save(t); err != nil {
		log.Error().Err(err).Str("trade", t.ID).Msg("[trader] trade save failed")
	}

	for _, a := range actions {
		if a.Type == manage.ActionError {
			continue
		}
		e.hub.Publish(events.TypeTrade, map[string]interface{}{
			"action": a.Type,
			"reason": a.Reason,
			"trade":  *t,
		})
	}

	if closed {
		e.bookClose(t)
	}
	return closed
}

// bookClose settles a closed trade into the account: balance, lifetime stats,
// cache eviction, notification. Caller holds tradeMu.
func (e *Engine) bookClose(t *manage.Trade) {
	if err := e.users.UpdateBalance(e.userID, t.Pnl); err != nil {
		log.Error().Err(err).Str("trade", t.ID).Msg("[trader] balance update failed")
	}
	delta := store.StatsDelta{Trades: 1, Pnl: t.Pnl}
	if t.Pnl > 0 {
		delta.Wins = 1
	} else {
		delta.Losses = 1
	}
	if err := e.users.UpdateStats(e.userID, delta); err != nil {
		log.Error().Err(err).Str("trade", t.ID).Msg("[trader] stats update failed")
	}

	delete(e.open, t.ID)
	delete(e.recheckAt, t.ID)

	log.Info().Str("user", e.userID).Str("coin", t.CoinID).Str("reason", t.ExitReason).
		Float64("pnl", t.Pnl).Float64("pnl_pct", t.PnlPercent).
		Msg("[trader] trade closed")
	e.notifier.TradeClosed(t)
}

// scanForEntries evaluates every tracked coin and opens positions where the
// signal, the portfolio gates and the risk budget all agree. Returns the
// number of trades opened.
func (e *Engine) scanForEntries(ctx context.Context, user *store.User) int {
	e.mu.RLock()
	riskCfg := e.riskCfg
	riskEng := e.riskEng
	killSwitch := e.killSwitch
	dailyStart := e.dailyStart
	e.mu.RUnlock()

	lastClosed, err := e.trades.LastClosedTimes(e.userID)
	if err != nil {
		log.Error().Err(err).Str("user", e.userID).Msg("[trader] cooldown lookup failed")
		lastClosed = map[string]int64{}
	}

	opened := 0
	for _, coin := range e.mkt.Universe() {
		d, ok := e.evaluateCoin(coin.ID)
		if !ok {
			continue
		}

		e.mu.Lock()
		e.lastDecisions[coin.ID] = d
		e.mu.Unlock()

		if d.Side == signal.SideNone || d.Weak {
			continue
		}
		log.Info().Str("user", e.userID).Str("coin", coin.ID).Str("signal", d.Signal).
			Float64("score", d.Score).Str("strategy", d.Strategy).
			Msgf("[trader][%s] actionable signal", coin.Symbol)
		e.hub.Publish(events.TypeDecision, d)

		e.tradeMu.Lock()
		openList := e.openListLocked()
		e.tradeMu.Unlock()

		state := risk.PortfolioState{
			OpenTrades:       openList,
			Equity:           e.Equity(),
			DailyStartEquity: dailyStart,
			KillSwitch:       killSwitch,
		}
		if ok, reason := risk.CanOpenTrade(state, coin.ID, riskCfg); !ok {
			log.Info().Str("user", e.userID).Str("coin", coin.ID).Str("reason", reason).
				Msg("[trader] entry blocked by portfolio gate")
			continue
		}

		now := time.Now().UnixMilli()
		intent, reason := riskEng.Plan(d, risk.Context{
			Balance:    user.PaperBalance,
			OpenTrades: openList,
			LastClosed: lastClosed,
			Now:        now,
		})
		if intent == nil {
			if reason != "" {
				log.Debug().Str("user", e.userID).Str("coin", coin.ID).Str("reason", reason).
					Msg("[trader] no order planned")
			}
			continue
		}
		intent.Symbol = coin.Binance

		quote, _ := e.mkt.GetQuote(coin.ID)
		snap := sim.Snapshot{
			Price: quote.PriceUSD,
			High:  quote.PriceUSD,
			Low:   quote.PriceUSD,
			Open:  quote.PriceUSD,
			ATR:   d.ATR,
			Time:  now,
		}
		fill, err := e.executor.PlaceOrder(ctx, intent, snap)
		if err != nil {
			log.Error().Err(err).Str("user", e.userID).Str("coin", coin.ID).
				Msg("[trader] order placement failed")
			continue
		}
		if fill == nil {
			continue
		}

		t := e.tradeFromFill(intent, fill, now)
		if err := e.trades.Save(t); err != nil {
			log.Error().Err(err).Str("trade", t.ID).Msg("[trader] trade save failed")
			continue
		}
		if err := e.executor.UpdateStopLoss(ctx, t, t.StopLoss); err != nil {
			log.Warn().Err(err).Str("trade", t.ID).Msg("[trader] protective stop not placed")
		}

		e.tradeMu.Lock()
		e.open[t.ID] = t
		e.recheckAt[t.ID] = now + int64(e.manCfg.ScoreRecheckIntervalBars)*time.Hour.Milliseconds()
		e.tradeMu.Unlock()

		opened++
		log.Info().Str("user", e.userID).Str("coin", coin.ID).Str("direction", string(t.Direction)).
			Float64("entry", t.EntryPrice).Float64("size", t.PositionSize).
			Msgf("[trader][%s] trade opened", coin.Symbol)
		e.hub.Publish(events.TypeTrade, map[string]interface{}{
			"action": "OPEN",
			"trade":  *t,
		})
		e.notifier.TradeOpened(t)
	}
	return opened
}

// evaluateCoin builds the signal input for one coin from the market caches.
func (e *Engine) evaluateCoin(coinID string) (signal.Decision, bool) {
	coin, ok := e.mkt.Coin(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	quote, ok := e.mkt.GetQuote(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	candles, ok := e.mkt.GetCandles(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	history, _ := e.mkt.GetPriceHistory(coinID)

	stats, err := e.strategies.Stats(e.userID)
	if err != nil {
		log.Debug().Err(err).Msg("[trader] strategy stats unavailable")
	}

	e.mu.RLock()
	btcSignal, btcDirection := e.btcSignal, e.btcDirection
	fundingRates := e.fundingRates
	e.mu.RUnlock()

	in := signal.Input{
		Coin:    coin,
		Quote:   quote,
		Candles: candles,
		History: history,
		Options: signal.Options{
			StrategyWeights:       config.Weights(),
			StrategyStats:         stats,
			BTCSignal:             btcSignal,
			BTCDirection:          btcDirection,
			FundingRates:          fundingRates,
			PriceActionConfluence: e.cfg.Engine.PriceActionConfluence,
			VolatilityFilter:      e.cfg.Engine.VolatilityFilter,
			VolumeConfirmation:    e.cfg.Engine.VolumeConfirmation,
		},
	}
	return e.sigEng.Evaluate(in), true
}

// updateBTCOverlay refreshes the market-wide bias applied to altcoin entries.
func (e *Engine) updateBTCOverlay() {
	d, ok := e.evaluateCoin(market.BTCCoinID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.btcSignal = d.Signal
	if tf, ok := d.Timeframes["1h"]; ok {
		e.btcDirection = tf.Direction
	}
	e.lastDecisions[market.BTCCoinID] = d
	e.mu.Unlock()
}

func (e *Engine) refreshFunding(ctx context.Context) {
	if e.funding == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rates, err := e.funding.FundingRates(fctx)
	if err != nil {
		log.Debug().Err(err).Msg("[trader] funding rates unavailable")
		return
	}
	// Key by coin id; the signal engine looks coins up that way.
	byCoin := make(map[string]float64, len(rates))
	for _, coin := range e.mkt.Universe() {
		if r, ok := rates[coin.Binance]; ok {
			byCoin[coin.ID] = r
		}
	}
	e.mu.Lock()
	e.fundingRates = byCoin
	e.mu.Unlock()
}

// rolloverDaily resets the daily-loss baseline at the UTC day boundary.
// Equity is read before mu so lock order stays tradeMu then mu.
func (e *Engine) rolloverDaily(balance float64) {
	day := time.Now().UTC().YearDay()
	e.mu.RLock()
	same := day == e.dailyDay
	e.mu.RUnlock()
	if same {
		return
	}

	eq := e.unrealizedEquity(balance)
	e.mu.Lock()
	e.dailyDay = day
	e.dailyStart = eq
	e.mu.Unlock()
	log.Info().Str("user", e.userID).Float64("equity", eq).
		Msg("[trader] daily equity baseline rolled over")
}

// resolveUserConfigs folds the user's stored settings over the process
// defaults so per-user risk and management knobs take effect immediately.
func (e *Engine) resolveUserConfigs(user *store.User) {
	rc := e.cfg.Risk
	if user.RiskPerTradePct > 0 {
		rc.RiskPerTradePct = user.RiskPerTradePct
	}
	if user.RiskMode != "" {
		rc.RiskMode = user.RiskMode
	}
	if user.DollarRiskPerTrade > 0 {
		rc.DollarRiskPerTrade = user.DollarRiskPerTrade
	}
	if user.DefaultLeverage > 0 {
		rc.DefaultLeverage = user.DefaultLeverage
	}
	if user.MaxOpenTrades > 0 {
		rc.MaxOpenTrades = user.MaxOpenTrades
		rc.MaxConcurrentTrades = user.MaxOpenTrades
	}
	if user.MaxBalancePercentPerTrade > 0 {
		rc.MaxBalancePercentPerTrade = user.MaxBalancePercentPerTrade
	}
	if user.CooldownHours > 0 {
		rc.CooldownHours = user.CooldownHours
	}

	mc := e.cfg.Manage
	mc.AutoBreakeven = user.AutoBreakeven
	mc.AutoTrailingStop = user.AutoTrailingStop

	e.mu.Lock()
	e.manCfg = mc
	e.simCfg = sim.DefaultConfig(rc)
	e.riskCfg = rc
	e.riskEng = risk.NewEngine(rc)
	e.mu.Unlock()
}

// tradeFromFill opens the bookkeeping record for a filled intent. The entry
// fee is folded into PartialPnl so closed pnl needs no separate fee column.
func (e *Engine) tradeFromFill(intent *risk.OrderIntent, fill *exchange.OrderFill, now int64) *manage.Trade {
	return &manage.Trade{
		ID:                   uuid.New().String(),
		UserID:               e.userID,
		CoinID:               intent.CoinID,
		Symbol:               intent.Symbol,
		Direction:            intent.Direction,
		Status:               manage.StatusOpen,
		EntryPrice:           fill.Price,
		EntryTime:            now,
		EntryScore:           intent.Score,
		Strategy:             intent.Strategy,
		Regime:               intent.Regime,
		PositionSize:         fill.Notional,
		OriginalPositionSize: fill.Notional,
		Leverage:             intent.Leverage,
		StopLoss:             intent.StopLoss,
		OriginalStopLoss:     intent.StopLoss,
		TakeProfit1:          intent.TakeProfit1,
		TakeProfit2:          intent.TakeProfit2,
		TakeProfit3:          intent.TakeProfit3,
		ActiveTP:             1,
		MaxPriceSeen:         fill.Price,
		MinPriceSeen:         fill.Price,
		PartialPnl:           -fill.Fees,
	}
}

// CloseAll force-closes every open trade at the current quote and flattens
// the venue. Used by the manual panic control and shutdown in live mode.
func (e *Engine) CloseAll(ctx context.Context, reason string) int {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	closed := 0
	for _, t := range e.open {
		quote, ok := e.mkt.GetQuote(t.CoinID)
		if !ok || quote.PriceUSD <= 0 {
			log.Warn().Str("trade", t.ID).Msg("[trader] no quote for forced close, skipping")
			continue
		}
		now := time.Now().UnixMilli()
		snap := sim.Snapshot{Price: quote.PriceUSD, High: quote.PriceUSD, Low: quote.PriceUSD, Open: quote.PriceUSD, Time: now}

		remaining := t.PositionSize
		fill, err := e.executor.ClosePosition(ctx, t, remaining, quote.PriceUSD, false, snap)
		if err != nil {
			log.Error().Err(err).Str("trade", t.ID).Msg("[trader] forced close failed")
			continue
		}
		exitPrice, fees := quote.PriceUSD, 0.0
		if fill != nil {
			exitPrice, fees = fill.Price, fill.Fees
		}

		portion := 0.0
		if t.OriginalPositionSize > 0 {
			portion = remaining / t.OriginalPositionSize
		}
		t.Status = manage.StatusClosed
		t.ExitPrice = exitPrice
		t.ExitTime = now
		t.ExitReason = manage.ExitReasonManual
		t.Pnl = t.PartialPnl + t.PnlUSD(exitPrice, remaining) - fees
		if margin := t.OriginalPositionSize / float64(t.Leverage); margin > 0 {
			t.PnlPercent = t.Pnl / margin * 100
		}
		t.PositionSize = 0
		t.Actions = append(t.Actions, manage.Action{
			Type:    manage.ActionExit,
			Time:    now,
			Price:   exitPrice,
			Portion: portion,
			Reason:  reason,
		})

		if err := e.trades.Save(t); err != nil {
			log.Error().Err(err).Str("trade", t.ID).Msg("[trader] trade save failed")
		}
		e.hub.Publish(events.TypeTrade, map[string]interface{}{
			"action": manage.ActionExit,
			"reason": reason,
			"trade":  *t,
		})
		e.bookClose(t)
		closed++
	}

	if err := e.executor.CloseAllPositions(ctx); err != nil {
		log.Error().Err(err).Str("user", e.userID).Msg("[trader] venue flatten failed")
	}
	return closed
}

// Equity is the user's balance plus unrealized pnl across open trades at the
// freshest quotes.
func (e *Engine) Equity() float64 {
	user, err := e.users.Find(e.userID)
	if err != nil || user == nil {
		return 0
	}
	return e.unrealizedEquity(user.PaperBalance)
}

func (e *Engine) unrealizedEquity(balance float64) float64 {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	eq := balance
	for _, t := range e.open {
		if quote, ok := e.mkt.GetQuote(t.CoinID); ok && quote.PriceUSD > 0 {
			eq += t.PartialPnl + t.PnlUSD(quote.PriceUSD, t.PositionSize)
		}
	}
	return eq
}

// Decisions returns the latest per-coin evaluations from the slow cycle.
func (e *Engine) Decisions() map[string]signal.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]signal.Decision, len(e.lastDecisions))
	for k, v := range e.lastDecisions {
		out[k] = v
	}
	return out
}

// Status summarizes the engine for the API.
func (e *Engine) Status() map[string]interface{} {
	e.tradeMu.Lock()
	openCount := len(e.open)
	e.tradeMu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	status := map[string]interface{}{
		"user":          e.userID,
		"running":       e.running,
		"executor":      e.executor.Name(),
		"cycle_count":   e.cycleCount,
		"open_trades":   openCount,
		"btc_signal":    e.btcSignal,
		"btc_direction": string(e.btcDirection),
		"kill_switch":   e.killSwitch,
		"daily_start":   e.dailyStart,
	}
	if !e.lastCycle.IsZero() {
		status["last_cycle"] = e.lastCycle.UnixMilli()
	}
	if e.running {
		status["uptime_sec"] = int64(time.Since(e.startTime).Seconds())
	}
	return status
}

// openListLocked snapshots the open trades. Caller holds tradeMu.
func (e *Engine) openListLocked() []*manage.Trade {
	out := make([]*manage.Trade, 0, len(e.open))
	for _, t := range e.open {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"confluence-trader/config"
)

// Service owns the quote and candle caches and the two ingestion paths:
// the 5-minute background refresher and the streaming ticker subscriber.
// Readers get freshness-gated snapshots; writers never block readers for
// longer than a map swap.
type Service struct {
	cfg      config.MarketConfig
	universe []CoinMeta
	byID     map[string]CoinMeta

	quoteProviders  []QuoteProvider
	candleProviders []CandleProvider
	gecko           *CoinGecko

	mu           sync.RWMutex
	quotes       map[string]quoteEntry
	candles      map[string]CandleSet
	priceHistory map[string][]PricePoint

	disabledMu sync.Mutex
	disabled   map[string]bool // geo-blocked providers, process lifetime

	refreshing atomic.Bool
	refreshNow chan struct{}

	readyOnce sync.Once
	readyCh   chan struct{}

	stream *Stream

	browserMu   sync.Mutex
	browserSubs map[chan BrowserTick]bool
}

type quoteEntry struct {
	quote    Quote
	streamed bool
}

func NewService(cfg config.MarketConfig, universe []CoinMeta) *Service {
	s := &Service{
		cfg:          cfg,
		universe:     universe,
		byID:         make(map[string]CoinMeta, len(universe)),
		quotes:       make(map[string]quoteEntry),
		candles:      make(map[string]CandleSet),
		priceHistory: make(map[string][]PricePoint),
		disabled:     make(map[string]bool),
		refreshNow:   make(chan struct{}, 1),
		readyCh:      make(chan struct{}),
		browserSubs:  make(map[chan BrowserTick]bool),
	}
	for _, coin := range universe {
		s.byID[coin.ID] = coin
	}

	gecko := NewCoinGecko(cfg.QuoteTimeout)
	binance := NewBinanceSpot(cfg.RequestTimeout)
	okx := NewOKX(cfg.RequestTimeout)
	s.gecko = gecko

	for _, name := range cfg.ProviderOrder {
		switch name {
		case "coingecko":
			s.quoteProviders = append(s.quoteProviders, gecko)
		case "binance":
			s.quoteProviders = append(s.quoteProviders, binance)
			s.candleProviders = append(s.candleProviders, binance)
		case "okx":
			s.quoteProviders = append(s.quoteProviders, okx)
			s.candleProviders = append(s.candleProviders, okx)
		default:
			log.Warn().Str("provider", name).Msg("[market] unknown provider in order, skipping")
		}
	}

	if cfg.StreamEnabled {
		s.stream = NewStream(universe, s.applyStreamTick)
	}
	return s
}

// Start launches the refresher and, when enabled, the stream subscriber.
// Both stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.refreshLoop(ctx)
	if s.stream != nil {
		go s.stream.Run(ctx)
	}
}

func (s *Service) Universe() []CoinMeta { return s.universe }

func (s *Service) Coin(coinID string) (CoinMeta, bool) {
	m, ok := s.byID[coinID]
	return m, ok
}

// GetQuote returns the cached quote, or false when absent or stale.
// Streamed quotes go stale faster than polled ones.
func (s *Service) GetQuote(coinID string) (Quote, bool) {
	s.mu.RLock()
	entry, ok := s.quotes[coinID]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}

	staleMs := s.cfg.QuoteStaleMs
	if entry.streamed {
		staleMs = s.cfg.StreamStaleMs
	}
	if time.Now().UnixMilli()-entry.quote.LastUpdated > staleMs {
		return Quote{}, false
	}
	return entry.quote, true
}

// GetCandles returns the cached per-timeframe slices for a coin. The slices
// are replaced wholesale on refresh and never mutated in place, so callers
// may hold them across ticks.
func (s *Service) GetCandles(coinID string) (CandleSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.candles[coinID]
	return set, ok
}

// GetPriceHistory returns the daily fallback series, if one was fetched.
func (s *Service) GetPriceHistory(coinID string) ([]PricePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.priceHistory[coinID]
	return h, ok
}

// WaitUntilReady blocks until the first refresh cycle completes or ctx ends.
func (s *Service) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerRefresh requests an immediate refresh. Non-blocking; if a refresh
// is already queued or running the request is dropped.
func (s *Service) TriggerRefresh() {
	select {
	case s.refreshNow <- struct{}{}:
	default:
	}
}

// RefreshIfStale triggers a refresh when the quote cache has gone stale.
func (s *Service) RefreshIfStale() {
	s.mu.RLock()
	newest := int64(0)
	for _, e := range s.quotes {
		if e.quote.LastUpdated > newest {
			newest = e.quote.LastUpdated
		}
	}
	s.mu.RUnlock()

	if time.Now().UnixMilli()-newest > s.cfg.QuoteStaleMs {
		s.TriggerRefresh()
	}
}

// SubscribeBrowser registers a channel receiving stream ticks. Slow
// subscribers drop messages rather than block the stream.
func (s *Service) SubscribeBrowser(ch chan BrowserTick) {
	s.browserMu.Lock()
	s.browserSubs[ch] = true
	s.browserMu.Unlock()
}

func (s *Service) UnsubscribeBrowser(ch chan BrowserTick) {
	s.browserMu.Lock()
	if _, ok := s.browserSubs[ch]; ok {
		delete(s.browserSubs, ch)
		close(ch)
	}
	s.browserMu.Unlock()
}

func (s *Service) notifyBrowsers(tick BrowserTick) {
	s.browserMu.Lock()
	for ch := range s.browserSubs {
		select {
		case ch <- tick:
		default:
		}
	}
	s.browserMu.Unlock()
}

// applyStreamTick folds one stream update into the quote cache.
func (s *Service) applyStreamTick(symbol string, price, changePct, volume24h float64) {
	var coin CoinMeta
	found := false
	for _, m := range s.universe {
		if m.Binance == symbol {
			coin = m
			found = true
			break
		}
	}
	if !found {
		return
	}

	now := time.Now().UnixMilli()
	s.mu.Lock()
	prev := s.quotes[coin.ID]
	q := Quote{
		CoinID:       coin.ID,
		PriceUSD:     price,
		Change24hPct: changePct,
		Volume24h:    volume24h,
		MarketCap:    prev.quote.MarketCap, // stream has no cap; keep polled value
		LastUpdated:  now,
	}
	s.quotes[coin.ID] = quoteEntry{quote: q, streamed: true}
	s.mu.Unlock()

	s.notifyBrowsers(BrowserTick{CoinID: coin.ID, Price: price, Change24hPct: changePct})
}

func (s *Service) isDisabled(name string) bool {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()
	return s.disabled[name]
}

func (s *Service) disableProvider(name string) {
	s.disabledMu.Lock()
	s.disabled[name] = true
	s.disabledMu.Unlock()
	log.Warn().Str("provider", name).Msg("[market] provider geo-blocked, disabled for process lifetime")
}

package market

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// refreshLoop runs one immediate refresh, then wakes on the interval or on
// an on-demand trigger. A single-holder flag guarantees only one refresh
// runs at a time; concurrent triggers observe the flag and return.
func (s *Service) refreshLoop(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[market] refresher stopped")
			return
		case <-ticker.C:
			s.refresh(ctx)
		case <-s.refreshNow:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer s.refreshing.Store(false)

	start := time.Now()
	quotesOK := s.refreshQuotes(ctx)
	s.refreshCandles(ctx)

	if quotesOK {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	log.Info().Dur("took", time.Since(start)).Msg("[market] refresh cycle complete")
}

// refreshQuotes walks the provider chain until one returns a non-empty
// quote set, then swaps the cache atomically.
func (s *Service) refreshQuotes(ctx context.Context) bool {
	for _, p := range s.quoteProviders {
		if s.isDisabled(p.Name()) {
			continue
		}

		quotes, err := s.fetchQuotesWithRetry(ctx, p)
		if err != nil {
			if errors.Is(err, ErrGeoBlocked) {
				s.disableProvider(p.Name())
			} else {
				log.Warn().Err(err).Str("provider", p.Name()).Msg("[market] quote fetch failed, trying next")
			}
			continue
		}

		s.mu.Lock()
		for _, q := range quotes {
			s.quotes[q.CoinID] = quoteEntry{quote: q}
		}
		s.mu.Unlock()

		log.Debug().Int("quotes", len(quotes)).Str("provider", p.Name()).Msg("[market] quotes refreshed")
		return true
	}
	log.Error().Msg("[market] all quote providers failed, keeping previous cache")
	return false
}

func (s *Service) fetchQuotesWithRetry(ctx context.Context, p QuoteProvider) ([]Quote, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
		quotes, err := p.FetchAllQuotes(qctx, s.universe)
		cancel()
		if err == nil {
			return quotes, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		wait := s.cfg.RetryBase * time.Duration(attempt+1)
		log.Warn().Str("provider", p.Name()).Dur("wait", wait).Msg("[market] rate limited, backing off")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// refreshCandles walks the tracked universe with a per-request delay. A
// failed coin keeps its previous cache entry.
func (s *Service) refreshCandles(ctx context.Context) {
	timeframes := CoreTimeframes
	if s.cfg.ExtraTimeframes {
		timeframes = AllTimeframes
	}

	for i, coin := range s.universe {
		select {
		case <-ctx.Done():
			return
		default:
		}

		set := make(CandleSet, len(timeframes))
		failed := false
		for _, tf := range timeframes {
			candles, err := s.fetchCandlesWithRetry(ctx, coin, tf)
			if err != nil {
				log.Warn().Err(err).Str("coin", coin.ID).Str("tf", string(tf)).Msg("[market] candle fetch failed, keeping previous")
				failed = true
				break
			}
			set[tf] = candles
		}

		if !failed {
			s.mu.Lock()
			s.candles[coin.ID] = set
			s.mu.Unlock()
		} else {
			s.ensureHistoryFallback(ctx, coin)
		}

		if i < len(s.universe)-1 {
			select {
			case <-time.After(s.cfg.PerCoinDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) fetchCandlesWithRetry(ctx context.Context, coin CoinMeta, tf Timeframe) ([]Candle, error) {
	var lastErr error
	for _, p := range s.candleProviders {
		if s.isDisabled(p.Name()) {
			continue
		}
		for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			candles, err := p.FetchCandles(cctx, coin, tf, 300)
			cancel()
			if err == nil && len(candles) > 0 {
				return candles, nil
			}
			if err == nil {
				err = ErrNoData
			}
			lastErr = err
			if errors.Is(err, ErrGeoBlocked) {
				s.disableProvider(p.Name())
				break
			}
			if !errors.Is(err, ErrRateLimited) {
				break // next provider
			}
			wait := s.cfg.RetryBase * time.Duration(attempt+1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// ensureHistoryFallback fetches a coarse daily series for coins with no
// candle cache at all, so the signal engine can at least answer with its
// basic 24h read.
func (s *Service) ensureHistoryFallback(ctx context.Context, coin CoinMeta) {
	s.mu.RLock()
	_, hasCandles := s.candles[coin.ID]
	_, hasHistory := s.priceHistory[coin.ID]
	s.mu.RUnlock()
	if hasCandles || hasHistory || s.isDisabled(s.gecko.Name()) {
		return
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	points, err := s.gecko.FetchPriceHistory(hctx, coin, 30)
	cancel()
	if err != nil {
		if errors.Is(err, ErrGeoBlocked) {
			s.disableProvider(s.gecko.Name())
		}
		return
	}

	s.mu.Lock()
	s.priceHistory[coin.ID] = points
	s.mu.Unlock()
}

package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"confluence-trader/market"
)

// CandleSource fetches history when the cache misses. market.BinanceSpot
// satisfies it.
type CandleSource interface {
	FetchHistoricalCandles(ctx context.Context, coin market.CoinMeta, tf market.Timeframe, startMs, endMs int64) ([]market.Candle, error)
}

// CandleCache is a directory of per-(coin, window) JSON files holding the
// multi-timeframe candle sets a run walks. One file per request window keeps
// repeat runs over the same range fully offline and byte-reproducible.
type CandleCache struct {
	dir string
}

func NewCandleCache(dir string) *CandleCache {
	return &CandleCache{dir: dir}
}

func (c *CandleCache) path(coinID string, startMs, endMs int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%d_%d.json", coinID, startMs, endMs))
}

// Load reads a cached candle set, reporting whether the file existed and
// parsed. A corrupt file reads as a miss and will be refetched.
func (c *CandleCache) Load(coinID string, startMs, endMs int64) (market.CandleSet, bool) {
	data, err := os.ReadFile(c.path(coinID, startMs, endMs))
	if err != nil {
		return nil, false
	}
	var set market.CandleSet
	if err := json.Unmarshal(data, &set); err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("[backtest] corrupt candle cache file, refetching")
		return nil, false
	}
	if len(set[market.TF1h]) == 0 {
		return nil, false
	}
	return set, true
}

// Save writes the candle set for a window. Failures are logged, not fatal;
// the run proceeds on the in-memory copy.
func (c *CandleCache) Save(coinID string, startMs, endMs int64, set market.CandleSet) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		log.Warn().Err(err).Msg("[backtest] cannot create candle cache dir")
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("[backtest] candle cache marshal failed")
		return
	}
	if err := os.WriteFile(c.path(coinID, startMs, endMs), data, 0644); err != nil {
		log.Warn().Err(err).Str("coin", coinID).Msg("[backtest] candle cache write failed")
	}
}

// loadOrFetch returns the {1h,4h,1d} candle set for the window, cache first.
// Each timeframe gets warmupBars extra bars before startMs so indicators are
// warm by the time trading starts.
func loadOrFetch(ctx context.Context, cache *CandleCache, source CandleSource, coin market.CoinMeta, startMs, endMs int64, warmupBars int) (market.CandleSet, error) {
	if cache != nil {
		if set, ok := cache.Load(coin.ID, startMs, endMs); ok {
			return set, nil
		}
	}
	if source == nil {
		return nil, fmt.Errorf("no cached candles for %s and no source configured", coin.ID)
	}

	set := make(market.CandleSet, len(market.CoreTimeframes))
	for _, tf := range market.CoreTimeframes {
		from := startMs - int64(warmupBars)*tf.Millis()
		candles, err := source.FetchHistoricalCandles(ctx, coin, tf, from, endMs)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s: %w", coin.ID, tf, err)
		}
		set[tf] = candles
	}
	if len(set[market.TF1h]) == 0 {
		return nil, fmt.Errorf("no 1h candles for %s in window", coin.ID)
	}
	if cache != nil {
		cache.Save(coin.ID, startMs, endMs, set)
	}
	return set, nil
}

package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// First-class provider outcomes. 429 and 451 drive the refresher's backoff
// and provider-disable logic; everything else is UpstreamUnavailable.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrGeoBlocked  = errors.New("provider geo-blocked")
	ErrNoData      = errors.New("provider returned no data")
)

// QuoteProvider fetches spot quotes for the tracked universe, in one call
// where the provider supports it.
type QuoteProvider interface {
	Name() string
	FetchAllQuotes(ctx context.Context, universe []CoinMeta) ([]Quote, error)
}

// CandleProvider fetches OHLCV series for a single coin and timeframe.
type CandleProvider interface {
	Name() string
	FetchCandles(ctx context.Context, coin CoinMeta, tf Timeframe, limit int) ([]Candle, error)
	FetchHistoricalCandles(ctx context.Context, coin CoinMeta, tf Timeframe, startMs, endMs int64) ([]Candle, error)
}

// classifyResponse maps HTTP status codes onto provider outcomes.
func classifyResponse(name string, resp *resty.Response) error {
	switch resp.StatusCode() {
	case 429:
		return fmt.Errorf("%s: %w", name, ErrRateLimited)
	case 451:
		return fmt.Errorf("%s: %w", name, ErrGeoBlocked)
	default:
		return fmt.Errorf("%s: status %d", name, resp.StatusCode())
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// anyToFloat handles the mixed number/string arrays Binance-style kline
// endpoints return.
func anyToFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return parseFloat(x)
	case int64:
		return float64(x)
	}
	return 0
}

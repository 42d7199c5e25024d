package market

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// CoinGecko is the primary quote provider: one bulk markets call covers the
// whole tracked universe. It also serves the daily price-history fallback.
type CoinGecko struct {
	http *resty.Client
}

func NewCoinGecko(timeout time.Duration) *CoinGecko {
	return &CoinGecko{
		http: resty.New().
			SetBaseURL("https://api.coingecko.com/api/v3").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

type geckoMarket struct {
	ID           string  `json:"id"`
	CurrentPrice float64 `json:"current_price"`
	MarketCap    float64 `json:"market_cap"`
	Volume24h    float64 `json:"total_volume"`
	Change24h    float64 `json:"price_change_percentage_24h"`
}

func (c *CoinGecko) FetchAllQuotes(ctx context.Context, universe []CoinMeta) ([]Quote, error) {
	ids := make([]string, len(universe))
	for i, m := range universe {
		ids[i] = m.ID
	}

	var markets []geckoMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"ids":         strings.Join(ids, ","),
			"per_page":    "250",
		}).
		SetResult(&markets).
		Get("/coins/markets")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(c.Name(), resp)
	}
	if len(markets) == 0 {
		return nil, ErrNoData
	}

	now := time.Now().UnixMilli()
	quotes := make([]Quote, 0, len(markets))
	for _, m := range markets {
		quotes = append(quotes, Quote{
			CoinID:       m.ID,
			PriceUSD:     m.CurrentPrice,
			Change24hPct: m.Change24h,
			Volume24h:    m.Volume24h,
			MarketCap:    m.MarketCap,
			LastUpdated:  now,
		})
	}
	return quotes, nil
}

// PricePoint is one sample of the daily price-history fallback.
type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

type geckoChart struct {
	Prices [][]float64 `json:"prices"`
}

// FetchPriceHistory returns daily price points for the last `days` days.
// Used as a fallback series when no candle cache exists for a coin.
func (c *CoinGecko) FetchPriceHistory(ctx context.Context, coin CoinMeta, days int) ([]PricePoint, error) {
	var chart geckoChart
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"days":        strconv.Itoa(days),
			"interval":    "daily",
		}).
		SetResult(&chart).
		Get("/coins/" + coin.ID + "/market_chart")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(c.Name(), resp)
	}

	points := make([]PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if len(p) < 2 {
			continue
		}
		points = append(points, PricePoint{Timestamp: int64(p[0]), Price: p[1]})
	}
	if len(points) == 0 {
		return nil, ErrNoData
	}
	return points, nil
}

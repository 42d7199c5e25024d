package market

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// BinanceSpot serves quotes (24h tickers) and candles from the public spot
// API. It is the quote fallback behind CoinGecko and the primary candle
// source.
type BinanceSpot struct {
	http *resty.Client
}

func NewBinanceSpot(timeout time.Duration) *BinanceSpot {
	return &BinanceSpot{
		http: resty.New().
			SetBaseURL("https://api.binance.com/api/v3").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (b *BinanceSpot) Name() string { return "binance" }

type binanceTicker struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"lastPrice,string"`
	PriceChange float64 `json:"priceChangePercent,string"`
	QuoteVolume float64 `json:"quoteVolume,string"`
}

func (b *BinanceSpot) FetchAllQuotes(ctx context.Context, universe []CoinMeta) ([]Quote, error) {
	var tickers []binanceTicker
	resp, err := b.http.R().
		SetContext(ctx).
		SetResult(&tickers).
		Get("/ticker/24hr")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(b.Name(), resp)
	}

	bySymbol := make(map[string]binanceTicker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	now := time.Now().UnixMilli()
	quotes := make([]Quote, 0, len(universe))
	for _, coin := range universe {
		t, ok := bySymbol[coin.Binance]
		if !ok {
			continue
		}
		quotes = append(quotes, Quote{
			CoinID:       coin.ID,
			PriceUSD:     t.LastPrice,
			Change24hPct: t.PriceChange,
			Volume24h:    t.QuoteVolume,
			LastUpdated:  now,
		})
	}
	if len(quotes) == 0 {
		return nil, ErrNoData
	}
	return quotes, nil
}

func (b *BinanceSpot) FetchCandles(ctx context.Context, coin CoinMeta, tf Timeframe, limit int) ([]Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	return b.klines(ctx, map[string]string{
		"symbol":   coin.Binance,
		"interval": string(tf),
		"limit":    strconv.Itoa(limit),
	})
}

func (b *BinanceSpot) FetchHistoricalCandles(ctx context.Context, coin CoinMeta, tf Timeframe, startMs, endMs int64) ([]Candle, error) {
	// Binance pages at 1000 klines per request.
	var all []Candle
	cursor := startMs
	for cursor < endMs {
		batch, err := b.klines(ctx, map[string]string{
			"symbol":    coin.Binance,
			"interval":  string(tf),
			"startTime": strconv.FormatInt(cursor, 10),
			"endTime":   strconv.FormatInt(endMs, 10),
			"limit":     "1000",
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		next := batch[len(batch)-1].OpenTime + tf.Millis()
		if next <= cursor {
			break
		}
		cursor = next
	}
	return all, nil
}

// klines decodes Binance's mixed-type kline arrays:
// [openTime, open, high, low, close, volume, closeTime, ...]
func (b *BinanceSpot) klines(ctx context.Context, params map[string]string) ([]Candle, error) {
	var raw [][]interface{}
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&raw).
		Get("/klines")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(b.Name(), resp)
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: int64(anyToFloat(k[0])),
			Open:     anyToFloat(k[1]),
			High:     anyToFloat(k[2]),
			Low:      anyToFloat(k[3]),
			Close:    anyToFloat(k[4]),
			Volume:   anyToFloat(k[5]),
		})
	}
	return candles, nil
}

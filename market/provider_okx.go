package market

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// OKX is the last quote fallback and secondary candle source.
type OKX struct {
	http *resty.Client
}

func NewOKX(timeout time.Duration) *OKX {
	return &OKX{
		http: resty.New().
			SetBaseURL("https://www.okx.com/api/v5").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (o *OKX) Name() string { return "okx" }

type okxResponse struct {
	Code string     `json:"code"`
	Data [][]string `json:"data"`
}

type okxTickerResponse struct {
	Code string `json:"code"`
	Data []struct {
		InstID    string `json:"instId"`
		Last      string `json:"last"`
		Open24h   string `json:"open24h"`
		VolCcy24h string `json:"volCcy24h"`
	} `json:"data"`
}

func (o *OKX) FetchAllQuotes(ctx context.Context, universe []CoinMeta) ([]Quote, error) {
	var body okxTickerResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetQueryParam("instType", "SPOT").
		SetResult(&body).
		Get("/market/tickers")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(o.Name(), resp)
	}

	byInst := make(map[string]int, len(body.Data))
	for i, t := range body.Data {
		byInst[t.InstID] = i
	}

	now := time.Now().UnixMilli()
	quotes := make([]Quote, 0, len(universe))
	for _, coin := range universe {
		i, ok := byInst[coin.OKX]
		if !ok {
			continue
		}
		t := body.Data[i]
		last := parseFloat(t.Last)
		open := parseFloat(t.Open24h)
		change := 0.0
		if open > 0 {
			change = (last/open - 1) * 100
		}
		quotes = append(quotes, Quote{
			CoinID:       coin.ID,
			PriceUSD:     last,
			Change24hPct: change,
			Volume24h:    parseFloat(t.VolCcy24h),
			LastUpdated:  now,
		})
	}
	if len(quotes) == 0 {
		return nil, ErrNoData
	}
	return quotes, nil
}

// okxBar maps timeframes onto OKX bar strings (minutes lowercase, the rest
// uppercase).
func okxBar(tf Timeframe) string {
	switch tf {
	case TF15m:
		return "15m"
	case TF1h:
		return "1H"
	case TF4h:
		return "4H"
	case TF1d:
		return "1D"
	case TF1w:
		return "1W"
	}
	return "1H"
}

func (o *OKX) FetchCandles(ctx context.Context, coin CoinMeta, tf Timeframe, limit int) ([]Candle, error) {
	if limit <= 0 || limit > 300 {
		limit = 300
	}
	return o.candles(ctx, "/market/candles", map[string]string{
		"instId": coin.OKX,
		"bar":    okxBar(tf),
		"limit":  strconv.Itoa(limit),
	})
}

func (o *OKX) FetchHistoricalCandles(ctx context.Context, coin CoinMeta, tf Timeframe, startMs, endMs int64) ([]Candle, error) {
	// The history endpoint walks backwards: "after" returns records older
	// than the given timestamp.
	var all []Candle
	cursor := endMs
	for cursor > startMs {
		batch, err := o.candles(ctx, "/market/history-candles", map[string]string{
			"instId": coin.OKX,
			"bar":    okxBar(tf),
			"after":  strconv.FormatInt(cursor, 10),
			"limit":  "100",
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(batch, all...)
		next := batch[0].OpenTime
		if next >= cursor {
			break
		}
		cursor = next
	}
	// Trim anything older than startMs picked up by the last page.
	trimmed := all[:0]
	for _, c := range all {
		if c.OpenTime >= startMs {
			trimmed = append(trimmed, c)
		}
	}
	return trimmed, nil
}

// candles decodes OKX string arrays [ts, o, h, l, c, vol, ...], newest first.
func (o *OKX) candles(ctx context.Context, path string, params map[string]string) ([]Candle, error) {
	var body okxResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyResponse(o.Name(), resp)
	}

	out := make([]Candle, 0, len(body.Data))
	for i := len(body.Data) - 1; i >= 0; i-- { // reverse to oldest-first
		row := body.Data[i]
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Candle{
			OpenTime: ts,
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	return out, nil
}

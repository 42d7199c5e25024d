package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"confluence-trader/manage"
	"confluence-trader/risk"
	"confluence-trader/signal"
	"confluence-trader/sim"
)

const (
	BinanceMainnetURL = "https://fapi.binance.com"
	BinanceTestnetURL = "https://testnet.binancefuture.com"
)

// BinanceFutures is the USDT-M futures client used for live execution and
// funding data. With dryRun set it signs nothing and reports synthetic fills.
type BinanceFutures struct {
	apiKey           string
	secretKey        string
	baseURL          string
	httpClient       *http.Client
	serverTimeOffset int64 // offset between local and Binance server time, ms
	dryRun           bool
	takerFee         float64
}

type AccountInfo struct {
	TotalWalletBalance    float64 `json:"totalWalletBalance,string"`
	AvailableBalance      float64 `json:"availableBalance,string"`
	TotalUnrealizedProfit float64 `json:"totalUnrealizedProfit,string"`
	TotalMarginBalance    float64 `json:"totalMarginBalance,string"`
}

type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	Leverage         int     `json:"leverage,string"`
	MarkPrice        float64 `json:"markPrice,string"`
}

type Order struct {
	OrderID     int64   `json:"orderId"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Price       float64 `json:"price,string"`
	AvgPrice    float64 `json:"avgPrice,string"`
	OrigQty     float64 `json:"origQty,string"`
	ExecutedQty float64 `json:"executedQty,string"`
	UpdateTime  int64   `json:"updateTime"`
}

func NewBinanceFutures(apiKey, secretKey string, testnet, dryRun bool, takerFee float64) *BinanceFutures {
	baseURL := BinanceMainnetURL
	if testnet {
		baseURL = BinanceTestnetURL
	}

	c := &BinanceFutures{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dryRun:   dryRun,
		takerFee: takerFee,
	}

	if !dryRun {
		c.syncServerTime()
	}
	return c
}

func (c *BinanceFutures) Name() string {
	if c.dryRun {
		return "binance-dry"
	}
	return "binance"
}

// syncServerTime fetches server time and stores the local offset so signed
// timestamps land inside the recv window.
func (c *BinanceFutures) syncServerTime() {
	localTime := time.Now().UnixMilli()

	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		log.Warn().Err(err).Msg("[binance] server time sync failed")
		return
	}
	defer resp.Body.Close()

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Warn().Err(err).Msg("[binance] server time parse failed")
		return
	}
	c.serverTimeOffset = result.ServerTime - localTime
	log.Debug().Int64("offset_ms", c.serverTimeOffset).Msg("[binance] server time synced")
}

func (c *BinanceFutures) sign(params url.Values) string {
	timestamp := time.Now().UnixMilli() + c.serverTimeOffset
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", "10000")

	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(params.Encode()))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *BinanceFutures) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("signature", c.sign(params))
	}

	var body io.Reader
	reqURL := c.baseURL + endpoint
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance api status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// GetAccountInfo retrieves account balance and margin info.
func (c *BinanceFutures) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var account AccountInfo
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("parse account info: %w", err)
	}
	return &account, nil
}

// GetPositions returns all non-flat positions.
func (c *BinanceFutures) GetPositions(ctx context.Context) ([]Position, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var all []Position
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	positions := all[:0]
	for _, p := range all {
		if p.PositionAmt != 0 {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// SetLeverage sets the leverage for a symbol before entering.
func (c *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

// CancelAllOrders cancels all resting orders for a symbol.
func (c *BinanceFutures) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true)
	return err
}

// FundingRates returns the current funding rate per symbol from the premium
// index. Unsigned endpoint.
func (c *BinanceFutures) FundingRates(ctx context.Context) (map[string]float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", url.Values{}, false)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse premium index: %w", err)
	}
	rates := make(map[string]float64, len(rows))
	for _, r := range rows {
		if f, err := strconv.ParseFloat(r.LastFundingRate, 64); err == nil {
			rates[r.Symbol] = f
		}
	}
	return rates, nil
}

// PlaceOrder opens the intent with a market order. Quantity is the intent's
// notional divided by the reference price, floored to the symbol's step.
func (c *BinanceFutures) PlaceOrder(ctx context.Context, intent *risk.OrderIntent, snap sim.Snapshot) (*OrderFill, error) {
	if intent == nil || intent.Size <= 0 {
		return nil, nil
	}
	price := snap.Price
	if price <= 0 {
		price = intent.Entry
	}
	qty := quantityFor(intent.Symbol, intent.Size, price)
	if qty.IsZero() {
		return nil, fmt.Errorf("%s order below quantity step (%.2f USD @ %.4f)", intent.Symbol, intent.Size, price)
	}

	side := "BUY"
	if intent.Direction == signal.SideShort {
		side = "SELL"
	}

	if c.dryRun {
		log.Info().Str("symbol", intent.Symbol).Str("side", side).Str("qty", qty.String()).
			Msg("[binance] dry run, order not sent")
		return &OrderFill{Price: price, Notional: intent.Size, Fees: intent.Size * c.takerFee}, nil
	}

	if err := c.SetLeverage(ctx, intent.Symbol, intent.Leverage); err != nil {
		log.Warn().Err(err).Str("symbol", intent.Symbol).Msg("[binance] set leverage failed")
	}

	order, err := c.marketOrder(ctx, intent.Symbol, side, qty, false)
	if err != nil {
		return nil, err
	}
	fillPrice := order.AvgPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	notional := order.ExecutedQty * fillPrice
	if notional <= 0 {
		notional = intent.Size
	}
	return &OrderFill{Price: fillPrice, Notional: notional, Fees: notional * c.takerFee}, nil
}

// ClosePosition unwinds notional USD of the trade with a reduce-only market
// order. The maker flag is advisory here; the venue decides the real fill.
func (c *BinanceFutures) ClosePosition(ctx context.Context, t *manage.Trade, notional, trigger float64, maker bool, snap sim.Snapshot) (*OrderFill, error) {
	price := trigger
	if price <= 0 {
		price = snap.Price
	}
	qty := quantityFor(t.Symbol, notional, price)
	if qty.IsZero() {
		return nil, fmt.Errorf("%s close below quantity step (%.2f USD)", t.Symbol, notional)
	}

	// Closing a long sells, closing a short buys.
	side := "SELL"
	if t.Direction == signal.SideShort {
		side = "BUY"
	}

	if c.dryRun {
		log.Info().Str("symbol", t.Symbol).Str("side", side).Str("qty", qty.String()).
			Msg("[binance] dry run, close not sent")
		return &OrderFill{Price: price, Notional: notional, Fees: notional * c.takerFee}, nil
	}

	order, err := c.marketOrder(ctx, t.Symbol, side, qty, true)
	if err != nil {
		return nil, err
	}
	fillPrice := order.AvgPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	return &OrderFill{Price: fillPrice, Notional: notional, Fees: notional * c.takerFee}, nil
}

// UpdateStopLoss replaces the resting protective stop with a STOP_MARKET that
// closes the whole position at the new level.
func (c *BinanceFutures) UpdateStopLoss(ctx context.Context, t *manage.Trade, stop float64) error {
	if c.dryRun {
		log.Info().Str("symbol", t.Symbol).Float64("stop", stop).Msg("[binance] dry run, stop not moved")
		return nil
	}
	if err := c.CancelAllOrders(ctx, t.Symbol); err != nil {
		return fmt.Errorf("cancel orders for %s: %w", t.Symbol, err)
	}

	side := "SELL"
	if t.Direction == signal.SideShort {
		side = "BUY"
	}
	params := url.Values{}
	params.Set("symbol", t.Symbol)
	params.Set("side", side)
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", priceFor(t.Symbol, stop).String())
	params.Set("closePosition", "true")
	params.Set("workingType", "MARK_PRICE")

	_, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	return err
}

// CloseAllPositions flattens every open position and cancels its orders.
func (c *BinanceFutures) CloseAllPositions(ctx context.Context) error {
	if c.dryRun {
		log.Info().Msg("[binance] dry run, close all skipped")
		return nil
	}
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if err := c.CancelAllOrders(ctx, p.Symbol); err != nil {
			log.Warn().Err(err).Str("symbol", p.Symbol).Msg("[binance] cancel orders failed")
		}
		side := "SELL"
		qty := p.PositionAmt
		if qty < 0 {
			side = "BUY"
			qty = -qty
		}
		amount := decimal.NewFromFloat(qty).RoundFloor(quantityPrecision(p.Symbol))
		if amount.IsZero() {
			continue
		}
		if _, err := c.marketOrder(ctx, p.Symbol, side, amount, true); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("[binance] close failed")
		}
	}
	return nil
}

func (c *BinanceFutures) marketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "RESULT")
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	log.Info().Str("symbol", symbol).Str("side", side).Str("qty", qty.String()).
		Bool("reduce_only", reduceOnly).Msg("[binance] placing market order")

	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	log.Info().Int64("order_id", order.OrderID).Str("status", order.Status).
		Float64("avg_price", order.AvgPrice).Msg("[binance] order placed")
	return &order, nil
}

// Futures step sizes per symbol. Quantities floor to the step so an order
// never exceeds the intended notional.
var quantityPrecisions = map[string]int32{
	"BTCUSDT":  3,
	"ETHUSDT":  3,
	"BNBUSDT":  2,
	"SOLUSDT":  0,
	"XRPUSDT":  1,
	"DOGEUSDT": 0,
	"ADAUSDT":  0,
	"AVAXUSDT": 1,
	"DOTUSDT":  1,
	"LINKUSDT": 2,
}

var pricePrecisions = map[string]int32{
	"BTCUSDT":  1,
	"ETHUSDT":  2,
	"BNBUSDT":  2,
	"SOLUSDT":  2,
	"XRPUSDT":  4,
	"DOGEUSDT": 5,
	"ADAUSDT":  4,
	"AVAXUSDT": 2,
	"DOTUSDT":  3,
	"LINKUSDT": 3,
}

func quantityPrecision(symbol string) int32 {
	if p, ok := quantityPrecisions[symbol]; ok {
		return p
	}
	return 3
}

func pricePrecision(symbol string) int32 {
	if p, ok := pricePrecisions[symbol]; ok {
		return p
	}
	return 2
}

// quantityFor converts notional USD at the reference price into a base
// quantity floored to the symbol's step.
func quantityFor(symbol string, notional, price float64) decimal.Decimal {
	if price <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(notional / price).RoundFloor(quantityPrecision(symbol))
}

func priceFor(symbol string, price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Round(pricePrecision(symbol))
}

package market

// Timeframe is one of the closed set of supported candle intervals.
// 1h is the primary timeframe; everything else supports confluence.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

// CoreTimeframes are always fetched by the refresher and cached for backtests.
var CoreTimeframes = []Timeframe{TF1h, TF4h, TF1d}

// AllTimeframes in ascending duration order.
var AllTimeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d, TF1w}

// Millis returns the interval length in epoch milliseconds.
func (tf Timeframe) Millis() int64 {
	switch tf {
	case TF15m:
		return 15 * 60 * 1000
	case TF1h:
		return 60 * 60 * 1000
	case TF4h:
		return 4 * 60 * 60 * 1000
	case TF1d:
		return 24 * 60 * 60 * 1000
	case TF1w:
		return 7 * 24 * 60 * 60 * 1000
	}
	return 0
}

func (tf Timeframe) Valid() bool {
	return tf.Millis() > 0
}

// Candle is a single OHLCV bar. OpenTime is epoch milliseconds.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// CandleSet holds the per-timeframe candle slices for one coin.
type CandleSet map[Timeframe][]Candle

// Quote is the latest spot snapshot for a coin. LastUpdated is epoch ms;
// consumers must treat the quote as stale past the configured threshold.
type Quote struct {
	CoinID       string  `json:"coin_id"`
	PriceUSD     float64 `json:"price_usd"`
	Change24hPct float64 `json:"change_24h_pct"`
	Volume24h    float64 `json:"volume_24h"`
	MarketCap    float64 `json:"market_cap"`
	LastUpdated  int64   `json:"last_updated"`
}

// CoinMeta identifies a tracked coin across providers.
type CoinMeta struct {
	ID      string `json:"id"`      // stable external id, e.g. "bitcoin"
	Symbol  string `json:"symbol"`  // display symbol, e.g. "BTC"
	Binance string `json:"binance"` // exchange symbol, e.g. "BTCUSDT"
	OKX     string `json:"okx"`     // exchange symbol, e.g. "BTC-USDT"
	Name    string `json:"name"`
}

// BTCCoinID is special-cased by the signal engine's regime override.
const BTCCoinID = "bitcoin"

// DefaultUniverse is the tracked coin set. Process-wide immutable.
func DefaultUniverse() []CoinMeta {
	return []CoinMeta{
		{ID: "bitcoin", Symbol: "BTC", Binance: "BTCUSDT", OKX: "BTC-USDT", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "ETH", Binance: "ETHUSDT", OKX: "ETH-USDT", Name: "Ethereum"},
		{ID: "solana", Symbol: "SOL", Binance: "SOLUSDT", OKX: "SOL-USDT", Name: "Solana"},
		{ID: "binancecoin", Symbol: "BNB", Binance: "BNBUSDT", OKX: "BNB-USDT", Name: "BNB"},
		{ID: "ripple", Symbol: "XRP", Binance: "XRPUSDT", OKX: "XRP-USDT", Name: "XRP"},
		{ID: "cardano", Symbol: "ADA", Binance: "ADAUSDT", OKX: "ADA-USDT", Name: "Cardano"},
		{ID: "dogecoin", Symbol: "DOGE", Binance: "DOGEUSDT", OKX: "DOGE-USDT", Name: "Dogecoin"},
		{ID: "avalanche-2", Symbol: "AVAX", Binance: "AVAXUSDT", OKX: "AVAX-USDT", Name: "Avalanche"},
		{ID: "chainlink", Symbol: "LINK", Binance: "LINKUSDT", OKX: "LINK-USDT", Name: "Chainlink"},
		{ID: "polkadot", Symbol: "DOT", Binance: "DOTUSDT", OKX: "DOT-USDT", Name: "Polkadot"},
	}
}

// BrowserTick is pushed to browser subscribers on every stream update.
type BrowserTick struct {
	CoinID       string  `json:"coin_id"`
	Price        float64 `json:"price"`
	Change24hPct float64 `json:"change_24h_pct"`
}

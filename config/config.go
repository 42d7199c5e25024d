package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Binance Futures (live execution + historical candles)
	BinanceAPIKey    string
	BinanceSecretKey string
	BinanceTestnet   bool
	LiveTrading      bool

	// Telegram notifications
	TelegramToken  string
	TelegramChatID int64

	// Server
	APIPort string

	// Authentication
	AccessPasskey string

	// Storage
	DataDir  string
	CacheDir string

	// Logging
	LogLevel string

	Market   MarketConfig
	Engine   EngineConfig
	Risk     RiskConfig
	Manage   ManageConfig
	Backtest BacktestConfig
}

// MarketConfig tunes the market-data refresher and stream subscriber.
type MarketConfig struct {
	RefreshInterval time.Duration
	QuoteStaleMs    int64 // polled quotes
	StreamStaleMs   int64 // streamed quotes
	ProviderOrder   []string
	RequestTimeout  time.Duration
	QuoteTimeout    time.Duration
	RetryBase       time.Duration
	MaxRetries      int
	PerCoinDelay    time.Duration
	StreamEnabled   bool
	ExtraTimeframes bool // fetch 15m and 1w in addition to 1h/4h/1d
}

// EngineConfig tunes the signal engine's gates and adjustments.
type EngineConfig struct {
	MinSignalScore        float64
	MinConfluence         int
	MTFDivergencePenalty  float64
	SessionStartUTC       int
	SessionEndUTC         int
	SessionPenalty        float64
	BTCOverride           bool
	PriceActionConfluence bool
	VolatilityFilter      bool
	VolumeConfirmation    bool
}

// RiskConfig carries sizing and portfolio limits. Per-user settings from the
// store override the sizing fields; these are the seed defaults.
type RiskConfig struct {
	RiskPerTradePct           float64
	RiskMode                  string // "percent" or "dollar"
	DollarRiskPerTrade        float64
	DefaultLeverage           int
	MaxOpenTrades             int
	MaxBalancePercentPerTrade float64
	CooldownHours             float64
	MakerFee                  float64
	TakerFee                  float64
	SlippageBps               float64
	MaxSlDistancePct          float64
	MinSlAtrMult              float64
	EnforceMinAtrStop         bool
	EnforceMaxStopCap         bool

	// Portfolio gates
	MaxConcurrentTrades int
	PerSymbolCap        int
	DailyLossLimitPct   float64
}

// ManageConfig tunes the open-trade management engine.
type ManageConfig struct {
	AutoBreakeven            bool
	AutoTrailingStop         bool
	AutoLockIn               bool
	ScoreRecheck             bool
	PartialTP                bool
	BreakevenRMultiple       float64
	BreakevenBufferPct       float64
	TrailingStartR           float64
	TrailingDistR            float64
	LockInLevels             []LockLevel
	PnlLockFallbackPcts      []float64
	ScoreRecheckIntervalBars int
	StopGraceBars            int
	CloseBasedStops          bool
}

// LockLevel maps progress toward TP2 to the R multiple locked in.
type LockLevel struct {
	Progress float64 `mapstructure:"progress"`
	LockR    float64 `mapstructure:"lock_r"`
}

// BacktestConfig tunes the historical runner.
type BacktestConfig struct {
	InitialBalance  float64
	RiskPerTrade    float64 // fraction, 0.02 = 2%
	DefaultLeverage int
	WarmupBars      int
	PerCoinTimeout  time.Duration
	ParallelBatch   int
	CloseBasedStops bool
}

var cfg *Config

func Load() *Config {
	godotenv.Load()

	cfg = &Config{
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceSecretKey: getEnv("BINANCE_SECRET_KEY", ""),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", true),
		LiveTrading:      getEnvBool("LIVE_TRADING", false),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

		APIPort:       getEnv("API_PORT", "8080"),
		AccessPasskey: getEnv("ACCESS_PASSKEY", ""),

		DataDir:  getEnv("DATA_DIR", "data"),
		CacheDir: getEnv("CACHE_DIR", "data/candle_cache"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		Market: MarketConfig{
			RefreshInterval: getEnvDuration("REFRESH_INTERVAL_MS", 300000),
			QuoteStaleMs:    int64(getEnvInt("QUOTE_STALE_MS", 300000)),
			StreamStaleMs:   int64(getEnvInt("STREAM_STALE_MS", 30000)),
			ProviderOrder:   getEnvList("PROVIDER_ORDER", []string{"coingecko", "binance", "okx"}),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT_MS", 15000),
			QuoteTimeout:    getEnvDuration("QUOTE_TIMEOUT_MS", 10000),
			RetryBase:       getEnvDuration("RETRY_BASE_MS", 10000),
			MaxRetries:      getEnvInt("RETRY_MAX", 3),
			PerCoinDelay:    getEnvDuration("PER_COIN_DELAY_MS", 2000),
			StreamEnabled:   getEnvBool("STREAM_ENABLED", true),
			ExtraTimeframes: getEnvBool("EXTRA_TIMEFRAMES", false),
		},

		Engine: EngineConfig{
			MinSignalScore:        getEnvFloat("MIN_SIGNAL_SCORE", 52),
			MinConfluence:         getEnvInt("MIN_CONFLUENCE_FOR_SIGNAL", 2),
			MTFDivergencePenalty:  getEnvFloat("MTF_DIVERGENCE_PENALTY", 10),
			SessionStartUTC:       getEnvInt("SESSION_START_UTC", 12),
			SessionEndUTC:         getEnvInt("SESSION_END_UTC", 22),
			SessionPenalty:        getEnvFloat("SESSION_PENALTY", 5),
			BTCOverride:           getEnvBool("BTC_OVERRIDE", true),
			PriceActionConfluence: getEnvBool("PRICE_ACTION_CONFLUENCE", true),
			VolatilityFilter:      getEnvBool("VOLATILITY_FILTER", true),
			VolumeConfirmation:    getEnvBool("VOLUME_CONFIRMATION", true),
		},

		Risk: RiskConfig{
			RiskPerTradePct:           getEnvFloat("RISK_PER_TRADE_PCT", 2.0),
			RiskMode:                  getEnv("RISK_MODE", "percent"),
			DollarRiskPerTrade:        getEnvFloat("DOLLAR_RISK_PER_TRADE", 100),
			DefaultLeverage:           getEnvInt("DEFAULT_LEVERAGE", 2),
			MaxOpenTrades:             getEnvInt("MAX_OPEN_TRADES", 5),
			MaxBalancePercentPerTrade: getEnvFloat("MAX_BALANCE_PCT_PER_TRADE", 0.25),
			CooldownHours:             getEnvFloat("COOLDOWN_HOURS", 4),
			MakerFee:                  getEnvFloat("MAKER_FEE", 0.001),
			TakerFee:                  getEnvFloat("TAKER_FEE", 0.001),
			SlippageBps:               getEnvFloat("SLIPPAGE_BPS", 5),
			MaxSlDistancePct:          getEnvFloat("MAX_SL_DISTANCE_PCT", 0.15),
			MinSlAtrMult:              getEnvFloat("MIN_SL_ATR_MULT", 1.0),
			EnforceMinAtrStop:         getEnvBool("ENFORCE_MIN_ATR_STOP", true),
			EnforceMaxStopCap:         getEnvBool("ENFORCE_MAX_STOP_CAP", true),
			MaxConcurrentTrades:       getEnvInt("MAX_CONCURRENT_TRADES", 5),
			PerSymbolCap:              getEnvInt("PER_SYMBOL_CAP", 1),
			DailyLossLimitPct:         getEnvFloat("DAILY_LOSS_LIMIT_PCT", 10),
		},

		Manage: ManageConfig{
			AutoBreakeven:      getEnvBool("AUTO_BREAKEVEN", true),
			AutoTrailingStop:   getEnvBool("AUTO_TRAILING_STOP", true),
			AutoLockIn:         getEnvBool("AUTO_LOCK_IN", true),
			ScoreRecheck:       getEnvBool("SCORE_RECHECK", true),
			PartialTP:          getEnvBool("PARTIAL_TP", true),
			BreakevenRMultiple: getEnvFloat("BREAKEVEN_R_MULTIPLE", 0.75),
			BreakevenBufferPct: getEnvFloat("BREAKEVEN_BUFFER_PCT", 0.003),
			TrailingStartR:     getEnvFloat("TRAILING_START_R", 1.5),
			TrailingDistR:      getEnvFloat("TRAILING_DIST_R", 1.0),
			LockInLevels: []LockLevel{
				{Progress: 0.5, LockR: 0.5},
				{Progress: 0.75, LockR: 0.75},
				{Progress: 0.9, LockR: 1.0},
			},
			PnlLockFallbackPcts:      []float64{2, 5},
			ScoreRecheckIntervalBars: getEnvInt("SCORE_RECHECK_INTERVAL_BARS", 4),
			StopGraceBars:            getEnvInt("STOP_GRACE_BARS", 1),
			CloseBasedStops:          getEnvBool("CLOSE_BASED_STOPS", true),
		},

		Backtest: BacktestConfig{
			InitialBalance:  getEnvFloat("BT_INITIAL_BALANCE", 10000),
			RiskPerTrade:    getEnvFloat("BT_RISK_PER_TRADE", 0.02),
			DefaultLeverage: getEnvInt("BT_DEFAULT_LEVERAGE", 2),
			WarmupBars:      getEnvInt("BT_WARMUP_BARS", 100),
			PerCoinTimeout:  getEnvDuration("BT_PER_COIN_TIMEOUT_MS", 20000),
			ParallelBatch:   getEnvInt("BT_PARALLEL_BATCH", 3),
			CloseBasedStops: getEnvBool("CLOSE_BASED_STOPS", true),
		},
	}

	applyStrategyFile(cfg)

	return cfg
}

func Get() *Config {
	if cfg == nil {
		Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count from env.
func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

func getEnvList(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}

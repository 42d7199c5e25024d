package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"confluence-trader/backtest"
	"confluence-trader/config"
	"confluence-trader/events"
	"confluence-trader/logger"
	"confluence-trader/market"
	"confluence-trader/signal"
	"confluence-trader/store"
	"confluence-trader/trader"
)

// Server is the HTTP surface: REST endpoints for market data, trades, engine
// control and backtests, plus SSE and WebSocket streams.
type Server struct {
	port          string
	accessPasskey string

	cfg       *config.Config
	mkt       *market.Service
	hub       *events.Hub
	manager   *trader.EngineManager
	backtests *backtest.Manager
	sigEng    *signal.Engine

	users      *store.UserStore
	trades     *store.TradeStore
	strategies *store.StrategyStore
	settings   *store.SettingsStore

	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, mkt *market.Service, hub *events.Hub,
	manager *trader.EngineManager, backtests *backtest.Manager) *Server {
	return &Server{
		port:          cfg.APIPort,
		accessPasskey: cfg.AccessPasskey,
		cfg:           cfg,
		mkt:           mkt,
		hub:           hub,
		manager:       manager,
		backtests:     backtests,
		sigEng:        signal.NewEngine(cfg.Engine),
		users:         store.NewUserStore(),
		trades:        store.NewTradeStore(),
		strategies:    store.NewStrategyStore(),
		settings:      store.NewSettingsStore(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is already wide open on the REST side.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/auth/verify", s.handleAuthVerify)

	// Market data
	mux.HandleFunc("/api/coins", s.authMiddleware(s.handleCoins))
	mux.HandleFunc("/api/quotes", s.authMiddleware(s.handleQuotes))
	mux.HandleFunc("/api/quotes/", s.authMiddleware(s.handleQuote))
	mux.HandleFunc("/api/candles/", s.authMiddleware(s.handleCandles))
	mux.HandleFunc("/api/signal/", s.authMiddleware(s.handleSignalPreview))

	// Trades and performance
	mux.HandleFunc("/api/trades", s.authMiddleware(s.handleTrades))
	mux.HandleFunc("/api/trades/stats", s.authMiddleware(s.handleTradeStats))
	mux.HandleFunc("/api/strategies", s.authMiddleware(s.handleStrategies))
	mux.HandleFunc("/api/strategies/weights", s.authMiddleware(s.handleStrategyWeights))

	// Account
	mux.HandleFunc("/api/user", s.authMiddleware(s.handleUser))
	mux.HandleFunc("/api/user/reset-balance", s.authMiddleware(s.handleResetBalance))
	mux.HandleFunc("/api/settings", s.authMiddleware(s.handleSettings))

	// Engine control
	mux.HandleFunc("/api/engine/start", s.authMiddleware(s.handleEngineStart))
	mux.HandleFunc("/api/engine/stop", s.authMiddleware(s.handleEngineStop))
	mux.HandleFunc("/api/engine/status", s.authMiddleware(s.handleEngineStatus))
	mux.HandleFunc("/api/engine/decisions", s.authMiddleware(s.handleEngineDecisions))
	mux.HandleFunc("/api/engine/close-all", s.authMiddleware(s.handleEngineCloseAll))
	mux.HandleFunc("/api/engine/kill-switch", s.authMiddleware(s.handleEngineKillSwitch))

	// Backtests
	mux.HandleFunc("/api/backtests", s.authMiddleware(s.handleBacktests))
	mux.HandleFunc("/api/backtests/", s.authMiddleware(s.handleBacktest))

	// Streams
	mux.Handle("/api/events", s.authMiddleware(s.hub.ServeHTTP))
	mux.HandleFunc("/api/ws/quotes", s.handleQuotesWS)
	mux.HandleFunc("/api/logs", s.authMiddleware(s.handleLogs))
	mux.HandleFunc("/api/logs/stream", s.authMiddleware(s.handleLogStream))

	s.httpSrv = &http.Server{
		Addr:    ":" + s.port,
		Handler: corsMiddleware(mux),
	}

	log.Info().Str("addr", "http://localhost:"+s.port).Msg("[api] server starting")
	if s.accessPasskey != "" {
		log.Info().Msg("[api] authentication enabled, passkey required")
	} else {
		log.Warn().Msg("[api] no ACCESS_PASSKEY set, server is unprotected")
	}

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests. Streams end when their clients notice
// the closed connection.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// authMiddleware checks for valid passkey in X-Access-Key header
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no passkey is configured
		if s.accessPasskey == "" {
			next(w, r)
			return
		}

		accessKey := r.Header.Get("X-Access-Key")
		if accessKey == "" {
			s.errorResponse(w, http.StatusUnauthorized, "Access key required")
			return
		}

		// Use constant-time comparison to prevent timing attacks
		if !secureCompare(accessKey, s.accessPasskey) {
			s.errorResponse(w, http.StatusUnauthorized, "Invalid access key")
			return
		}

		next(w, r)
	}
}

// handleAuthVerify verifies the passkey and returns success/failure
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// If no passkey is configured, always allow
	if s.accessPasskey == "" {
		s.jsonResponse(w, map[string]interface{}{
			"valid":    true,
			"message":  "No authentication required",
			"required": false,
		})
		return
	}

	var req struct {
		Passkey string `json:"passkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if secureCompare(req.Passkey, s.accessPasskey) {
		s.jsonResponse(w, map[string]interface{}{
			"valid":    true,
			"message":  "Access granted",
			"required": true,
		})
	} else {
		s.jsonResponse(w, map[string]interface{}{
			"valid":    false,
			"message":  "Invalid passkey",
			"required": true,
		})
	}
}

// secureCompare performs constant-time comparison to prevent timing attacks
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Access-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// userID pulls the target account from the query, defaulting to the single
// paper account.
func userID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return store.DefaultUserID
}

func splitPath(path string) []string {
	var parts []string
	current := ""
	for _, c := range path {
		if c == '/' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ============ MARKET DATA ENDPOINTS ============

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.jsonResponse(w, map[string]interface{}{"coins": s.mkt.Universe()})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	quotes := make([]market.Quote, 0, len(s.mkt.Universe()))
	for _, coin := range s.mkt.Universe() {
		if q, ok := s.mkt.GetQuote(coin.ID); ok {
			quotes = append(quotes, q)
		}
	}
	s.jsonResponse(w, map[string]interface{}{"quotes": quotes})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := splitPath(r.URL.Path[len("/api/quotes/"):])
	if len(parts) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "Coin ID required")
		return
	}
	quote, ok := s.mkt.GetQuote(parts[0])
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "No fresh quote for coin")
		return
	}
	s.jsonResponse(w, quote)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := splitPath(r.URL.Path[len("/api/candles/"):])
	if len(parts) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "Coin ID required")
		return
	}
	set, ok := s.mkt.GetCandles(parts[0])
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "No candles for coin")
		return
	}

	if tf := r.URL.Query().Get("tf"); tf != "" {
		candles, ok := set[market.Timeframe(tf)]
		if !ok {
			s.errorResponse(w, http.StatusNotFound, "Timeframe not cached")
			return
		}
		s.jsonResponse(w, map[string]interface{}{"tf": tf, "candles": candles})
		return
	}
	s.jsonResponse(w, set)
}

// handleSignalPreview evaluates a coin on demand with the current caches.
// The BTC overlay is computed the same way the live engine does it.
func (s *Server) handleSignalPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := splitPath(r.URL.Path[len("/api/signal/"):])
	if len(parts) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "Coin ID required")
		return
	}
	coinID := parts[0]

	btcSignal, btcDirection := "", signal.DirNeutral
	if coinID != market.BTCCoinID {
		if d, ok := s.evaluate(market.BTCCoinID, "", signal.DirNeutral); ok {
			btcSignal = d.Signal
			if tf, ok := d.Timeframes["1h"]; ok {
				btcDirection = tf.Direction
			}
		}
	}

	d, ok := s.evaluate(coinID, btcSignal, btcDirection)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "No market data for coin")
		return
	}
	s.jsonResponse(w, d)
}

func (s *Server) evaluate(coinID, btcSignal string, btcDirection signal.Direction) (signal.Decision, bool) {
	coin, ok := s.mkt.Coin(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	quote, ok := s.mkt.GetQuote(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	candles, ok := s.mkt.GetCandles(coinID)
	if !ok {
		return signal.Decision{}, false
	}
	history, _ := s.mkt.GetPriceHistory(coinID)
	stats, _ := s.strategies.Stats(store.DefaultUserID)

	in := signal.Input{
		Coin:    coin,
		Quote:   quote,
		Candles: candles,
		History: history,
		Options: signal.Options{
			StrategyWeights:       config.Weights(),
			StrategyStats:         stats,
			BTCSignal:             btcSignal,
			BTCDirection:          btcDirection,
			PriceActionConfluence: s.cfg.Engine.PriceActionConfluence,
			VolatilityFilter:      s.cfg.Engine.VolatilityFilter,
			VolumeConfirmation:    s.cfg.Engine.VolumeConfirmation,
		},
	}
	return s.sigEng.Evaluate(in), true
}

// ============ TRADE ENDPOINTS ============

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	switch r.URL.Query().Get("status") {
	case "", "open":
		trades, err := s.trades.FindOpenTrades(uid)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"trades": trades})

	case "closed":
		trades, err := s.trades.FindClosedTrades(uid, limit)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"trades": trades})

	default:
		s.errorResponse(w, http.StatusBadRequest, "status must be open or closed")
	}
}

func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	stats, err := s.trades.Stats(uid)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	byCoin, err := s.trades.StatsByCoin(uid)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	exits, err := s.trades.ExitReasonCounts(uid)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"stats":        stats,
		"by_coin":      byCoin,
		"exit_reasons": exits,
	})
}

// ============ STRATEGY ENDPOINTS ============

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	breakdown, err := s.strategies.Breakdown(uid)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	weights, err := s.strategies.Weights()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"breakdown": breakdown,
		"weights":   weights,
	})
}

func (s *Server) handleStrategyWeights(w http.ResponseWriter, r *http.Request) {
	if r.Method != "PUT" && r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Strategy string             `json:"strategy"`
		Weights  map[string]float64 `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Strategy == "" || len(req.Weights) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "strategy and weights required")
		return
	}
	if err := s.strategies.SaveWeights(req.Strategy, req.Weights); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, map[string]string{"status": "saved"})
}

// ============ ACCOUNT ENDPOINTS ============

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	switch r.Method {
	case "GET":
		user, err := s.users.Find(uid)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if user == nil && uid == store.DefaultUserID {
			user, err = s.users.EnsureDefault(trader.DefaultUserSeed(s.cfg.Risk))
			if err != nil {
				s.errorResponse(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		if user == nil {
			s.errorResponse(w, http.StatusNotFound, "User not found")
			return
		}
		s.jsonResponse(w, user)

	case "PUT":
		current, err := s.users.Find(uid)
		if err != nil || current == nil {
			s.errorResponse(w, http.StatusNotFound, "User not found")
			return
		}
		updated := *current
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		updated.ID = uid
		if err := s.users.UpdateSettings(&updated); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, updated)

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleResetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	if s.manager.IsRunning(uid) {
		s.errorResponse(w, http.StatusConflict, "Stop the engine before resetting the balance")
		return
	}

	var req struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Balance <= 0 {
		req.Balance = 10000
	}
	if err := s.users.ResetBalance(uid, req.Balance); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, map[string]interface{}{"status": "reset", "balance": req.Balance})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		settings, err := s.settings.GetGlobalSettings()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, settings)

	case "PUT", "POST":
		current, err := s.settings.GetGlobalSettings()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		var incoming store.GlobalSettings
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		// Masked secrets round-tripping from a GET keep the stored value.
		if strings.Contains(incoming.BinanceAPIKey, "****") {
			incoming.BinanceAPIKey = current.BinanceAPIKey
		}
		if strings.Contains(incoming.BinanceSecretKey, "****") {
			incoming.BinanceSecretKey = current.BinanceSecretKey
		}
		if strings.Contains(incoming.TelegramToken, "****") {
			incoming.TelegramToken = current.TelegramToken
		}
		if err := s.settings.SaveGlobalSettings(&incoming); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]string{"status": "saved"})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ============ ENGINE ENDPOINTS ============

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	// The engine outlives this request; its lifecycle belongs to the manager.
	if err := s.manager.Start(context.Background(), uid); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, map[string]string{"status": "started", "user_id": uid})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	if err := s.manager.Stop(uid); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, map[string]string{"status": "stopped", "user_id": uid})
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	status := s.manager.GetStatus(uid)
	if engine, ok := s.manager.Get(uid); ok {
		status["equity"] = engine.Equity()
	}
	s.jsonResponse(w, status)
}

func (s *Server) handleEngineDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	engine, ok := s.manager.Get(uid)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Engine not running")
		return
	}
	s.jsonResponse(w, map[string]interface{}{"decisions": engine.Decisions()})
}

func (s *Server) handleEngineCloseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	engine, ok := s.manager.Get(uid)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Engine not running")
		return
	}
	closed := engine.CloseAll(r.Context(), "MANUAL")
	s.jsonResponse(w, map[string]interface{}{"status": "closed", "count": closed})
}

func (s *Server) handleEngineKillSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	uid := userID(r)

	engine, ok := s.manager.Get(uid)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Engine not running")
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	engine.SetKillSwitch(req.On)
	s.jsonResponse(w, map[string]interface{}{"status": "ok", "kill_switch": req.On})
}

// ============ BACKTEST ENDPOINTS ============

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		runs, err := s.backtests.List()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"backtests": runs})

	case "POST":
		var cfg backtest.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		// Runs outlive the request.
		runID, err := s.backtests.Start(context.Background(), cfg)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.jsonResponse(w, map[string]string{"run_id": runID, "status": "started"})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	// /api/backtests/{runId} or /api/backtests/{runId}/action
	parts := splitPath(r.URL.Path[len("/api/backtests/"):])
	if len(parts) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "Run ID required")
		return
	}

	runID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	if runID == "latest" {
		if r.Method != "GET" {
			s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		res, err := s.backtests.Latest()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if res == nil {
			s.errorResponse(w, http.StatusNotFound, "No finished backtest")
			return
		}
		s.jsonResponse(w, res)
		return
	}

	switch action {
	case "stop":
		if r.Method != "POST" {
			s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := s.backtests.Stop(runID); err != nil {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.jsonResponse(w, map[string]string{"status": "stopping"})

	case "results":
		if r.Method != "GET" {
			s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		res, err := s.backtests.Result(runID)
		if err != nil {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.jsonResponse(w, res)

	case "":
		switch r.Method {
		case "GET":
			meta, err := s.backtests.Status(runID)
			if err != nil {
				s.errorResponse(w, http.StatusNotFound, err.Error())
				return
			}
			s.jsonResponse(w, meta)

		case "DELETE":
			if err := s.backtests.Delete(runID); err != nil {
				s.errorResponse(w, http.StatusConflict, err.Error())
				return
			}
			s.jsonResponse(w, map[string]string{"status": "deleted"})

		default:
			s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	default:
		s.errorResponse(w, http.StatusBadRequest, "Unknown action")
	}
}

// ============ STREAM ENDPOINTS ============

// handleQuotesWS bridges the browser subscription onto a WebSocket. Auth is
// handled here rather than in middleware because browsers cannot set headers
// on WebSocket dials; the passkey arrives as a query parameter.
func (s *Server) handleQuotesWS(w http.ResponseWriter, r *http.Request) {
	if s.accessPasskey != "" && !secureCompare(r.URL.Query().Get("key"), s.accessPasskey) {
		s.errorResponse(w, http.StatusUnauthorized, "Invalid access key")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[api] websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticks := make(chan market.BrowserTick, 256)
	s.mkt.SubscribeBrowser(ticks)
	defer s.mkt.UnsubscribeBrowser(ticks)

	// Reader only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(tick); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.jsonResponse(w, map[string]interface{}{"logs": logger.GetBroadcaster().History()})
}

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b := logger.GetBroadcaster()
	ch, history := b.Subscribe()
	defer b.Unsubscribe(ch)

	for _, m := range history {
		fmt.Fprint(w, m.ToSSE())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case m, open := <-ch:
			if !open {
				return
			}
			fmt.Fprint(w, m.ToSSE())
			flusher.Flush()
		}
	}
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"confluence-trader/api"
	"confluence-trader/backtest"
	"confluence-trader/config"
	"confluence-trader/events"
	"confluence-trader/logger"
	"confluence-trader/market"
	"confluence-trader/notify"
	"confluence-trader/store"
	"confluence-trader/trader"
)

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║      Confluence Trader - Multi-Strategy Signal Engine      ║")
	fmt.Println("║        Paper + Binance Futures                             ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	cfg := config.Load()
	logger.Setup(cfg.LogLevel)

	log.Info().
		Bool("live_trading", cfg.LiveTrading).
		Bool("binance_testnet", cfg.BinanceTestnet).
		Bool("stream", cfg.Market.StreamEnabled).
		Str("log_level", cfg.LogLevel).
		Msg("[main] configuration loaded")

	if cfg.LiveTrading && cfg.BinanceAPIKey == "" {
		log.Fatal().Msg("[main] LIVE_TRADING=true requires BINANCE_API_KEY")
	}

	if err := store.Init(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Msg("[main] failed to initialize database")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	universe := market.DefaultUniverse()

	mkt := market.NewService(cfg.Market, universe)
	mkt.Start(ctx)

	hub := events.NewHub()
	go hub.Run()

	chatID := ""
	if cfg.TelegramChatID != 0 {
		chatID = strconv.FormatInt(cfg.TelegramChatID, 10)
	}
	notifier := notify.FromConfig(cfg.TelegramToken, chatID)

	manager := trader.NewEngineManager(cfg, mkt, hub, notifier)

	spot := market.NewBinanceSpot(cfg.Market.RequestTimeout)
	backtests := backtest.NewManager(cfg, universe, spot, store.NewBacktestStore())

	server := api.NewServer(cfg, mkt, hub, manager, backtests)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("[main] api server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("[main] shutdown signal received")

	// Engines first so no new orders or writes race the teardown.
	manager.StopAll()
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("[main] api shutdown failed")
	}

	log.Info().Msg("[main] goodbye")
}

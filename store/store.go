package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var db *sql.DB

// Init opens (creating if needed) the sqlite database under dataDir and runs
// the table migrations. Must be called before any repository is used.
func Init(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trading.db")
	var err error
	db, err = sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time keeps sqlite happy under the live loop + API.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("[store] database initialized")
	return nil
}

func GetDB() *sql.DB {
	return db
}

func Close() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

func migrate() error {
	userStore := NewUserStore()
	if err := userStore.InitTables(); err != nil {
		return fmt.Errorf("user store init failed: %w", err)
	}

	tradeStore := NewTradeStore()
	if err := tradeStore.InitTables(); err != nil {
		return fmt.Errorf("trade store init failed: %w", err)
	}

	backtestStore := NewBacktestStore()
	if err := backtestStore.InitTables(); err != nil {
		return fmt.Errorf("backtest store init failed: %w", err)
	}

	strategyStore := NewStrategyStore()
	if err := strategyStore.InitTables(); err != nil {
		return fmt.Errorf("strategy store init failed: %w", err)
	}

	settingsStore := NewSettingsStore()
	if err := settingsStore.InitTables(); err != nil {
		return fmt.Errorf("settings store init failed: %w", err)
	}

	return nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"
)

// SettingsStore persists app-wide key/value settings, including the secrets
// editable from the dashboard.
type SettingsStore struct{}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{}
}

func (s *SettingsStore) InitTables() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

// Get reads one setting. Unknown keys read as the empty string.
func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	switch err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value); err {
	case nil:
		return value, nil
	case sql.ErrNoRows:
		return "", nil
	default:
		return "", err
	}
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	`, key, value, time.Now())
	return err
}

// GlobalSettings is the typed view over the settings table the API serves.
// Secrets leave the process masked; see MarshalJSON.
type GlobalSettings struct {
	// Binance futures credentials, only read when live trading is enabled
	BinanceAPIKey    string `json:"binance_api_key"`
	BinanceSecretKey string `json:"binance_secret_key"`
	BinanceTestnet   bool   `json:"binance_testnet"`

	// Telegram notifications
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

func (s *SettingsStore) GetGlobalSettings() (*GlobalSettings, error) {
	rows, err := db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gs := &GlobalSettings{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "binance_api_key":
			gs.BinanceAPIKey = value
		case "binance_secret_key":
			gs.BinanceSecretKey = value
		case "binance_testnet":
			gs.BinanceTestnet, _ = strconv.ParseBool(value)
		case "telegram_token":
			gs.TelegramToken = value
		case "telegram_chat_id":
			gs.TelegramChatID = value
		}
	}
	return gs, rows.Err()
}

func (s *SettingsStore) SaveGlobalSettings(gs *GlobalSettings) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for key, value := range map[string]string{
		"binance_api_key":    gs.BinanceAPIKey,
		"binance_secret_key": gs.BinanceSecretKey,
		"binance_testnet":    strconv.FormatBool(gs.BinanceTestnet),
		"telegram_token":     gs.TelegramToken,
		"telegram_chat_id":   gs.TelegramChatID,
	} {
		if _, err := stmt.Exec(key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarshalJSON masks the stored secrets. Clients send masked values back
// unchanged when they don't mean to rotate them.
func (gs GlobalSettings) MarshalJSON() ([]byte, error) {
	type masked GlobalSettings
	m := masked(gs)
	m.BinanceAPIKey = maskSecret(gs.BinanceAPIKey)
	m.BinanceSecretKey = maskSecret(gs.BinanceSecretKey)
	m.TelegramToken = maskSecret(gs.TelegramToken)
	return json.Marshal(m)
}

// maskSecret keeps just enough of a credential to recognize it.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

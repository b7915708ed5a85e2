// Package config loads the trader configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Trading
	PaperMode      bool
	AutoTrade      bool
	EntryThreshold float64
	ExitThreshold  float64
	CooldownSec    int
	Lots           int64
	LotSize        int64
	ProductType    string
	SlippageBps    int64

	// Daily circuit breaker, in paise (0 disables)
	MaxDailyLoss   int64
	MaxDailyProfit int64

	// Trailing stop-loss, percent
	TSLEnabled bool
	TSLHurdle  float64
	TSLTrail   float64

	// Shoonya credentials (only needed when PaperMode is off)
	ShoonyaUserID     string
	ShoonyaPassword   string
	ShoonyaAPIKey     string
	ShoonyaVendorCode string
	ShoonyaIMEI       string
	ShoonyaTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	DashboardAddr string

	// Alerts (optional)
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Feed and signal tuning
	TickIntervalMs  int
	SnapshotSec     int
	SignalConfirm   int
	MomentumLookSec int
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	cfg := &Config{
		PaperMode:      getBool("PAPER_MODE", true),
		AutoTrade:      getBool("AUTO_TRADE", false),
		EntryThreshold: getFloat("ENTRY_THRESHOLD", 5.5),
		ExitThreshold:  getFloat("EXIT_THRESHOLD", 1.0),
		CooldownSec:    getInt("COOLDOWN_SEC", 60),
		Lots:           int64(getInt("LOTS", 1)),
		LotSize:        int64(getInt("LOT_SIZE", 30)),
		ProductType:    getEnv("PRODUCT_TYPE", "I"),
		SlippageBps:    int64(getInt("SLIPPAGE_BPS", 10)),

		MaxDailyLoss:   int64(getInt("MAX_DAILY_LOSS_PAISE", 500000)),
		MaxDailyProfit: int64(getInt("MAX_DAILY_PROFIT_PAISE", 0)),

		TSLEnabled: getBool("TSL_ENABLED", true),
		TSLHurdle:  getFloat("TSL_HURDLE_PCT", 5.0),
		TSLTrail:   getFloat("TSL_TRAIL_PCT", 5.0),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trader.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		DashboardAddr: getEnv("DASHBOARD_ADDR", ":8080"),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		TickIntervalMs:  getInt("TICK_INTERVAL_MS", 500),
		SnapshotSec:     getInt("SNAPSHOT_SEC", 2),
		SignalConfirm:   getInt("SIGNAL_CONFIRM", 5),
		MomentumLookSec: getInt("MOMENTUM_LOOKBACK_SEC", 120),
	}

	if !cfg.PaperMode {
		cfg.ShoonyaUserID = mustEnv("SHOONYA_USER_ID")
		cfg.ShoonyaPassword = mustEnv("SHOONYA_PASSWORD")
		cfg.ShoonyaAPIKey = mustEnv("SHOONYA_API_KEY")
		cfg.ShoonyaVendorCode = mustEnv("SHOONYA_VENDOR_CODE")
		cfg.ShoonyaIMEI = getEnv("SHOONYA_IMEI", "trader-1")
		cfg.ShoonyaTOTPSecret = mustEnv("SHOONYA_TOTP_SECRET")
	}
	return cfg
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.EntryThreshold <= 0 {
		return fmt.Errorf("ENTRY_THRESHOLD must be positive, got %.2f", c.EntryThreshold)
	}
	if c.ExitThreshold < 0 || c.ExitThreshold >= c.EntryThreshold {
		return fmt.Errorf("EXIT_THRESHOLD must be in [0, entry), got %.2f", c.ExitThreshold)
	}
	if c.CooldownSec < 0 {
		return fmt.Errorf("COOLDOWN_SEC must be non-negative, got %d", c.CooldownSec)
	}
	if c.Lots <= 0 || c.LotSize <= 0 {
		return fmt.Errorf("LOTS and LOT_SIZE must be positive, got %d x %d", c.Lots, c.LotSize)
	}
	if c.MaxDailyLoss < 0 || c.MaxDailyProfit < 0 {
		return fmt.Errorf("daily limits must be non-negative")
	}
	if c.TSLHurdle < 0 || c.TSLTrail < 0 {
		return fmt.Errorf("TSL percents must be non-negative")
	}
	return nil
}

// Cooldown returns the engine cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// TickInterval returns the simulator tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// SnapshotInterval returns the dashboard poll interval.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotSec) * time.Second
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

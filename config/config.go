// Package config loads and validates the runtime configuration from
// environment variables. Load runs once at startup; the resulting value
// is immutable and injected into every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"harvester/engine"
)

// Config is the validated runtime configuration.
type Config struct {
	Symbol        string
	CheckInterval time.Duration
	DryRun        bool
	Testnet       bool

	TargetPct   decimal.Decimal
	StopLossPct decimal.Decimal

	UseATRStop         bool
	ATRPeriod          int
	ATRMultiplier      decimal.Decimal
	ATRRefreshInterval time.Duration
	KlineInterval      string

	ReentryMode          engine.ReentryMode
	ReentryFraction      decimal.Decimal
	ReentryDropThreshold decimal.Decimal
	LadderOrders         int
	LadderSpacing        decimal.Decimal

	// MinNotionalFallback 交易所未返回最小订单价值过滤器时的兜底值
	MinNotionalFallback decimal.Decimal

	MaxRetries      int
	BackoffBase     time.Duration
	SettlementDelay time.Duration

	UseWSPrice bool

	APIKey    string
	APISecret string

	TelegramToken  string
	TelegramChatID int64

	JournalPath string
	StatusAddr  string
	LogLevel    string
}

// Load reads the environment and validates every value. Any invalid
// value is a startup error; the process must not run half-configured.
func Load() (*Config, error) {
	cfg := &Config{
		Symbol:        strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		DryRun:        getBool("DRY_RUN", false),
		Testnet:       getBool("TESTNET", false),
		UseATRStop:    getBool("USE_ATR_STOP_LOSS", true),
		KlineInterval: getEnv("KLINE_INTERVAL", "5m"),
		UseWSPrice:    getBool("USE_WS_PRICE", true),
		APIKey:        os.Getenv("BINANCE_API_KEY"),
		APISecret:     os.Getenv("BINANCE_API_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		JournalPath:   getEnv("JOURNAL_PATH", "harvester.db"),
		StatusAddr:    getEnv("STATUS_ADDR", ":8880"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CheckInterval, err = getSeconds("CHECK_INTERVAL", 5); err != nil {
		return nil, err
	}
	if cfg.TargetPct, err = getDecimal("TARGET_PCT", "0.005"); err != nil {
		return nil, err
	}
	if cfg.StopLossPct, err = getDecimal("STOP_LOSS_PCT", "0.10"); err != nil {
		return nil, err
	}
	if cfg.ATRPeriod, err = getInt("ATR_PERIOD", 14); err != nil {
		return nil, err
	}
	if cfg.ATRMultiplier, err = getDecimal("ATR_MULTIPLIER", "1.5"); err != nil {
		return nil, err
	}
	if cfg.ATRRefreshInterval, err = getSeconds("ATR_REFRESH_INTERVAL", 300); err != nil {
		return nil, err
	}
	if cfg.ReentryMode, err = engine.ParseReentryMode(getEnv("REENTRY_STRATEGY", "none")); err != nil {
		return nil, err
	}
	if cfg.ReentryFraction, err = getDecimal("REENTRY_FRACTION", "0.5"); err != nil {
		return nil, err
	}
	if cfg.ReentryDropThreshold, err = getDecimal("REENTRY_DROP_THRESHOLD_PCT", "0.02"); err != nil {
		return nil, err
	}
	if cfg.LadderOrders, err = getInt("LADDER_ORDERS", 5); err != nil {
		return nil, err
	}
	if cfg.LadderSpacing, err = getDecimal("LADDER_SPACING_MULTIPLIER", "0.15"); err != nil {
		return nil, err
	}
	if cfg.MinNotionalFallback, err = getDecimal("MIN_NOTIONAL", "1.0"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = getSeconds("BACKOFF_BASE_SECONDS", 2); err != nil {
		return nil, err
	}
	if cfg.SettlementDelay, err = getSeconds("SETTLEMENT_DELAY_SECONDS", 1); err != nil {
		return nil, err
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID 必须为整数: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL 不能为空")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL 必须为正数")
	}
	if c.TargetPct.Sign() <= 0 {
		return fmt.Errorf("TARGET_PCT 必须为正数")
	}
	if c.StopLossPct.Sign() <= 0 || c.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("STOP_LOSS_PCT 必须在 (0,1) 区间内")
	}
	if c.UseATRStop {
		if c.ATRPeriod <= 0 {
			return fmt.Errorf("ATR_PERIOD 必须为正数")
		}
		if c.ATRMultiplier.Sign() <= 0 {
			return fmt.Errorf("ATR_MULTIPLIER 必须为正数")
		}
	}
	if c.ReentryMode == engine.ReentryFixedFraction {
		if c.ReentryFraction.Sign() <= 0 || c.ReentryFraction.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("REENTRY_FRACTION 必须在 (0,1] 区间内")
		}
	}
	if c.ReentryMode == engine.ReentryLadder && c.LadderOrders <= 0 {
		return fmt.Errorf("LADDER_ORDERS 必须为正数")
	}
	if c.ReentryDropThreshold.Sign() < 0 || c.ReentryDropThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("REENTRY_DROP_THRESHOLD_PCT 必须在 [0,1) 区间内")
	}
	if c.MinNotionalFallback.Sign() < 0 {
		return fmt.Errorf("MIN_NOTIONAL 不能为负数")
	}
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("实盘模式需要 BINANCE_API_KEY / BINANCE_API_SECRET")
	}
	return nil
}

// EngineConfig projects the strategy subset used by the decision engine.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		TargetPct:            c.TargetPct,
		StopLossPct:          c.StopLossPct,
		ATRPeriod:            c.ATRPeriod,
		ATRMultiplier:        c.ATRMultiplier,
		UseATRStop:           c.UseATRStop,
		ATRRefreshInterval:   c.ATRRefreshInterval,
		ReentryMode:          c.ReentryMode,
		ReentryFraction:      c.ReentryFraction,
		ReentryDropThreshold: c.ReentryDropThreshold,
		LadderOrders:         c.LadderOrders,
		LadderSpacing:        c.LadderSpacing,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s 必须为整数: %w", key, err)
	}
	return n, nil
}

func getSeconds(key string, def int) (time.Duration, error) {
	n, err := getInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getDecimal(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s 必须为数字: %w", key, err)
	}
	return d, nil
}

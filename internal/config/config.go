// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases and data files, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	Strategy   StrategyConfig
	Evaluation EvaluationConfig
	Cache      CacheConfig
	Provider   ProviderConfig
	Backup     BackupConfig

	ShutdownGrace time.Duration
}

// StrategyConfig drives the engine's pipeline selection and thresholds
type StrategyConfig struct {
	Template        string  // conservative / balanced / aggressive
	MinWeight       float64 // Eligibility floor for an ETF's holding weight
	MinETFVolume    float64 // Liquidity filter floor on daily cash turnover
	MinOrderAmount  float64 // Seal amount normalization base
	ScanInterval    time.Duration
	MinTimeToClose  time.Duration
	ScanConcurrency int

	EventDetector string
	FundSelector  string
	SignalFilters []string

	Watchlist   []string // Seed watchlist for first boot
	ETFUniverse []string // ETF codes used to build the stock mapping
}

// EvaluationConfig holds the signal scoring knobs
type EvaluationConfig struct {
	Preset string // default / conservative / aggressive

	ConfidenceHighWeight float64
	ConfidenceLowWeight  float64
	ConfidenceHighRank   int
	ConfidenceLowRank    int

	RiskHighTimeSeconds int
	RiskLowTimeSeconds  int
	RiskTop10RatioHigh  float64
	RiskMorningHour     int

	CutoffHigh   float64
	CutoffMedium float64

	WeightOrder     float64
	WeightWeight    float64
	WeightLiquidity float64
	WeightTime      float64
}

// CacheConfig sizes the quote caches
type CacheConfig struct {
	QuoteTTL   time.Duration
	LimitUpTTL time.Duration
	MaxEntries int
}

// ProviderConfig configures the market data adapters
type ProviderConfig struct {
	QuoteBaseURL string
	KlineBaseURL string
	FundBaseURL  string
	Timeout      time.Duration
	Retries      int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// BackupConfig configures the S3-compatible cloud backup.
// Backups are disabled unless endpoint, bucket and credentials are set.
type BackupConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKeyID   string
	SecretKey     string
	RetentionDays int
}

// Enabled reports whether cloud backup is fully configured
func (b BackupConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != "" && b.AccessKeyID != "" && b.SecretKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// The template supplies the threshold defaults; explicit env
	// knobs override individual values.
	tpl, err := strategy.TemplateByID(getEnv("STRATEGY_TEMPLATE", "balanced"))
	if err != nil {
		return nil, fmt.Errorf("invalid STRATEGY_TEMPLATE: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		Strategy: StrategyConfig{
			Template:        tpl.ID,
			MinWeight:       getEnvAsFloat("STRATEGY_MIN_WEIGHT", tpl.MinWeight),
			MinETFVolume:    getEnvAsFloat("STRATEGY_MIN_ETF_VOLUME", tpl.MinETFVolume),
			MinOrderAmount:  getEnvAsFloat("STRATEGY_MIN_ORDER_AMOUNT", tpl.MinOrderAmount),
			ScanInterval:    getEnvAsSeconds("STRATEGY_SCAN_INTERVAL", 120),
			MinTimeToClose:  getEnvAsSeconds("STRATEGY_MIN_TIME_TO_CLOSE", 1800),
			ScanConcurrency: getEnvAsInt("STRATEGY_SCAN_CONCURRENCY", 8),
			EventDetector:   getEnv("STRATEGY_EVENT_DETECTOR", "limit_up_cn"),
			FundSelector:    getEnv("STRATEGY_FUND_SELECTOR", "highest_weight"),
			SignalFilters:   getEnvAsList("STRATEGY_SIGNAL_FILTERS", []string{"time_filter_cn", "liquidity_filter"}),
			Watchlist:       getEnvAsList("WATCHLIST", defaultWatchlist()),
			ETFUniverse:     getEnvAsList("ETF_UNIVERSE", defaultETFUniverse()),
		},

		Evaluation: EvaluationConfig{
			Preset:               getEnv("EVAL_PRESET", tpl.Evaluator),
			ConfidenceHighWeight: getEnvAsFloat("EVAL_CONFIDENCE_HIGH_WEIGHT", 0.10),
			ConfidenceLowWeight:  getEnvAsFloat("EVAL_CONFIDENCE_LOW_WEIGHT", 0.05),
			ConfidenceHighRank:   getEnvAsInt("EVAL_CONFIDENCE_HIGH_RANK", 3),
			ConfidenceLowRank:    getEnvAsInt("EVAL_CONFIDENCE_LOW_RANK", 10),
			RiskHighTimeSeconds:  getEnvAsInt("EVAL_RISK_HIGH_TIME_SECONDS", 600),
			RiskLowTimeSeconds:   getEnvAsInt("EVAL_RISK_LOW_TIME_SECONDS", 3600),
			RiskTop10RatioHigh:   getEnvAsFloat("EVAL_RISK_TOP10_RATIO_HIGH", 0.70),
			RiskMorningHour:      getEnvAsInt("EVAL_RISK_MORNING_HOUR", 10),
			CutoffHigh:           getEnvAsFloat("EVAL_CUTOFF_HIGH", 0.70),
			CutoffMedium:         getEnvAsFloat("EVAL_CUTOFF_MEDIUM", 0.40),
			WeightOrder:          getEnvAsFloat("EVAL_WEIGHT_ORDER", 0.30),
			WeightWeight:         getEnvAsFloat("EVAL_WEIGHT_WEIGHT", 0.30),
			WeightLiquidity:      getEnvAsFloat("EVAL_WEIGHT_LIQUIDITY", 0.20),
			WeightTime:           getEnvAsFloat("EVAL_WEIGHT_TIME", 0.20),
		},

		Cache: CacheConfig{
			QuoteTTL:   getEnvAsSeconds("CACHE_QUOTE_TTL_SECONDS", 5),
			LimitUpTTL: getEnvAsSeconds("CACHE_LIMIT_UP_TTL_SECONDS", 30),
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
		},

		Provider: ProviderConfig{
			QuoteBaseURL: getEnv("PROVIDER_QUOTE_BASE_URL", "http://qt.gtimg.cn"),
			KlineBaseURL: getEnv("PROVIDER_KLINE_BASE_URL", "http://web.ifzq.gtimg.cn"),
			FundBaseURL:  getEnv("PROVIDER_FUND_BASE_URL", "http://fund.eastmoney.com"),
			Timeout:      getEnvAsSeconds("PROVIDER_TIMEOUT_SECONDS", 10),
			Retries:      getEnvAsInt("PROVIDER_RETRIES", 3),
			BackoffBase:  getEnvAsMillis("PROVIDER_BACKOFF_BASE_MS", 200),
			BackoffCap:   getEnvAsMillis("PROVIDER_BACKOFF_CAP_MS", 2000),
		},

		Backup: BackupConfig{
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			Region:        getEnv("S3_REGION", "auto"),
			Bucket:        getEnv("S3_BUCKET", ""),
			AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
			SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
			RetentionDays: getEnvAsInt("S3_BACKUP_RETENTION_DAYS", 30),
		},

		ShutdownGrace: getEnvAsSeconds("SHUTDOWN_GRACE_SECONDS", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration ranges
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Strategy.MinWeight < 0 || c.Strategy.MinWeight > 1 {
		return fmt.Errorf("strategy min_weight must be in [0,1], got %v", c.Strategy.MinWeight)
	}
	if c.Strategy.MinETFVolume < 0 {
		return fmt.Errorf("strategy min_etf_volume must be >= 0, got %v", c.Strategy.MinETFVolume)
	}
	if c.Strategy.MinTimeToClose < 0 {
		return fmt.Errorf("strategy min_time_to_close must be >= 0, got %v", c.Strategy.MinTimeToClose)
	}
	if c.Strategy.ScanInterval <= 0 {
		return fmt.Errorf("strategy scan_interval must be > 0, got %v", c.Strategy.ScanInterval)
	}
	if c.Strategy.ScanConcurrency < 1 {
		return fmt.Errorf("strategy scan_concurrency must be >= 1, got %d", c.Strategy.ScanConcurrency)
	}
	if c.Evaluation.CutoffMedium >= c.Evaluation.CutoffHigh {
		return fmt.Errorf("evaluation cutoff_medium (%v) must be below cutoff_high (%v)",
			c.Evaluation.CutoffMedium, c.Evaluation.CutoffHigh)
	}
	sum := c.Evaluation.WeightOrder + c.Evaluation.WeightWeight + c.Evaluation.WeightLiquidity + c.Evaluation.WeightTime
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("evaluation factor weights must sum to 1, got %v", sum)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must be >= 0, got %d", c.Cache.MaxEntries)
	}
	if c.Provider.Retries < 1 {
		return fmt.Errorf("provider retries must be >= 1, got %d", c.Provider.Retries)
	}
	for _, code := range c.Strategy.Watchlist {
		if !isSixDigits(code) {
			return fmt.Errorf("watchlist entry %q is not a 6-digit code", code)
		}
	}
	return nil
}

// SignalsDBPath returns the sqlite path for the signal store
func (c *Config) SignalsDBPath() string {
	return filepath.Join(c.DataDir, "signals.db")
}

// HistoryDBPath returns the sqlite path for the kline cache
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// MappingPath returns the JSON document path for the stock/ETF mapping
func (c *Config) MappingPath() string {
	return filepath.Join(c.DataDir, "stock_etf_mapping.json")
}

// WatchlistPath returns the JSON file path for the watchlist
func (c *Config) WatchlistPath() string {
	return filepath.Join(c.DataDir, "watchlist.json")
}

// MonitorStatePath returns the checkpoint file path for monitor counters
func (c *Config) MonitorStatePath() string {
	return filepath.Join(c.DataDir, "monitor_state.bin")
}

// Sanitized returns the configuration as a map safe to expose over HTTP.
// Secrets are redacted, never omitted, so operators can see what is set.
func (c *Config) Sanitized() map[string]interface{} {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}

	return map[string]interface{}{
		"data_dir":  c.DataDir,
		"port":      c.Port,
		"log_level": c.LogLevel,
		"dev_mode":  c.DevMode,
		"strategy": map[string]interface{}{
			"template":           c.Strategy.Template,
			"min_weight":         c.Strategy.MinWeight,
			"min_etf_volume":     c.Strategy.MinETFVolume,
			"min_order_amount":   c.Strategy.MinOrderAmount,
			"scan_interval_s":    int(c.Strategy.ScanInterval.Seconds()),
			"min_time_to_close":  int(c.Strategy.MinTimeToClose.Seconds()),
			"scan_concurrency":   c.Strategy.ScanConcurrency,
			"event_detector":     c.Strategy.EventDetector,
			"fund_selector":      c.Strategy.FundSelector,
			"signal_filters":     c.Strategy.SignalFilters,
			"etf_universe_count": len(c.Strategy.ETFUniverse),
		},
		"evaluation": map[string]interface{}{
			"preset":        c.Evaluation.Preset,
			"cutoff_high":   c.Evaluation.CutoffHigh,
			"cutoff_medium": c.Evaluation.CutoffMedium,
			"factor_weights": []float64{
				c.Evaluation.WeightOrder,
				c.Evaluation.WeightWeight,
				c.Evaluation.WeightLiquidity,
				c.Evaluation.WeightTime,
			},
		},
		"cache": map[string]interface{}{
			"quote_ttl_s":    int(c.Cache.QuoteTTL.Seconds()),
			"limit_up_ttl_s": int(c.Cache.LimitUpTTL.Seconds()),
			"max_entries":    c.Cache.MaxEntries,
		},
		"provider": map[string]interface{}{
			"quote_base_url":  c.Provider.QuoteBaseURL,
			"kline_base_url":  c.Provider.KlineBaseURL,
			"fund_base_url":   c.Provider.FundBaseURL,
			"timeout_s":       int(c.Provider.Timeout.Seconds()),
			"retries":         c.Provider.Retries,
			"backoff_base_ms": c.Provider.BackoffBase.Milliseconds(),
			"backoff_cap_ms":  c.Provider.BackoffCap.Milliseconds(),
		},
		"backup": map[string]interface{}{
			"enabled":        c.Backup.Enabled(),
			"endpoint":       c.Backup.Endpoint,
			"bucket":         c.Backup.Bucket,
			"access_key_id":  redact(c.Backup.AccessKeyID),
			"secret_key":     redact(c.Backup.SecretKey),
			"retention_days": c.Backup.RetentionDays,
		},
	}
}

// defaultWatchlist seeds the watchlist on first boot
func defaultWatchlist() []string {
	return []string{
		"600519", // Kweichow Moutai
		"601012", // LONGi Green Energy
		"300750", // CATL
		"002594", // BYD
		"600036", // China Merchants Bank
		"688041", // Hygon
	}
}

// defaultETFUniverse lists the broad-market and sector ETFs inverted into
// the stock mapping
func defaultETFUniverse() []string {
	return []string{
		"510300", // CSI 300
		"510500", // CSI 500
		"512100", // CSI 1000
		"588000", // STAR 50
		"159915", // ChiNext
		"512480", // Semiconductors
		"515030", // New energy vehicles
		"512880", // Securities
		"512690", // Liquor
		"515790", // Photovoltaics
		"512010", // Pharma
		"159819", // Artificial intelligence
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

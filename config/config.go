package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// KIS brokerage API
	AppKey     string
	AppSecret  string
	AccountNo  string // Account number (8 digits + product code)
	BrokerURL  string
	DryRun     bool // Simulate fills instead of sending real orders
	WSFeedURL  string
	IndexCode  string // Reference index (e.g., KOSPI "0001")

	// Order sizing
	OrderBudget  float64 // Budget per position in KRW
	MaxPositions int     // Max simultaneous open positions

	// Position risk
	StopLossPct float64 // Hard stop, negative (e.g., -0.7)

	// Kill switch
	MaxConsecutiveLosses    int
	MaxDailyLossPct         float64
	IndexDropPct            float64
	MaxBrokerFailures       int
	BrokerRecoverySuccesses int

	// Circuit breaker (broker calls)
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerSuccessThreshold int

	// Cooldown
	LossCooldown   time.Duration
	LossEscalation time.Duration
	MaxCooldown    time.Duration

	// Price validation
	MaxSlippagePct float64
	MaxPriceAge    time.Duration
	MaxSpreadPct   float64

	// AI pipeline
	AIAPIURL        string
	AIModel         string
	AITimeout       time.Duration
	AIWorkers       int
	AIQueueSize     int
	AIMinConfidence float64

	// Universe scan
	UniverseSize         int
	UniverseMinPrice     float64
	UniverseMaxPrice     float64
	UniverseMinChangePct float64
	UniverseMaxChangePct float64
	UniverseMinVolume    int64
	UniverseCacheTTL     time.Duration

	// Market monitor
	MarketRefresh time.Duration

	// Engine cadence
	ScanInterval     time.Duration
	PositionInterval time.Duration
	LiquidationTime  string // "HH:MM" local exchange time
	SessionEndTime   string // "HH:MM"

	// Database
	DBPath string

	// Notifications
	DiscordWebhookURL string

	// Process control
	PIDFile string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// KIS brokerage API
	cfg.AppKey = getEnv("KIS_APP_KEY", "")
	cfg.AppSecret = getEnv("KIS_APP_SECRET", "")
	cfg.AccountNo = getEnv("KIS_ACCOUNT_NO", "")
	cfg.BrokerURL = getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443")
	cfg.WSFeedURL = getEnv("KIS_WS_URL", "ws://ops.koreainvestment.com:21000")
	cfg.IndexCode = getEnv("INDEX_CODE", "0001")
	cfg.DryRun = getEnvAsBool("DRY_RUN", true) // Default to dry-run for safety

	if !cfg.DryRun {
		if cfg.AppKey == "" {
			errs = append(errs, "KIS_APP_KEY must be set for live trading")
		}
		if cfg.AppSecret == "" {
			errs = append(errs, "KIS_APP_SECRET must be set for live trading")
		}
		if cfg.AccountNo == "" {
			errs = append(errs, "KIS_ACCOUNT_NO must be set for live trading")
		}
	}

	// Order sizing
	cfg.OrderBudget, err = getEnvAsFloatRequired("ORDER_BUDGET", 1000000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDER_BUDGET: %v", err))
	} else if cfg.OrderBudget <= 0 {
		errs = append(errs, "ORDER_BUDGET must be positive")
	}

	cfg.MaxPositions, err = getEnvAsIntRequired("MAX_POSITIONS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITIONS: %v", err))
	} else if cfg.MaxPositions <= 0 {
		errs = append(errs, "MAX_POSITIONS must be positive")
	}

	// Position risk
	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", -0.7)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct >= 0 {
		errs = append(errs, "STOP_LOSS_PCT must be negative")
	}

	// Kill switch
	cfg.MaxConsecutiveLosses = getEnvAsInt("KS_MAX_CONSECUTIVE_LOSSES", 5)
	cfg.MaxDailyLossPct = getEnvAsFloat("KS_MAX_DAILY_LOSS_PCT", 3.0)
	cfg.IndexDropPct = getEnvAsFloat("KS_INDEX_DROP_PCT", 2.0)
	cfg.MaxBrokerFailures = getEnvAsInt("KS_MAX_BROKER_FAILURES", 3)
	cfg.BrokerRecoverySuccesses = getEnvAsInt("KS_BROKER_RECOVERY_SUCCESSES", 2)
	if cfg.MaxConsecutiveLosses <= 0 || cfg.MaxBrokerFailures <= 0 {
		errs = append(errs, "kill switch counters must be positive")
	}
	if cfg.MaxDailyLossPct <= 0 || cfg.IndexDropPct <= 0 {
		errs = append(errs, "kill switch percentage thresholds must be positive")
	}

	// Circuit breaker
	cfg.BreakerFailureThreshold = getEnvAsInt("CB_FAILURE_THRESHOLD", 5)
	cfg.BreakerResetTimeout = getEnvAsDuration("CB_RESET_TIMEOUT", 60*time.Second, &errs)
	cfg.BreakerSuccessThreshold = getEnvAsInt("CB_SUCCESS_THRESHOLD", 2)
	if cfg.BreakerFailureThreshold <= 0 {
		errs = append(errs, "CB_FAILURE_THRESHOLD must be positive")
	}

	// Cooldown
	cfg.LossCooldown = getEnvAsDuration("COOLDOWN_LOSS", 20*time.Minute, &errs)
	cfg.LossEscalation = getEnvAsDuration("COOLDOWN_LOSS_ESCALATION", 10*time.Minute, &errs)
	cfg.MaxCooldown = getEnvAsDuration("COOLDOWN_MAX", 60*time.Minute, &errs)

	// Price validation
	cfg.MaxSlippagePct = getEnvAsFloat("VALIDATOR_MAX_SLIPPAGE_PCT", 1.5)
	cfg.MaxPriceAge = getEnvAsDuration("VALIDATOR_MAX_AGE", 30*time.Second, &errs)
	cfg.MaxSpreadPct = getEnvAsFloat("VALIDATOR_MAX_SPREAD_PCT", 1.0)
	if cfg.MaxSlippagePct <= 0 || cfg.MaxSpreadPct <= 0 {
		errs = append(errs, "validator percentage thresholds must be positive")
	}

	// AI pipeline
	cfg.AIAPIURL = getEnv("AI_API_URL", "http://localhost:11434/api/generate")
	cfg.AIModel = getEnv("AI_MODEL", "qwen3:8b")
	cfg.AITimeout = getEnvAsDuration("AI_TIMEOUT", 10*time.Second, &errs)
	cfg.AIWorkers = getEnvAsInt("AI_WORKERS", 2)
	cfg.AIQueueSize = getEnvAsInt("AI_QUEUE_SIZE", 50)
	cfg.AIMinConfidence = getEnvAsFloat("AI_MIN_CONFIDENCE", 0.6)
	if cfg.AIWorkers <= 0 || cfg.AIQueueSize <= 0 {
		errs = append(errs, "AI_WORKERS and AI_QUEUE_SIZE must be positive")
	}
	if cfg.AIMinConfidence < 0 || cfg.AIMinConfidence > 1 {
		errs = append(errs, "AI_MIN_CONFIDENCE must be between 0 and 1")
	}

	// Universe scan
	cfg.UniverseSize = getEnvAsInt("UNIVERSE_SIZE", 20)
	cfg.UniverseMinPrice = getEnvAsFloat("UNIVERSE_MIN_PRICE", 1000)
	cfg.UniverseMaxPrice = getEnvAsFloat("UNIVERSE_MAX_PRICE", 500000)
	cfg.UniverseMinChangePct = getEnvAsFloat("UNIVERSE_MIN_CHANGE_PCT", -5.0)
	cfg.UniverseMaxChangePct = getEnvAsFloat("UNIVERSE_MAX_CHANGE_PCT", 15.0)
	cfg.UniverseMinVolume = int64(getEnvAsInt("UNIVERSE_MIN_VOLUME", 100000))
	cfg.UniverseCacheTTL = getEnvAsDuration("UNIVERSE_CACHE_TTL", 5*time.Minute, &errs)
	if cfg.UniverseSize <= 0 {
		errs = append(errs, "UNIVERSE_SIZE must be positive")
	}

	// Market monitor
	cfg.MarketRefresh = getEnvAsDuration("MARKET_REFRESH", 10*time.Second, &errs)

	// Engine cadence
	cfg.ScanInterval = getEnvAsDuration("SCAN_INTERVAL", time.Minute, &errs)
	cfg.PositionInterval = getEnvAsDuration("POSITION_INTERVAL", time.Second, &errs)
	cfg.LiquidationTime = getEnv("LIQUIDATION_TIME", "15:20")
	cfg.SessionEndTime = getEnv("SESSION_END_TIME", "15:30")
	for _, tval := range []string{cfg.LiquidationTime, cfg.SessionEndTime} {
		if _, err := time.Parse("15:04", tval); err != nil {
			errs = append(errs, fmt.Sprintf("invalid time of day '%s' (want HH:MM)", tval))
		}
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/scalpbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Notifications
	cfg.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", "")

	// Process control
	cfg.PIDFile = getEnv("PID_FILE", "./scalpbot.pid")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid duration '%s' for key %s", valueStr, key))
		return defaultValue
	}
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
		return defaultValue
	}
	return value
}

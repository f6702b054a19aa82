package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Execution modes.
const (
	ModeDryRun = "dry-run"
	ModePaper  = "paper"
	ModeLive   = "live"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel   string
	HTTPPort   string
	OperatorID string

	// Exchange
	Exchange         string
	QuoteAsset       string
	BinanceRESTURL   string
	BinanceWSURL     string
	BinanceAPIKey    string
	BinanceAPISecret string
	MarketDataMode   string // "rest" or "stream"
	MarketPairsTTL   time.Duration
	MarketQuotesTTL  time.Duration
	HTTPTimeout      time.Duration

	// DiscoveryPollInterval is how often the pair listing is re-checked; zero disables it.
	DiscoveryPollInterval time.Duration

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSReconnectMaxAttempts  int
	WSMessageBufferSize     int

	// Scanning
	ScanMinProfitPercent     float64
	ScanMinVolume            float64
	ScanMinVolatilityPercent float64
	ScanMaxVolatilityPercent float64

	// Opportunity cache
	CacheHorizon  time.Duration
	CacheCapacity int
	CacheDebounce time.Duration

	// Risk
	RiskInitialBalance         float64
	RiskMaxRiskPerTrade        float64
	RiskDefaultStopLoss        float64
	RiskPortfolioCapMultiplier float64

	// Execution
	ExecutionMode              string
	ExecutionTradingEnabled    bool
	ExecutionMaxPositionSize   float64
	ExecutionMaxConcurrent     int
	ExecutionStopLossPercent   float64
	ExecutionTakeProfitPercent float64
	ExecutionTradingMode       string
	MonitorInterval            time.Duration

	// Auto-trading
	AutoTradeEnabled          bool
	AutoTradeInterval         time.Duration
	AutoTradeMinProfitPercent float64
	AutoTradeMaxTradeVolume   float64

	// Circuit breaker
	CircuitBreakerEnabled         bool
	CircuitBreakerCheckInterval   time.Duration
	CircuitBreakerTradeMultiplier float64
	CircuitBreakerMinAbsolute     float64
	CircuitBreakerHysteresisRatio float64

	// Storage
	StorageMode  string // "console", "postgres" or "sqlite"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
	SQLitePath   string

	// Notifications
	NotifyRedisEnabled bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannel       string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:   getEnvOrDefault("HTTP_PORT", "8080"),
		OperatorID: getEnvOrDefault("OPERATOR_ID", "default"),

		Exchange:         strings.ToLower(getEnvOrDefault("EXCHANGE", "binance")),
		QuoteAsset:       strings.ToUpper(getEnvOrDefault("QUOTE_ASSET", "USDT")),
		BinanceRESTURL:   getEnvOrDefault("BINANCE_REST_URL", "https://api.binance.com"),
		BinanceWSURL:     getEnvOrDefault("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		MarketDataMode:   getEnvOrDefault("MARKET_DATA_MODE", "rest"),
		MarketPairsTTL:   getDurationOrDefault("MARKET_PAIRS_TTL", time.Hour),
		MarketQuotesTTL:  getDurationOrDefault("MARKET_QUOTES_TTL", 5*time.Second),
		HTTPTimeout:      getDurationOrDefault("HTTP_TIMEOUT", 10*time.Second),

		DiscoveryPollInterval: getDurationOrDefault("DISCOVERY_POLL_INTERVAL", 5*time.Minute),

		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 60*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 20*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSReconnectMaxAttempts:  getIntOrDefault("WS_RECONNECT_MAX_ATTEMPTS", 0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		ScanMinProfitPercent:     getFloat64OrDefault("SCAN_MIN_PROFIT_PERCENT", 0.5),
		ScanMinVolume:            getFloat64OrDefault("SCAN_MIN_VOLUME", 10000),
		ScanMinVolatilityPercent: getFloat64OrDefault("SCAN_MIN_VOLATILITY_PERCENT", 0.1),
		ScanMaxVolatilityPercent: getFloat64OrDefault("SCAN_MAX_VOLATILITY_PERCENT", 1.0),

		CacheHorizon:  getDurationOrDefault("CACHE_HORIZON", 300*time.Second),
		CacheCapacity: getIntOrDefault("CACHE_CAPACITY", 10),
		CacheDebounce: getDurationOrDefault("CACHE_DEBOUNCE", 60*time.Second),

		RiskInitialBalance:         getFloat64OrDefault("RISK_INITIAL_BALANCE", 10000),
		RiskMaxRiskPerTrade:        getFloat64OrDefault("RISK_MAX_RISK_PER_TRADE", 0.01),
		RiskDefaultStopLoss:        getFloat64OrDefault("RISK_DEFAULT_STOP_LOSS", 0.01),
		RiskPortfolioCapMultiplier: getFloat64OrDefault("RISK_PORTFOLIO_CAP_MULTIPLIER", 3),

		ExecutionMode:              getEnvOrDefault("EXECUTION_MODE", ModePaper),
		ExecutionTradingEnabled:    getBoolOrDefault("EXECUTION_TRADING_ENABLED", true),
		ExecutionMaxPositionSize:   getFloat64OrDefault("EXECUTION_MAX_POSITION_SIZE", 100),
		ExecutionMaxConcurrent:     getIntOrDefault("EXECUTION_MAX_CONCURRENT_TRADES", 3),
		ExecutionStopLossPercent:   getFloat64OrDefault("EXECUTION_STOP_LOSS_PERCENT", 1.0),
		ExecutionTakeProfitPercent: getFloat64OrDefault("EXECUTION_TAKE_PROFIT_PERCENT", 2.0),
		ExecutionTradingMode:       getEnvOrDefault("EXECUTION_TRADING_MODE", "moderate"),
		MonitorInterval:            getDurationOrDefault("MONITOR_INTERVAL", 10*time.Second),

		AutoTradeEnabled:          getBoolOrDefault("AUTOTRADE_ENABLED", false),
		AutoTradeInterval:         getDurationOrDefault("AUTOTRADE_INTERVAL", 60*time.Second),
		AutoTradeMinProfitPercent: getFloat64OrDefault("AUTOTRADE_MIN_PROFIT_PERCENT", 0.5),
		AutoTradeMaxTradeVolume:   getFloat64OrDefault("AUTOTRADE_MAX_TRADE_VOLUME", 1000000),

		CircuitBreakerEnabled:         getBoolOrDefault("CIRCUIT_BREAKER_ENABLED", false),
		CircuitBreakerCheckInterval:   getDurationOrDefault("CIRCUIT_BREAKER_CHECK_INTERVAL", 5*time.Minute),
		CircuitBreakerTradeMultiplier: getFloat64OrDefault("CIRCUIT_BREAKER_TRADE_MULTIPLIER", 3.0),
		CircuitBreakerMinAbsolute:     getFloat64OrDefault("CIRCUIT_BREAKER_MIN_ABSOLUTE", 10.0),
		CircuitBreakerHysteresisRatio: getFloat64OrDefault("CIRCUIT_BREAKER_HYSTERESIS_RATIO", 1.5),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "triarb"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "triarb"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "triarb"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "triarb.db"),

		NotifyRedisEnabled: getBoolOrDefault("NOTIFY_REDIS_ENABLED", false),
		RedisAddr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getIntOrDefault("REDIS_DB", 0),
		RedisChannel:       getEnvOrDefault("REDIS_CHANNEL", "triarb:trades"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.Exchange != "binance" {
		return fmt.Errorf("EXCHANGE must be 'binance', got %q", c.Exchange)
	}

	if c.BinanceRESTURL == "" {
		return fmt.Errorf("BINANCE_REST_URL cannot be empty")
	}

	if c.MarketDataMode != "rest" && c.MarketDataMode != "stream" {
		return fmt.Errorf("MARKET_DATA_MODE must be 'rest' or 'stream', got %q", c.MarketDataMode)
	}

	if c.MarketDataMode == "stream" && c.BinanceWSURL == "" {
		return fmt.Errorf("BINANCE_WS_URL cannot be empty in stream mode")
	}

	if c.WSReconnectMaxAttempts < 0 {
		return fmt.Errorf("WS_RECONNECT_MAX_ATTEMPTS cannot be negative, got %d", c.WSReconnectMaxAttempts)
	}

	if c.DiscoveryPollInterval < 0 {
		return fmt.Errorf("DISCOVERY_POLL_INTERVAL cannot be negative, got %v", c.DiscoveryPollInterval)
	}

	if c.ScanMinVolatilityPercent > c.ScanMaxVolatilityPercent {
		return fmt.Errorf("SCAN_MIN_VOLATILITY_PERCENT (%f) exceeds SCAN_MAX_VOLATILITY_PERCENT (%f)",
			c.ScanMinVolatilityPercent, c.ScanMaxVolatilityPercent)
	}

	if c.ScanMinVolume < 0 {
		return fmt.Errorf("SCAN_MIN_VOLUME cannot be negative, got %f", c.ScanMinVolume)
	}

	if c.CacheCapacity <= 0 {
		return fmt.Errorf("CACHE_CAPACITY must be positive, got %d", c.CacheCapacity)
	}

	if c.CacheHorizon <= 0 || c.CacheDebounce <= 0 {
		return fmt.Errorf("CACHE_HORIZON and CACHE_DEBOUNCE must be positive")
	}

	if c.RiskInitialBalance <= 0 {
		return fmt.Errorf("RISK_INITIAL_BALANCE must be positive, got %f", c.RiskInitialBalance)
	}

	if c.RiskMaxRiskPerTrade <= 0 || c.RiskMaxRiskPerTrade >= 1.0 {
		return fmt.Errorf("RISK_MAX_RISK_PER_TRADE must be between 0 and 1.0, got %f", c.RiskMaxRiskPerTrade)
	}

	if c.RiskDefaultStopLoss <= 0 {
		return fmt.Errorf("RISK_DEFAULT_STOP_LOSS must be positive, got %f", c.RiskDefaultStopLoss)
	}

	if c.RiskPortfolioCapMultiplier <= 0 {
		return fmt.Errorf("RISK_PORTFOLIO_CAP_MULTIPLIER must be positive, got %f", c.RiskPortfolioCapMultiplier)
	}

	switch c.ExecutionMode {
	case ModeDryRun, ModePaper, ModeLive:
	default:
		return fmt.Errorf("EXECUTION_MODE must be 'dry-run', 'paper' or 'live', got %q", c.ExecutionMode)
	}

	if c.ExecutionMode == ModeLive && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required in live mode")
	}

	if c.ExecutionMaxPositionSize <= 0 {
		return fmt.Errorf("EXECUTION_MAX_POSITION_SIZE must be positive, got %f", c.ExecutionMaxPositionSize)
	}

	if c.ExecutionMaxConcurrent <= 0 {
		return fmt.Errorf("EXECUTION_MAX_CONCURRENT_TRADES must be positive, got %d", c.ExecutionMaxConcurrent)
	}

	if c.ExecutionStopLossPercent <= 0 || c.ExecutionTakeProfitPercent <= 0 {
		return fmt.Errorf("EXECUTION_STOP_LOSS_PERCENT and EXECUTION_TAKE_PROFIT_PERCENT must be positive")
	}

	switch c.ExecutionTradingMode {
	case "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("EXECUTION_TRADING_MODE must be 'conservative', 'moderate' or 'aggressive', got %q",
			c.ExecutionTradingMode)
	}

	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}

	if c.AutoTradeInterval <= 0 {
		return fmt.Errorf("AUTOTRADE_INTERVAL must be positive")
	}

	if c.AutoTradeMaxTradeVolume <= 0 {
		return fmt.Errorf("AUTOTRADE_MAX_TRADE_VOLUME must be positive, got %f", c.AutoTradeMaxTradeVolume)
	}

	switch c.StorageMode {
	case "console", "postgres", "sqlite":
	default:
		return fmt.Errorf("STORAGE_MODE must be 'console', 'postgres' or 'sqlite', got %q", c.StorageMode)
	}

	if c.StorageMode == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH cannot be empty in sqlite mode")
	}

	if c.NotifyRedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR cannot be empty when NOTIFY_REDIS_ENABLED is set")
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tuborlabs/tyield/internal/protocol"
)

// Config holds the daemon's runtime settings, loaded from the environment.
// Protocol-level parameters live in the store and change only through
// multisig proposals; this struct covers process wiring only.
type Config struct {
	Environment string
	LogLevel    string

	Store struct {
		// "memory" or "postgres"
		Backend  string
		Postgres struct {
			Host     string
			Port     int
			User     string
			Password string
			DBName   string
			SSLMode  string
		}
	}

	Feed struct {
		APIKey     string
		APISecret  string
		Testnet    bool
		Category   string
		Symbols    []string
		TWAPWindow int
		// Interval between trade-update polling passes.
		PollInterval time.Duration
		// Public websocket endpoint for live ticks. Empty disables streaming.
		StreamURL string
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}
}

// Load reads the daemon config from the environment. An optional .env file
// is merged in first; a missing file is not an error.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	cfg.Store.Backend = getEnv("STORE_BACKEND", "memory")
	cfg.Store.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	cfg.Store.Postgres.Port = getEnvInt("POSTGRES_PORT", 5432)
	cfg.Store.Postgres.User = getEnv("POSTGRES_USER", "tyield")
	cfg.Store.Postgres.Password = getEnv("POSTGRES_PASSWORD", "")
	cfg.Store.Postgres.DBName = getEnv("POSTGRES_DB", "tyield")
	cfg.Store.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")

	cfg.Feed.APIKey = getEnv("BYBIT_API_KEY", "")
	cfg.Feed.APISecret = getEnv("BYBIT_API_SECRET", "")
	cfg.Feed.Testnet = getEnvBool("BYBIT_TESTNET", true)
	cfg.Feed.Category = getEnv("BYBIT_CATEGORY", "spot")
	cfg.Feed.Symbols = splitList(getEnv("FEED_SYMBOLS", "BTCUSDT"))
	cfg.Feed.TWAPWindow = getEnvInt("TWAP_WINDOW_MINUTES", 30)
	cfg.Feed.PollInterval = getEnvDuration("POLL_INTERVAL", 15*time.Second)
	cfg.Feed.StreamURL = getEnv("STREAM_URL", "")

	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 8080)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 8081)

	return cfg
}

// GenesisProtocolConfig returns the protocol parameters written at
// initialization. Signers come from the PROTOCOL_SIGNERS environment
// variable as a comma-separated list.
func GenesisProtocolConfig() protocol.Config {
	return protocol.Config{
		BuyTaxBps:       getEnvUint("BUY_TAX_BPS", 100),
		SellTaxBps:      getEnvUint("SELL_TAX_BPS", 100),
		MaxTaxBps:       getEnvUint("MAX_TAX_BPS", 500),
		YieldRateBps:    getEnvUint("YIELD_RATE_BPS", 50),
		MaxYieldRateBps: getEnvUint("MAX_YIELD_RATE_BPS", 1000),

		Signers:       splitList(getEnv("PROTOCOL_SIGNERS", "signer-1,signer-2,signer-3")),
		MinSignatures: getEnvInt("MIN_SIGNATURES", 2),
		ProposalTTL:   getEnvDuration("PROPOSAL_TTL", 24*time.Hour),

		Risk: protocol.RiskBounds{
			MinSize:             getEnvUint("MIN_TRADE_SIZE", 1_000_000),
			MaxSize:             getEnvUint("MAX_TRADE_SIZE", 1_000_000_000_000),
			MinRiskRewardBps:    getEnvUint("MIN_RISK_REWARD_BPS", 5_000),
			MaxRiskRewardBps:    getEnvUint("MAX_RISK_REWARD_BPS", 100_000),
			MinLevelDistanceBps: getEnvUint("MIN_LEVEL_DISTANCE_BPS", 10),
			MaxEntrySlippageBps: getEnvUint("MAX_ENTRY_SLIPPAGE_BPS", 100),
		},
		Oracle: protocol.OracleBounds{
			MaxStaleness:    getEnvDuration("ORACLE_MAX_STALENESS", 300*time.Second),
			MaxDeviationBps: getEnvUint("ORACLE_MAX_DEVIATION_BPS", 1_000),
			MinFeeds:        getEnvInt("ORACLE_MIN_FEEDS", 1),
		},
		Breaker: protocol.BreakerBounds{
			OracleFailureThreshold: getEnvInt("BREAKER_ORACLE_FAILURES", 5),
			MaxTradesPerWindow:     getEnvInt("BREAKER_MAX_TRADES", 1_000),
			MaxNotionalPerWindow:   getEnvUint("BREAKER_MAX_NOTIONAL", 10_000_000_000_000),
			ActivityWindow:         getEnvDuration("BREAKER_ACTIVITY_WINDOW", time.Hour),
			Cooldown:               getEnvDuration("BREAKER_COOLDOWN", time.Hour),
		},
		RateLimits: map[string]protocol.RateLimit{
			protocol.OpClassOpenTrade:    {Limit: getEnvInt("LIMIT_OPEN_TRADE", 10), Window: getEnvDuration("LIMIT_OPEN_TRADE_WINDOW", time.Minute)},
			protocol.OpClassAdminChange:  {Limit: getEnvInt("LIMIT_ADMIN_CHANGE", 5), Window: getEnvDuration("LIMIT_ADMIN_CHANGE_WINDOW", time.Minute)},
			protocol.OpClassYieldUpdate:  {Limit: getEnvInt("LIMIT_YIELD_UPDATE", 3), Window: getEnvDuration("LIMIT_YIELD_UPDATE_WINDOW", time.Hour)},
			protocol.OpClassBreakerReset: {Limit: getEnvInt("LIMIT_BREAKER_RESET", 2), Window: getEnvDuration("LIMIT_BREAKER_RESET_WINDOW", time.Hour)},
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

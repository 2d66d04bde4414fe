package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the env-driven runtime configuration.
type Config struct {
	Port      string
	AppEnv    string
	SentryDSN string

	DatabaseURL string
	RedisURL    string

	SigningKeyPEM string

	SignInDomain    string
	SignInStatement string
	SignInURI       string
	ChainID         int64

	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	RateWindow     time.Duration
	TierThresholds [3]int
	TierBlocks     [3]time.Duration

	DefaultRole string

	SweepInterval      time.Duration
	ChallengeRetention time.Duration
	TokenRetention     time.Duration
	AttemptRetention   time.Duration
}

// Load reads the configuration from the environment, applying relaxed
// development defaults.
func Load() Config {
	return Config{
		Port:      envOrDefault("PORT", "9000"),
		AppEnv:    envOrDefault("APP_ENV", "development"),
		SentryDSN: os.Getenv("SENTRY_DSN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		SigningKeyPEM: os.Getenv("SIGNING_KEY_PEM"),

		SignInDomain:    envOrDefault("SIGNIN_DOMAIN", "localhost"),
		SignInStatement: envOrDefault("SIGNIN_STATEMENT", "Sign in to the document registry."),
		SignInURI:       envOrDefault("SIGNIN_URI", "https://localhost"),
		ChainID:         envInt64OrDefault("CHAIN_ID", 1),

		ChallengeTTL: envMinutesOrDefault("CHALLENGE_TTL_MINUTES", 5),
		AccessTTL:    envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:   envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),

		RateWindow: envMinutesOrDefault("RATE_LIMIT_WINDOW_MINUTES", 60),
		TierThresholds: [3]int{
			envIntOrDefault("RATE_LIMIT_TIER1_THRESHOLD", 20),
			envIntOrDefault("RATE_LIMIT_TIER2_THRESHOLD", 40),
			envIntOrDefault("RATE_LIMIT_TIER3_THRESHOLD", 80),
		},
		TierBlocks: [3]time.Duration{
			envHoursOrDefault("RATE_LIMIT_TIER1_BLOCK_HOURS", 1),
			envHoursOrDefault("RATE_LIMIT_TIER2_BLOCK_HOURS", 3),
			envHoursOrDefault("RATE_LIMIT_TIER3_BLOCK_HOURS", 12),
		},

		DefaultRole: envOrDefault("DEFAULT_ROLE", "user"),

		SweepInterval:      envMinutesOrDefault("SWEEP_INTERVAL_MINUTES", 10),
		ChallengeRetention: envHoursOrDefault("CHALLENGE_RETENTION_HOURS", 24),
		TokenRetention:     envHoursOrDefault("TOKEN_RETENTION_HOURS", 336),
		AttemptRetention:   envHoursOrDefault("ATTEMPT_RETENTION_HOURS", 25),
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envInt64OrDefault(name string, fallback int64) int64 {
	return int64(envIntOrDefault(name, int(fallback)))
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

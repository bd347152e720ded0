package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the gateway process.
type Config struct {
	// HTTP surface (health/metrics).
	ListenAddr string

	// Upstream broker connection.
	BrokerHost            string
	BrokerPort            int
	BrokerUseTLS          bool
	HeartbeatInterval     time.Duration
	HeartbeatTimeout      time.Duration
	ReconnectInterval     time.Duration
	MaxReconnectAttempts  int
	RequestTimeout        time.Duration
	MaxFrameBytes         int

	// Per-user session limits.
	MaxConnectionsPerUser int

	// Downstream rate limiting.
	RateLimitMessages int
	RateLimitWindow   time.Duration

	// OAuth credential refresh.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	CredentialTTLSkew time.Duration

	// Credential store.
	StorePath string

	// Session auth between downstream clients and this gateway.
	JWTSecret string

	// Encryption at rest for cached tokens.
	MasterEncryptionKey string

	LogLevel string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the process still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		BrokerHost:           getEnv("BROKER_HOST", "demo.broker.example.com"),
		BrokerPort:           getEnvInt("BROKER_PORT", 5035),
		BrokerUseTLS:         getEnv("BROKER_USE_TLS", "true") == "true",
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL_MS", 30*time.Second),
		HeartbeatTimeout:     getEnvDuration("HEARTBEAT_TIMEOUT_MS", 10*time.Second),
		ReconnectInterval:    getEnvDuration("RECONNECT_INTERVAL_MS", 1*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT_MS", 45*time.Second),
		MaxFrameBytes:        getEnvInt("MAX_FRAME_BYTES", 1<<20),

		MaxConnectionsPerUser: getEnvInt("MAX_CONNECTIONS_PER_USER", 5),

		RateLimitMessages: getEnvInt("RATE_LIMIT_MESSAGES", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW_MS", 1*time.Second),

		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		CredentialTTLSkew: getEnvDuration("CREDENTIAL_TTL_SKEW_MS", 60*time.Second),

		StorePath: getEnv("STORE_PATH", "./data/gateway.db"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),

		MasterEncryptionKey: os.Getenv("GATEWAY_CREDENTIAL_KEY"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Credential backend kinds.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Client captures configuration for the session pipeline and the CLI.
type Client struct {
	AuthServiceURL   string
	WalletServiceURL string
	RequestTimeout   time.Duration

	CredentialBackend string
	CredentialPath    string
	RedisURL          string
	RedisKeyPrefix    string

	// ExpiryThreshold is how close to expiry an access token counts as "expiring soon".
	ExpiryThreshold time.Duration
	// ValidateOnStart drops a persisted token at startup when it is expired or malformed.
	ValidateOnStart bool

	LogLevel     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Stub captures configuration for the local stub backend.
type Stub struct {
	Addr       string
	SigningKey string
	TokenTTL   time.Duration
	LogLevel   string
}

var (
	DefaultAuthServiceURL   = "http://localhost:8083"
	DefaultWalletServiceURL = "http://localhost:8082"
	DefaultRequestTimeout   = 15 * time.Second
	DefaultExpiryThreshold  = 5 * time.Minute
	DefaultStubTokenTTL     = 15 * time.Minute
)

// FromEnv builds a Client config from TRADAX_* environment variables.
func FromEnv() Client {
	return Client{
		AuthServiceURL:    trimURL(getEnv("TRADAX_AUTH_SERVICE_URL", DefaultAuthServiceURL)),
		WalletServiceURL:  trimURL(getEnv("TRADAX_WALLET_SERVICE_URL", DefaultWalletServiceURL)),
		RequestTimeout:    getDuration("TRADAX_REQUEST_TIMEOUT", DefaultRequestTimeout),
		CredentialBackend: strings.ToLower(getEnv("TRADAX_CREDENTIAL_BACKEND", BackendFile)),
		CredentialPath:    getEnv("TRADAX_CREDENTIAL_PATH", defaultCredentialPath()),
		RedisURL:          os.Getenv("TRADAX_REDIS_URL"),
		RedisKeyPrefix:    getEnv("TRADAX_REDIS_KEY_PREFIX", "tradax:credentials:"),
		ExpiryThreshold:   getDuration("TRADAX_EXPIRY_THRESHOLD", DefaultExpiryThreshold),
		ValidateOnStart:   getBool("TRADAX_VALIDATE_ON_START", true),
		LogLevel:          getEnv("TRADAX_LOG_LEVEL", "info"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:      getBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

// StubFromEnv builds the stub backend config.
func StubFromEnv() Stub {
	signingKey := os.Getenv("TRADAX_STUB_SIGNING_KEY")
	if signingKey == "" {
		// Use a default for development - the stub is never deployed
		signingKey = "dev-secret-key-change-in-production"
	}
	return Stub{
		Addr:       getEnv("TRADAX_STUB_ADDR", ":8083"),
		SigningKey: signingKey,
		TokenTTL:   getDuration("TRADAX_STUB_TOKEN_TTL", DefaultStubTokenTTL),
		LogLevel:   getEnv("TRADAX_LOG_LEVEL", "info"),
	}
}

func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tradax", "credentials.json")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func trimURL(u string) string {
	return strings.TrimRight(u, "/")
}

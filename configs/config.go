package configs

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	Debug      bool

	DatabaseType    string
	DatabaseURL     string
	APIDatabaseURL  string
	ReadReplicaURLs []string
	AutoMigrate     bool

	RedisURL string

	ClientHeader          string
	SecretHeader          string
	APIKeyHeader          string
	AllowQueryCredentials bool

	CredentialCacheTTL   time.Duration
	PolicyCacheTTL       time.Duration
	ScopeCacheTTL        time.Duration
	DefaultRatePerMinute int
	CounterGrace         time.Duration
	SweepSchedule        string

	GuardRPS       float64
	GuardBurst     int
	TrustedProxies []string

	ScopeTablePath string

	JWTSecret         string
	JWTTTL            time.Duration
	AdminUsername     string
	AdminPasswordHash string

	EnableWebSocket bool
	MetricsEnabled  bool
}

// LoadConfig reads the process environment, after merging a .env file when one
// is present in the working directory.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		Debug:      parseBool(getEnv("DEBUG", "false")),

		DatabaseType:    strings.ToLower(getEnv("DATABASE_TYPE", "mysql")),
		DatabaseURL:     getEnv("DATABASE_URL", "root:password@tcp(localhost:3306)/ebs?charset=utf8mb4&parseTime=True&loc=Local"),
		APIDatabaseURL:  os.Getenv("API_DATABASE_URL"),
		ReadReplicaURLs: splitList(os.Getenv("READ_REPLICA_URLS")),
		AutoMigrate:     parseBool(getEnv("DB_AUTO_MIGRATE", "false")),

		RedisURL: os.Getenv("REDIS_URL"),

		ClientHeader:          getEnv("CLIENT_HEADER", "x-client-key"),
		SecretHeader:          getEnv("SECRET_HEADER", "x-secret-key"),
		APIKeyHeader:          os.Getenv("APIKEY_HEADER"),
		AllowQueryCredentials: parseBool(getEnv("ALLOW_QUERY_CREDENTIALS", "false")),

		CredentialCacheTTL:   parseDuration(getEnv("CREDENTIAL_CACHE_TTL", "60s"), time.Minute),
		PolicyCacheTTL:       parseDuration(getEnv("POLICY_CACHE_TTL", "60s"), time.Minute),
		ScopeCacheTTL:        parseDuration(getEnv("SCOPE_CACHE_TTL", "60s"), time.Minute),
		DefaultRatePerMinute: parseInt(getEnv("DEFAULT_RATE_PER_MINUTE", "120")),
		CounterGrace:         parseDuration(getEnv("COUNTER_GRACE", "1500ms"), 1500*time.Millisecond),
		SweepSchedule:        getEnv("SWEEP_SCHEDULE", "@every 30s"),

		GuardRPS:       parseFloat(getEnv("GUARD_RPS", "50")),
		GuardBurst:     parseInt(getEnv("GUARD_BURST", "100")),
		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),

		ScopeTablePath: getEnv("SCOPE_TABLE_PATH", "configs/scopes.yaml"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTTTL:            parseDuration(getEnv("JWT_TTL", "12h"), 12*time.Hour),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		EnableWebSocket: parseBool(getEnv("ENABLE_WEBSOCKET", "true")),
		MetricsEnabled:  parseBool(getEnv("METRICS_ENABLED", "true")),
	}

	if cfg.APIDatabaseURL == "" {
		cfg.APIDatabaseURL = cfg.DatabaseURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseType {
	case "mysql", "postgres", "sqlite":
	default:
		return errors.New("DATABASE_TYPE must be one of mysql, postgres, sqlite")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.ClientHeader == "" || c.SecretHeader == "" {
		return errors.New("CLIENT_HEADER and SECRET_HEADER must not be empty")
	}
	if c.DefaultRatePerMinute <= 0 {
		return errors.New("DEFAULT_RATE_PER_MINUTE must be > 0")
	}
	if c.CredentialCacheTTL <= 0 || c.PolicyCacheTTL <= 0 {
		return errors.New("cache TTLs must be > 0")
	}
	if c.AdminPasswordHash != "" && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes when the admin API is enabled")
	}
	return nil
}

// AdminEnabled reports whether the /admin routes should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminPasswordHash != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

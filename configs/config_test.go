package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "user:pw@tcp(db:3306)/ebs")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.ServerPort)
		assert.Equal(t, "mysql", cfg.DatabaseType)
		assert.Equal(t, cfg.DatabaseURL, cfg.APIDatabaseURL)
		assert.Equal(t, "x-client-key", cfg.ClientHeader)
		assert.Equal(t, "x-secret-key", cfg.SecretHeader)
		assert.False(t, cfg.AllowQueryCredentials)
		assert.Equal(t, time.Minute, cfg.CredentialCacheTTL)
		assert.Equal(t, time.Minute, cfg.PolicyCacheTTL)
		assert.Equal(t, 120, cfg.DefaultRatePerMinute)
		assert.Equal(t, 1500*time.Millisecond, cfg.CounterGrace)
		assert.False(t, cfg.AdminEnabled())
		assert.Empty(t, cfg.TrustedProxies)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DATABASE_TYPE", "postgres")
		t.Setenv("DATABASE_URL", "postgres://localhost/ebs")
		t.Setenv("API_DATABASE_URL", "postgres://localhost/api_service")
		t.Setenv("READ_REPLICA_URLS", "postgres://r1/ebs, ,postgres://r2/ebs")
		t.Setenv("ALLOW_QUERY_CREDENTIALS", "true")
		t.Setenv("POLICY_CACHE_TTL", "5s")
		t.Setenv("GUARD_RPS", "2.5")
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.DatabaseType)
		assert.Equal(t, "postgres://localhost/api_service", cfg.APIDatabaseURL)
		assert.Equal(t, []string{"postgres://r1/ebs", "postgres://r2/ebs"}, cfg.ReadReplicaURLs)
		assert.True(t, cfg.AllowQueryCredentials)
		assert.Equal(t, 5*time.Second, cfg.PolicyCacheTTL)
		assert.Equal(t, 2.5, cfg.GuardRPS)
		assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
	})

	t.Run("unsupported database type", func(t *testing.T) {
		t.Setenv("DATABASE_TYPE", "oracle")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("admin requires a long jwt secret", func(t *testing.T) {
		t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
		t.Setenv("JWT_SECRET", "short")
		_, err := LoadConfig()
		assert.Error(t, err)

		t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.True(t, cfg.AdminEnabled())
	})

	t.Run("bad duration falls back", func(t *testing.T) {
		t.Setenv("CREDENTIAL_CACHE_TTL", "soon")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, time.Minute, cfg.CredentialCacheTTL)
	})
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.TokenBackend)
	assert.Equal(t, 10*time.Second, cfg.TokenMinTTL)
	assert.Equal(t, 30*time.Second, cfg.TokenMaxTTL)
	assert.Equal(t, 30*time.Second, cfg.PurgeInterval)
	assert.True(t, cfg.Cache.Methods["GET"])
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_BACKEND", "mysql")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "checkin")
	t.Setenv("TOKEN_BACKEND", "redis")
	t.Setenv("TOKEN_TTL_MIN", "5000")
	t.Setenv("TOKEN_TTL_MAX", "15s")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("EVENT_RELAY_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, "3306", cfg.DBPort)
	assert.Equal(t, 5*time.Second, cfg.TokenMinTTL)
	assert.Equal(t, 15*time.Second, cfg.TokenMaxTTL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.RateLimit.Capacity)
	assert.True(t, cfg.EventRelay)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	base := Load()

	bad := base
	bad.StoreBackend = "postgres"
	assert.Error(t, bad.Validate())

	bad = base
	bad.TokenBackend = "etcd"
	assert.Error(t, bad.Validate())

	bad = base
	bad.TokenMinTTL, bad.TokenMaxTTL = 20*time.Second, 10*time.Second
	assert.Error(t, bad.Validate())
}

package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gas?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4200", cfg.HTTPPort)
	assert.True(t, cfg.SaveHistory)
	assert.EqualValues(t, 100, cfg.Usage.Limit)
	assert.EqualValues(t, 5, cfg.Usage.RequestCost)
	assert.Equal(t, time.Hour, cfg.Usage.Window)
	assert.Equal(t, "http://127.0.0.1:8097", cfg.Oracle.URL)
	assert.Equal(t, time.Minute, cfg.History.Interval)
	assert.True(t, cfg.Reconcile.WeiPerCredit.Equal(decimal.New(1, 12)))
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/gas")
	t.Setenv("USAGE_LIMIT", "10")
	t.Setenv("REQUEST_COST", "2")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("SAVE_HISTORY", "false")
	t.Setenv("CREDIT_WEI_PER_UNIT", "1000")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("BCRYPT_COST", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.EqualValues(t, 10, cfg.Usage.Limit)
	assert.EqualValues(t, 2, cfg.Usage.RequestCost)
	assert.True(t, cfg.Redis.Enabled())
	assert.False(t, cfg.SaveHistory)
	assert.True(t, cfg.Reconcile.WeiPerCredit.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 10, cfg.Usage.BcryptCost, "invalid values fall back to defaults")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			EncryptionKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			Usage:         UsageConfig{Limit: 100, RequestCost: 5, Window: time.Hour},
			History:       HistoryConfig{Interval: time.Minute},
			Reconcile:     ReconcileConfig{Interval: time.Minute, WeiPerCredit: decimal.NewFromInt(1)},
			Session:       SessionConfig{IdleTTL: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short encryption key", mutate: func(c *Config) { c.EncryptionKey = "abcd" }, wantErr: "64 hex"},
		{name: "non hex encryption key", mutate: func(c *Config) {
			c.EncryptionKey = "zz23456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		}, wantErr: "valid hex"},
		{name: "zero limit", mutate: func(c *Config) { c.Usage.Limit = 0 }, wantErr: "USAGE_LIMIT"},
		{name: "negative cost", mutate: func(c *Config) { c.Usage.RequestCost = -1 }, wantErr: "REQUEST_COST"},
		{name: "zero wei per credit", mutate: func(c *Config) { c.Reconcile.WeiPerCredit = decimal.Zero }, wantErr: "CREDIT_WEI_PER_UNIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

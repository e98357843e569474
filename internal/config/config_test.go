package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.SlowRequestThreshold)
	assert.Equal(t, 50.0, cfg.Server.RateLimit)
	assert.Equal(t, 30*time.Minute, cfg.Engine.GraceWindow)
	assert.Equal(t, 4*time.Hour, cfg.Engine.LateWindow)
	assert.Equal(t, 366, cfg.Engine.MaxLookaheadDays)
	assert.Equal(t, "@every 1m", cfg.Reminder.Spec)
	assert.False(t, cfg.Azure.Storage.Enabled())

	conflictCfg := cfg.Engine.ConflictConfig()
	assert.Equal(t, 14*24*time.Hour, conflictCfg.Horizon)
	assert.Equal(t, model.NewTimeOfDay(12, 30), conflictCfg.Meals["lunch"])
	assert.Len(t, conflictCfg.Meals, 4)

	assert.Equal(t, cfg.Engine.GraceWindow, cfg.Engine.AdherenceConfig().GraceWindow)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GRACE_WINDOW", "15m")
	t.Setenv("MEAL_BREAKFAST", "07:15")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Engine.GraceWindow)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, model.NewTimeOfDay(7, 15), cfg.Engine.ConflictConfig().Meals["breakfast"])
}

func TestLoad_ProductionRequiresDatabaseAndKey(t *testing.T) {
	t.Setenv("ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")

	t.Setenv("DATABASE_URL", "postgres://localhost/regimen")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryptionkey")

	t.Setenv("ENCRYPTION_KEY", "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=")
	_, err = Load()
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Environment: "development"},
			Engine: EngineConfig{
				GraceWindow:         30 * time.Minute,
				LateWindow:          4 * time.Hour,
				MaxLookaheadDays:    366,
				ConflictHorizonDays: 14,
				ProximityThreshold:  30 * time.Minute,
				MealWindow:          30 * time.Minute,
				MinIntervalHours:    4,
				MaxIntervalHours:    72,
				MinIntervalDays:     1,
				MaxIntervalDays:     30,
				Meals:               map[string]string{"breakfast": "08:00"},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "late shorter than grace", mutate: func(c *Config) { c.Engine.LateWindow = time.Minute }, want: "latewindow"},
		{name: "bad meal clock", mutate: func(c *Config) { c.Engine.Meals["lunch"] = "noon" }, want: "engine.meals.lunch"},
		{name: "inverted hour bounds", mutate: func(c *Config) { c.Engine.MaxIntervalHours = 2 }, want: "interval hour"},
		{name: "short key", mutate: func(c *Config) { c.Security.EncryptionKey = "c2hvcnQ=" }, want: "32 bytes"},
		{name: "negative rate", mutate: func(c *Config) { c.Server.RateLimit = -1 }, want: "ratelimit"},
		{name: "storage without container", mutate: func(c *Config) {
			c.Azure.Storage = StorageConfig{AccountName: "acct", AccountKey: "a2V5"}
		}, want: "reportcontainer"},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package config

import (
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Redis    RedisConfig
	Reminder ReminderConfig
	Azure    AzureConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
	// RateLimit is the sustained requests per second allowed per client; 0 disables limiting
	RateLimit            float64
	RateBurst            int
	SlowRequestThreshold time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// EngineConfig holds the scheduling engine thresholds
type EngineConfig struct {
	GraceWindow          time.Duration
	LateWindow           time.Duration
	MaxLookaheadDays     int
	ConflictHorizonDays  int
	ProximityThreshold   time.Duration
	MealWindow           time.Duration
	MinIntervalHours     int
	MaxIntervalHours     int
	MinIntervalDays      int
	MaxIntervalDays      int
	MaxMealOffsetMinutes int
	// Meals maps meal names to "HH:mm" clock times
	Meals map[string]string
}

// RedisConfig holds the adherence cache connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ReminderConfig holds the due-dose sweep settings
type ReminderConfig struct {
	Spec string
}

// AzureConfig holds Azure service configuration
type AzureConfig struct {
	Storage StorageConfig
}

// StorageConfig holds Azure Blob Storage configuration
type StorageConfig struct {
	AccountName     string
	AccountKey      string
	ReportContainer string
}

// Enabled reports whether reports should be archived
func (s StorageConfig) Enabled() bool {
	return s.AccountName != "" && s.AccountKey != ""
}

// SecurityConfig holds the key material for notes at rest
type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32 byte key
	EncryptionKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdowntimeout", 30*time.Second)
	v.SetDefault("server.ratelimit", 50)
	v.SetDefault("server.rateburst", 100)
	v.SetDefault("server.slowrequestthreshold", 100*time.Millisecond)

	// Database defaults
	v.SetDefault("database.maxopenconns", 25)
	v.SetDefault("database.connmaxlifetime", 5*time.Minute)

	// Engine defaults
	v.SetDefault("engine.gracewindow", 30*time.Minute)
	v.SetDefault("engine.latewindow", 4*time.Hour)
	v.SetDefault("engine.maxlookaheaddays", 366)
	v.SetDefault("engine.conflicthorizondays", 14)
	v.SetDefault("engine.proximitythreshold", 30*time.Minute)
	v.SetDefault("engine.mealwindow", 30*time.Minute)
	v.SetDefault("engine.minintervalhours", 4)
	v.SetDefault("engine.maxintervalhours", 72)
	v.SetDefault("engine.minintervaldays", 1)
	v.SetDefault("engine.maxintervaldays", 30)
	v.SetDefault("engine.maxmealoffsetminutes", 180)
	v.SetDefault("engine.meals.breakfast", "08:00")
	v.SetDefault("engine.meals.lunch", "12:30")
	v.SetDefault("engine.meals.dinner", "19:00")
	v.SetDefault("engine.meals.bedtime", "22:30")

	// Cache defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)

	// Reminder defaults
	v.SetDefault("reminder.spec", "@every 1m")

	// Azure Storage defaults
	v.SetDefault("azure.storage.reportcontainer", "adherence-reports")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENV", "ENVIRONMENT")
	v.BindEnv("server.ratelimit", "RATE_LIMIT")
	v.BindEnv("server.slowrequestthreshold", "SLOW_REQUEST_THRESHOLD")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Engine
	v.BindEnv("engine.gracewindow", "GRACE_WINDOW")
	v.BindEnv("engine.latewindow", "LATE_WINDOW")
	v.BindEnv("engine.conflicthorizondays", "CONFLICT_HORIZON_DAYS")
	v.BindEnv("engine.proximitythreshold", "PROXIMITY_THRESHOLD")
	v.BindEnv("engine.meals.breakfast", "MEAL_BREAKFAST")
	v.BindEnv("engine.meals.lunch", "MEAL_LUNCH")
	v.BindEnv("engine.meals.dinner", "MEAL_DINNER")
	v.BindEnv("engine.meals.bedtime", "MEAL_BEDTIME")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Reminder
	v.BindEnv("reminder.spec", "REMINDER_SPEC")

	// Azure Storage
	v.BindEnv("azure.storage.accountname", "AZURE_STORAGE_ACCOUNT_NAME")
	v.BindEnv("azure.storage.accountkey", "AZURE_STORAGE_ACCOUNT_KEY")
	v.BindEnv("azure.storage.reportcontainer", "AZURE_STORAGE_REPORT_CONTAINER")

	// Security
	v.BindEnv("security.encryptionkey", "ENCRYPTION_KEY")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.IsProduction() && c.Database.URL == "" {
		return fmt.Errorf("database.url is required in production")
	}

	if c.IsProduction() && c.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryptionkey is required in production")
	}
	if c.Security.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("security.encryptionkey must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("security.encryptionkey must decode to 32 bytes, got %d", len(key))
		}
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.ratelimit must not be negative")
	}

	e := c.Engine
	if e.GraceWindow <= 0 {
		return fmt.Errorf("engine.gracewindow must be positive")
	}
	if e.LateWindow < e.GraceWindow {
		return fmt.Errorf("engine.latewindow must not be shorter than engine.gracewindow")
	}
	if e.MaxLookaheadDays <= 0 || e.ConflictHorizonDays <= 0 {
		return fmt.Errorf("engine lookahead and horizon must be positive")
	}
	if e.ProximityThreshold <= 0 || e.MealWindow <= 0 {
		return fmt.Errorf("engine.proximitythreshold and engine.mealwindow must be positive")
	}
	if e.MinIntervalHours <= 0 || e.MaxIntervalHours < e.MinIntervalHours {
		return fmt.Errorf("engine interval hour bounds are inconsistent")
	}
	if e.MinIntervalDays <= 0 || e.MaxIntervalDays < e.MinIntervalDays {
		return fmt.Errorf("engine interval day bounds are inconsistent")
	}
	if _, err := e.MealClocks(); err != nil {
		return err
	}

	if c.Azure.Storage.Enabled() && c.Azure.Storage.ReportContainer == "" {
		return fmt.Errorf("azure.storage.reportcontainer is required when storage is configured")
	}

	return nil
}

// MealClocks parses the configured meal table
func (e EngineConfig) MealClocks() (map[string]model.TimeOfDay, error) {
	names := make([]string, 0, len(e.Meals))
	for name := range e.Meals {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]model.TimeOfDay, len(e.Meals))
	for _, name := range names {
		at, err := model.ParseTimeOfDay(e.Meals[name])
		if err != nil {
			return nil, fmt.Errorf("engine.meals.%s: %w", name, err)
		}
		out[name] = at
	}
	return out, nil
}

// ConflictConfig converts the engine settings for the conflict detector
func (e EngineConfig) ConflictConfig() conflict.Config {
	meals, _ := e.MealClocks()
	return conflict.Config{
		Horizon:              time.Duration(e.ConflictHorizonDays) * 24 * time.Hour,
		ProximityThreshold:   e.ProximityThreshold,
		MealWindow:           e.MealWindow,
		MinIntervalHours:     e.MinIntervalHours,
		MaxIntervalHours:     e.MaxIntervalHours,
		MinIntervalDays:      e.MinIntervalDays,
		MaxIntervalDays:      e.MaxIntervalDays,
		MaxMealOffsetMinutes: e.MaxMealOffsetMinutes,
		Meals:                meals,
	}
}

// AdherenceConfig converts the engine settings for the aggregator
func (e EngineConfig) AdherenceConfig() adherence.Config {
	return adherence.Config{
		GraceWindow: e.GraceWindow,
		LateWindow:  e.LateWindow,
	}
}

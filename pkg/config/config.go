package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Booking   BookingConfig
	Payment   PaymentConfig
	Sweeper   SweeperConfig
	Generator GeneratorConfig
	SlotCache SlotCacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BookingConfig tunes the reservation engine.
type BookingConfig struct {
	// HoldTTL is how long held slots stay reserved while payment is pending.
	HoldTTL time.Duration
	// LockTimeout bounds each per-row lock wait inside a reservation attempt.
	LockTimeout time.Duration
	// LockRetries is how many times a LOCK_TIMEOUT attempt is retried before
	// surfacing RESERVATION_FAILED.
	LockRetries int
	// ExtendBy is the default hold extension granted by the extend endpoint.
	ExtendBy time.Duration
}

// PaymentConfig covers the payment provider callback.
type PaymentConfig struct {
	// WebhookSecret authenticates incoming payment callbacks.
	WebhookSecret string
}

// SweeperConfig controls the expired-hold reclamation loop.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// GeneratorConfig governs slot generation horizons and async workers.
type GeneratorConfig struct {
	DaysAhead     int
	BulkDaysAhead int
	Workers       int
	Retries       int
	// BulkInterval is how often the full-horizon regeneration and past-slot
	// cleanup job runs. Zero disables it.
	BulkInterval time.Duration
}

// SlotCacheConfig tunes the available-slot listing cache.
type SlotCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Booking = BookingConfig{
		HoldTTL:     parseDuration(v.GetString("BOOKING_HOLD_TTL"), 30*time.Minute),
		LockTimeout: parseDuration(v.GetString("BOOKING_LOCK_TIMEOUT"), 3*time.Second),
		LockRetries: v.GetInt("BOOKING_LOCK_RETRIES"),
		ExtendBy:    parseDuration(v.GetString("BOOKING_HOLD_EXTEND_BY"), 15*time.Minute),
	}

	cfg.Payment = PaymentConfig{
		WebhookSecret: v.GetString("PAYMENT_WEBHOOK_SECRET"),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:   v.GetBool("SWEEP_ENABLED"),
		Interval:  parseDuration(v.GetString("SWEEP_INTERVAL"), time.Minute),
		BatchSize: v.GetInt("SWEEP_BATCH_SIZE"),
	}

	cfg.Generator = GeneratorConfig{
		DaysAhead:     v.GetInt("GENERATOR_DAYS_AHEAD"),
		BulkDaysAhead: v.GetInt("GENERATOR_BULK_DAYS_AHEAD"),
		Workers:       v.GetInt("GENERATOR_WORKERS"),
		Retries:       v.GetInt("GENERATOR_RETRIES"),
		BulkInterval:  parseDuration(v.GetString("GENERATOR_BULK_INTERVAL"), 24*time.Hour),
	}

	cfg.SlotCache = SlotCacheConfig{
		Enabled: v.GetBool("SLOT_CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("SLOT_CACHE_TTL"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "discova_booking")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "discova-booking")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BOOKING_HOLD_TTL", "30m")
	v.SetDefault("BOOKING_LOCK_TIMEOUT", "3s")
	v.SetDefault("BOOKING_LOCK_RETRIES", 3)
	v.SetDefault("BOOKING_HOLD_EXTEND_BY", "15m")

	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "dev_webhook_secret")

	v.SetDefault("SWEEP_ENABLED", true)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH_SIZE", 200)

	v.SetDefault("GENERATOR_DAYS_AHEAD", 30)
	v.SetDefault("GENERATOR_BULK_DAYS_AHEAD", 90)
	v.SetDefault("GENERATOR_WORKERS", 2)
	v.SetDefault("GENERATOR_RETRIES", 3)
	v.SetDefault("GENERATOR_BULK_INTERVAL", "24h")

	v.SetDefault("SLOT_CACHE_ENABLED", true)
	v.SetDefault("SLOT_CACHE_TTL", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

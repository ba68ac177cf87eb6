package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisEventsDB int    `mapstructure:"REDIS_EVENTS_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Payment provider.
	StripeKey string `mapstructure:"STRIPE_KEY"`

	// AI pricing oracle.
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`

	// Booking lifecycle knobs.
	HoldTTLMinutes         int `mapstructure:"HOLD_TTL_MINUTES"`
	ConfirmationTTLMinutes int `mapstructure:"CONFIRMATION_TTL_MINUTES"`
	QuoteTTLMinutes        int `mapstructure:"QUOTE_TTL_MINUTES"`
	SweepIntervalSeconds   int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	HoldRetryAttempts      int `mapstructure:"HOLD_RETRY_ATTEMPTS"`
	PaymentRetryAttempts   int `mapstructure:"PAYMENT_RETRY_ATTEMPTS"`
	UpstreamTimeoutSeconds int `mapstructure:"UPSTREAM_TIMEOUT_SECONDS"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_EVENTS_DB", 1)
	viper.SetDefault("REDIS_QUEUE_DB", 2)
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("STRIPE_KEY", "")
	viper.SetDefault("GEMINI_API_KEY", "")
	viper.SetDefault("HOLD_TTL_MINUTES", 15)
	viper.SetDefault("CONFIRMATION_TTL_MINUTES", 30)
	viper.SetDefault("QUOTE_TTL_MINUTES", 10)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 30)
	viper.SetDefault("HOLD_RETRY_ATTEMPTS", 3)
	viper.SetDefault("PAYMENT_RETRY_ATTEMPTS", 3)
	viper.SetDefault("UPSTREAM_TIMEOUT_SECONDS", 5)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// HoldTTL returns the soft-reservation lifetime.
func HoldTTL() time.Duration {
	return time.Duration(AppConfig.HoldTTLMinutes) * time.Minute
}

// ConfirmationTTL returns how long a pending booking waits for payment.
func ConfirmationTTL() time.Duration {
	return time.Duration(AppConfig.ConfirmationTTLMinutes) * time.Minute
}

// QuoteTTL returns the validity window of a price quote.
func QuoteTTL() time.Duration {
	return time.Duration(AppConfig.QuoteTTLMinutes) * time.Minute
}

// UpstreamTimeout bounds a single outbound call to a peer service or provider.
func UpstreamTimeout() time.Duration {
	return time.Duration(AppConfig.UpstreamTimeoutSeconds) * time.Second
}

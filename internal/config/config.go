package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AdminKey      string        `mapstructure:"admin_key"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

type BillingConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	CommittedTTL   time.Duration `mapstructure:"committed_ttl"`
}

type PricingConfig struct {
	FeedURL     string        `mapstructure:"feed_url"`
	FeedTimeout time.Duration `mapstructure:"feed_timeout"`
}

type ExchangeConfig struct {
	FeedURL         string        `mapstructure:"feed_url"`
	FeedTimeout     time.Duration `mapstructure:"feed_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
}

type MonitoringConfig struct {
	ErrorRateThreshold  float64       `mapstructure:"error_rate_threshold"`
	LowBalanceThreshold float64       `mapstructure:"low_balance_threshold"`
	HighUsageThreshold  int64         `mapstructure:"high_usage_threshold"`
	ReservationTTLFloor time.Duration `mapstructure:"reservation_ttl_floor"`
	AlertCooldown       time.Duration `mapstructure:"alert_cooldown"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/bllm")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults. 50052 is the historical billing core port; the
	// metrics listener reuses the old monitoring service port.
	viper.SetDefault("server.port", 50052)
	viper.SetDefault("server.metrics_port", 50055)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")

	// Redis defaults
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 100)

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "default-super-secret-key-2025")
	viper.SetDefault("auth.admin_key", "default-admin-key-2025")
	viper.SetDefault("auth.token_duration", "24h")

	// Billing defaults
	viper.SetDefault("billing.reservation_ttl", "600s")
	viper.SetDefault("billing.committed_ttl", "86400s")

	// Pricing feed defaults
	viper.SetDefault("pricing.feed_timeout", "10s")

	// Exchange feed defaults
	viper.SetDefault("exchange.feed_url", "https://api.exchangerate-api.com/v4/latest/USD")
	viper.SetDefault("exchange.feed_timeout", "10s")
	viper.SetDefault("exchange.refresh_interval", "1h")
	viper.SetDefault("exchange.retry_interval", "60s")

	// Monitoring defaults
	viper.SetDefault("monitoring.error_rate_threshold", 0.05)
	viper.SetDefault("monitoring.low_balance_threshold", 10.0)
	viper.SetDefault("monitoring.high_usage_threshold", 1000000)
	viper.SetDefault("monitoring.reservation_ttl_floor", "300s")
	viper.SetDefault("monitoring.alert_cooldown", "3600s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	// CORS defaults
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"})
	viper.SetDefault("cors.allow_credentials", false)
	viper.SetDefault("cors.max_age", 300)
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.metrics_port", "METRICS_PORT")

	// Redis
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	// Auth: JWT_SECRET and ADMIN_KEY are the names the deployment already
	// exports, so they stay unprefixed.
	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("auth.admin_key", "ADMIN_KEY")

	// Billing
	viper.BindEnv("billing.reservation_ttl", "RESERVATION_TTL")
	viper.BindEnv("billing.committed_ttl", "COMMITTED_TTL")

	// Feeds
	viper.BindEnv("pricing.feed_url", "PRICING_FEED_URL")
	viper.BindEnv("exchange.feed_url", "EXCHANGE_API_URL")

	// Logging
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	MTN          MTNConfig
	TelcoGateway TelcoGatewayConfig
	Orchestrator OrchestratorConfig
	Poller       PollerConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Enabled selects the redis session lock; when false the service falls
	// back to the in-process lock (single instance only).
	Enabled bool
}

type AuthConfig struct {
	JWTSecret string
}

type MTNConfig struct {
	Environment     string
	BaseURL         string
	SubscriptionKey string
	APIUser         string
	APIKey          string
	CallbackHost    string
}

type TelcoGatewayConfig struct {
	BaseURL string
	APIKey  string
}

type OrchestratorConfig struct {
	MaxInitiateAttempts int
	MaxVerifyAttempts   int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	InitiateTimeout     time.Duration
	StatusTimeout       time.Duration
	PendingExpiry       time.Duration
}

type PollerConfig struct {
	Interval time.Duration
	Grace    time.Duration
	LockTTL  time.Duration
}

func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8030"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ucsp_payments"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		MTN: MTNConfig{
			Environment:     getEnv("MTN_MOMO_ENVIRONMENT", "sandbox"),
			BaseURL:         getEnv("MTN_MOMO_BASE_URL", ""),
			SubscriptionKey: getEnv("MTN_MOMO_SUBSCRIPTION_KEY", ""),
			APIUser:         getEnv("MTN_MOMO_API_USER", ""),
			APIKey:          getEnv("MTN_MOMO_API_KEY", ""),
			CallbackHost:    getEnv("MTN_MOMO_CALLBACK_HOST", ""),
		},
		TelcoGateway: TelcoGatewayConfig{
			BaseURL: getEnv("TELCO_GATEWAY_BASE_URL", "http://localhost:8031"),
			APIKey:  getEnv("TELCO_GATEWAY_API_KEY", ""),
		},
		Orchestrator: OrchestratorConfig{
			MaxInitiateAttempts: getEnvInt("PAYMENT_MAX_INITIATE_ATTEMPTS", 3),
			MaxVerifyAttempts:   getEnvInt("PAYMENT_MAX_VERIFY_ATTEMPTS", 5),
			BackoffBase:         getEnvDuration("PAYMENT_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:          getEnvDuration("PAYMENT_BACKOFF_CAP", 30*time.Second),
			InitiateTimeout:     getEnvDuration("PAYMENT_INITIATE_TIMEOUT", 15*time.Second),
			StatusTimeout:       getEnvDuration("PAYMENT_STATUS_TIMEOUT", 10*time.Second),
			PendingExpiry:       getEnvDuration("PAYMENT_PENDING_EXPIRY", 15*time.Minute),
		},
		Poller: PollerConfig{
			Interval: getEnvDuration("POLLER_INTERVAL", 30*time.Second),
			Grace:    getEnvDuration("POLLER_GRACE", time.Minute),
			LockTTL:  getEnvDuration("POLLER_LOCK_TTL", time.Minute),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Server.Env == "production" && cfg.MTN.SubscriptionKey == "" {
		return nil, fmt.Errorf("MTN_MOMO_SUBSCRIPTION_KEY is required in production")
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.Bool("redis_lock", cfg.Redis.Enabled),
		zap.String("mtn_environment", cfg.MTN.Environment))

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

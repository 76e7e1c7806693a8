package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	Environment     string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Store    string
	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Catalog  CatalogConfig
	Kafka    KafkaConfig

	// ReconcileMaxAttempts bounds the Load..Persist reruns on a version conflict.
	ReconcileMaxAttempts int
}

type MongoConfig struct {
	URI    string
	DBName string
}

type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type CatalogConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConcurrency int
}

// KafkaConfig is optional: an empty broker list disables the checkout poller.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.SetDefault("HTTP_PORT", "3002")
	v.SetDefault("GRPC_PORT", "50062")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("CART_STORE", StoreMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "cartdb")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "cartdb")
	v.SetDefault("MIGRATIONS_PATH", "./internal/repository/migrations")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("CATALOG_URL", "http://localhost:3001")
	v.SetDefault("CATALOG_TIMEOUT", "3s")
	v.SetDefault("CATALOG_MAX_CONCURRENCY", 8)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "checkout-outbox")
	v.SetDefault("KAFKA_GROUP_ID", "cart-service-consumer")
	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 3)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// .env is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		GRPCPort:        v.GetString("GRPC_PORT"),
		Environment:     v.GetString("ENVIRONMENT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Store:           strings.ToLower(strings.TrimSpace(v.GetString("CART_STORE"))),
		Mongo: MongoConfig{
			URI:    v.GetString("MONGO_URI"),
			DBName: v.GetString("MONGO_DB_NAME"),
		},
		Postgres: PostgresConfig{
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetInt("DB_PORT"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			DBName:         v.GetString("DB_NAME"),
			MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Catalog: CatalogConfig{
			BaseURL:        strings.TrimSpace(v.GetString("CATALOG_URL")),
			Timeout:        v.GetDuration("CATALOG_TIMEOUT"),
			MaxConcurrency: v.GetInt("CATALOG_MAX_CONCURRENCY"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		ReconcileMaxAttempts: v.GetInt("RECONCILE_MAX_ATTEMPTS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Store != StoreMongo && c.Store != StorePostgres {
		return fmt.Errorf("CART_STORE must be %q or %q, got %q", StoreMongo, StorePostgres, c.Store)
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("CATALOG_URL is required")
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be positive")
	}
	if c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

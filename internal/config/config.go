package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	ServiceName string
	Env         string
	LogLevel    string

	HTTPAddr string
	GRPCAddr string

	Store               string
	MySQLDSN            string
	MySQLMaxOpenConns   int
	MySQLMaxIdleConns   int
	MySQLConnMaxLifeTTL time.Duration
	AutoMigrate         bool

	// RedisAddr empty means the catalog cache and idempotency keys live in process.
	RedisAddr string

	// KafkaBrokers empty disables order events.
	KafkaBrokers []string
	KafkaTopic   string

	TxTimeout      time.Duration
	TxMaxRetries   int
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		ServiceName:  getenv("SERVICE_NAME", "pawfectshop"),
		Env:          getenv("ENV", "dev"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:     getenv("GRPC_ADDR", ":50051"),
		Store:        strings.ToLower(getenv("STORE", StoreMySQL)),
		MySQLDSN:     getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/pawfectshop?parseTime=true&charset=utf8mb4"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "pawfectshop.order.placed"),
	}

	var err error
	if cfg.MySQLMaxOpenConns, err = getInt("MYSQL_MAX_OPEN_CONNS", 50); err != nil {
		return Config{}, err
	}
	if cfg.MySQLMaxIdleConns, err = getInt("MYSQL_MAX_IDLE_CONNS", 25); err != nil {
		return Config{}, err
	}
	if cfg.MySQLConnMaxLifeTTL, err = getDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.TxTimeout, err = getDuration("TX_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TxMaxRetries, err = getInt("TX_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}

	if cfg.Store != StoreMySQL && cfg.Store != StoreMemory {
		return Config{}, fmt.Errorf("STORE must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.Store)
	}
	if cfg.TxTimeout <= 0 {
		return Config{}, fmt.Errorf("TX_TIMEOUT must be positive, got %s", cfg.TxTimeout)
	}
	if cfg.TxMaxRetries < 0 {
		return Config{}, fmt.Errorf("TX_MAX_RETRIES must not be negative, got %d", cfg.TxMaxRetries)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func getBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

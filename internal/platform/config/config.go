package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Fee settings are fixed at
// construction time; there is no runtime reconfiguration path.
type Server struct {
	Addr          string
	JWTSigningKey string

	// Ledger fee policy. PercentFeeBps is in basis points (10000 = 100%).
	PercentFeeBps int64
	BaseFee       int64
	Treasury      string
	Escrow        string

	PostgresURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	ShutdownTimeout time.Duration
}

// RedisConfig holds connection settings for the profile read cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TTL          time.Duration
}

// KafkaConfig holds the domain-event fan-out settings. Empty brokers disable
// the Kafka sink; events still land in the durable store.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := getenv("GRANTFLOW_ADDR", ":8080")

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	brokers := []string{}
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		PercentFeeBps: getint("LEDGER_PERCENT_FEE_BPS", 0),
		BaseFee:       getint("LEDGER_BASE_FEE", 0),
		Treasury:      os.Getenv("LEDGER_TREASURY"),
		Escrow:        os.Getenv("LEDGER_ESCROW"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     int(getint("REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(getint("REDIS_MIN_IDLE_CONNS", 2)),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			TTL:          5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   getenv("KAFKA_EVENTS_TOPIC", "grantflow.events"),
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

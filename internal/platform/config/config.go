// Package config builds process configuration from environment variables so
// main stays lean. Every knob has a default suitable for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates per-subsystem configuration.
type Config struct {
	Server     Server
	Redis      Redis
	Postgres   Postgres
	Kafka      Kafka
	Webhook    Webhook
	Dispatcher Dispatcher
	GDPR       GDPR
	Provider   Provider
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// JWTSigningKey verifies admin API bearer tokens.
	JWTSigningKey string
	// AdminTokenHash is an optional bcrypt hash of a static admin token,
	// accepted as a fallback when JWT infrastructure is not available.
	AdminTokenHash string
}

// Redis configures the stream broker connection.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres configures the identity store. Empty URL selects memory stores.
type Postgres struct {
	URL string
}

// Kafka configures the notification bus. Empty brokers select the in-process
// recorder (notifications logged, not published).
type Kafka struct {
	Brokers []string
}

// Webhook configures the ingestion gateway.
type Webhook struct {
	Secret       string
	Tolerance    time.Duration
	MaxBodyBytes int64
}

// Dispatcher configures the stream consumer loop.
type Dispatcher struct {
	Stream              string
	DeadLetterStream    string
	Group               string
	Consumer            string
	BatchSize           int
	Block               time.Duration
	MaxDeliveryAttempts int64
	ClaimIdleTime       time.Duration
	ClaimInterval       time.Duration
	AllowedClients      []string
}

// GDPR configures the lifecycle engine.
type GDPR struct {
	GracePeriod     time.Duration
	CorrelationSalt string
	// SweepInterval drives the internal anonymization ticker; zero disables
	// it (an external scheduler calls the admin endpoint instead).
	SweepInterval time.Duration
}

// Provider configures the identity-provider admin API used for role lookup.
type Provider struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "sante"
	}

	return Config{
		Server: Server{
			Addr:           getenv("SANTE_ADDR", ":8080"),
			JWTSigningKey:  getenv("SANTE_JWT_SIGNING_KEY", ""),
			AdminTokenHash: getenv("SANTE_ADMIN_TOKEN_HASH", ""),
		},
		Redis: Redis{
			URL:          getenv("SANTE_REDIS_URL", ""),
			PoolSize:     getint("SANTE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("SANTE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getdur("SANTE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getdur("SANTE_REDIS_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getdur("SANTE_REDIS_WRITE_TIMEOUT", 5*time.Second),
		},
		Postgres: Postgres{
			URL: getenv("SANTE_POSTGRES_URL", ""),
		},
		Kafka: Kafka{
			Brokers: getlist("SANTE_KAFKA_BROKERS"),
		},
		Webhook: Webhook{
			Secret:       getenv("SANTE_WEBHOOK_SECRET", ""),
			Tolerance:    getdur("SANTE_WEBHOOK_TOLERANCE", 300*time.Second),
			MaxBodyBytes: int64(getint("SANTE_WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Dispatcher: Dispatcher{
			Stream:              getenv("SANTE_EVENT_STREAM", "identity:events"),
			DeadLetterStream:    getenv("SANTE_DLQ_STREAM", "identity:events:dlq"),
			Group:               getenv("SANTE_CONSUMER_GROUP", "identity-sync"),
			Consumer:            getenv("SANTE_CONSUMER_NAME", hostname+"-"+strconv.Itoa(os.Getpid())),
			BatchSize:           getint("SANTE_DISPATCH_BATCH_SIZE", 16),
			Block:               getdur("SANTE_DISPATCH_BLOCK", 5*time.Second),
			MaxDeliveryAttempts: int64(getint("SANTE_MAX_DELIVERY_ATTEMPTS", 5)),
			ClaimIdleTime:       getdur("SANTE_CLAIM_IDLE_TIME", 60*time.Second),
			ClaimInterval:       getdur("SANTE_CLAIM_INTERVAL", 30*time.Second),
			AllowedClients:      getlist("SANTE_ALLOWED_CLIENTS"),
		},
		GDPR: GDPR{
			GracePeriod:     getdur("SANTE_GRACE_PERIOD", 7*24*time.Hour),
			CorrelationSalt: getenv("SANTE_CORRELATION_SALT", ""),
			SweepInterval:   getdur("SANTE_ANONYMIZE_SWEEP_INTERVAL", 0),
		},
		Provider: Provider{
			BaseURL:      getenv("SANTE_PROVIDER_BASE_URL", ""),
			ServiceToken: getenv("SANTE_PROVIDER_SERVICE_TOKEN", ""),
			Timeout:      getdur("SANTE_PROVIDER_TIMEOUT", 10*time.Second),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

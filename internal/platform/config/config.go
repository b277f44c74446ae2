package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything main needs to wire the service. All fields come
// from environment variables so deployment stays twelve-factor.
type Config struct {
	Addr string

	// DatabaseURL selects the Postgres contact store when set; the in-memory
	// store is used otherwise (dev and test only).
	DatabaseURL string

	// RedisURL selects the Redis-backed identity key locker when set. Leave
	// empty for single-instance deployments; the in-process locker is enough.
	RedisURL string

	// KafkaBrokers and AuditTopic enable the Kafka audit publisher.
	KafkaBrokers []string
	AuditTopic   string

	// JWTSigningKey enables bearer auth on /identify when non-empty.
	JWTSigningKey string

	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("CONFLUX_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("CONFLUX_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	topic := os.Getenv("CONFLUX_AUDIT_TOPIC")
	if topic == "" {
		topic = "conflux.identity.events"
	}

	shutdown := 10 * time.Second
	if raw := os.Getenv("CONFLUX_SHUTDOWN_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			shutdown = d
		}
	}

	return Config{
		Addr:            addr,
		DatabaseURL:     os.Getenv("CONFLUX_DATABASE_URL"),
		RedisURL:        os.Getenv("CONFLUX_REDIS_URL"),
		KafkaBrokers:    brokers,
		AuditTopic:      topic,
		JWTSigningKey:   os.Getenv("CONFLUX_JWT_SIGNING_KEY"),
		ShutdownTimeout: shutdown,
	}
}

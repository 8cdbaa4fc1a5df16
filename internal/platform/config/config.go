package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName   string
	HTTPPort      string
	PostgresDSN   string
	KafkaBrokers  []string
	TemplatesPath string

	IdempotencyTTL      time.Duration
	OutboxRelayInterval time.Duration
	OutboxBatchSize     int
	ClosingSoonInterval time.Duration
	ClosingSoonWindow   time.Duration
	EventDedupTTL       time.Duration

	EnableOutboxRelay          bool
	EnableClosingSoonScanner   bool
	EnableNotificationConsumer bool
}

func Load() (Config, error) {
	// Missing .env is fine; container environments inject vars directly.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "quorum"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}

	return Config{
		ServiceName:   service,
		HTTPPort:      port,
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		KafkaBrokers:  brokers,
		TemplatesPath: os.Getenv("POLL_TEMPLATES_PATH"),

		IdempotencyTTL:      envDuration("IDEMPOTENCY_TTL", 7*24*time.Hour),
		OutboxRelayInterval: envDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
		OutboxBatchSize:     envInt("OUTBOX_BATCH_SIZE", 100),
		ClosingSoonInterval: envDuration("CLOSING_SOON_INTERVAL", 15*time.Minute),
		ClosingSoonWindow:   envDuration("CLOSING_SOON_WINDOW", 24*time.Hour),
		EventDedupTTL:       envDuration("EVENT_DEDUP_TTL", 24*time.Hour),

		EnableOutboxRelay:          envBool("ENABLE_OUTBOX_RELAY", true),
		EnableClosingSoonScanner:   envBool("ENABLE_CLOSING_SOON_SCANNER", true),
		EnableNotificationConsumer: envBool("ENABLE_NOTIFICATION_CONSUMER", true),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

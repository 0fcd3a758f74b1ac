package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr     string
	LogLevel string

	// AdminJWTSigningKey signs/validates admin API bearer tokens.
	AdminJWTSigningKey string

	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig

	// EventRegistryPath points at the YAML file declaring the closed
	// vocabulary of badging event types and their payload keypaths.
	EventRegistryPath string

	Credly     CredlyConfig
	Accredible AccredibleConfig
}

// RedisConfig configures the optional event dedup cache.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DedupTTL     time.Duration
}

// KafkaConfig configures the inbound event consumer.
type KafkaConfig struct {
	Brokers []string
	Group   string
	Topics  []string
}

// CredlyConfig configures the external Credly issuer.
type CredlyConfig struct {
	APIBaseURL     string
	OrganizationID string
	APIKey         string
	WebhookSecret  string
}

// AccredibleConfig configures the external Accredible issuer.
type AccredibleConfig struct {
	APIBaseURL string
	APIKey     string
	GroupID    string
}

// FromEnv builds the Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:               envOr("INSIGNIA_ADDR", ":8080"),
		LogLevel:           envOr("INSIGNIA_LOG_LEVEL", "info"),
		AdminJWTSigningKey: envOr("INSIGNIA_ADMIN_JWT_KEY", "dev-secret-key-change-in-production"),
		DatabaseURL:        os.Getenv("INSIGNIA_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("INSIGNIA_REDIS_URL"),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DedupTTL:     24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(envOr("INSIGNIA_KAFKA_BROKERS", "localhost:9092")),
			Group:   envOr("INSIGNIA_KAFKA_GROUP", "insignia-badges"),
			Topics:  splitList(os.Getenv("INSIGNIA_KAFKA_TOPICS")),
		},
		EventRegistryPath: envOr("INSIGNIA_EVENT_REGISTRY", "events.yaml"),
		Credly: CredlyConfig{
			APIBaseURL:     envOr("INSIGNIA_CREDLY_API_URL", "https://api.credly.com/v1"),
			OrganizationID: os.Getenv("INSIGNIA_CREDLY_ORG_ID"),
			APIKey:         os.Getenv("INSIGNIA_CREDLY_API_KEY"),
			WebhookSecret:  os.Getenv("INSIGNIA_CREDLY_WEBHOOK_SECRET"),
		},
		Accredible: AccredibleConfig{
			APIBaseURL: envOr("INSIGNIA_ACCREDIBLE_API_URL", "https://api.accredible.com/v1"),
			APIKey:     os.Getenv("INSIGNIA_ACCREDIBLE_API_KEY"),
			GroupID:    os.Getenv("INSIGNIA_ACCREDIBLE_GROUP_ID"),
		},
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

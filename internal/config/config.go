package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once from the environment at startup.
type Config struct {
	ServiceName     string
	Env             string
	LogLevel        string
	HTTPAddr        string
	StoreDriver     string
	DatabaseDSN     string
	ViewStore       string
	Publisher       string
	Subscriber      string
	RedisAddr       string
	KafkaBrokers    []string
	KafkaGroupID    string
	NotifyAddress   string
	ShutdownTimeout time.Duration

	TraceExporter    string
	TraceEndpoint    string
	TraceInsecure    bool
	TraceSampleRatio float64
}

// Load reads the environment, applies defaults and validates combinations.
func Load() (Config, error) {
	cfg := Config{
		ServiceName:   getenvDefault("SERVICE_NAME", "minishop-allocation"),
		Env:           getenvDefault("ENV", "dev"),
		LogLevel:      getenvDefault("LOG_LEVEL", "info"),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		StoreDriver:   strings.ToLower(getenvDefault("STORE_DRIVER", "memory")),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		ViewStore:     strings.ToLower(getenvDefault("VIEW_STORE", "memory")),
		Publisher:     strings.ToLower(getenvDefault("PUBLISHER", "log")),
		Subscriber:    strings.ToLower(getenvDefault("SUBSCRIBER", "none")),
		RedisAddr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
		KafkaGroupID:  getenvDefault("KAFKA_GROUP_ID", "allocation"),
		NotifyAddress: getenvDefault("NOTIFY_ADDRESS", "stock@example.com"),
		TraceExporter: strings.ToLower(getenvDefault("TRACE_EXPORTER", "none")),
		TraceEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	timeout, err := time.ParseDuration(getenvDefault("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("config: SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout = timeout

	ratio, err := strconv.ParseFloat(getenvDefault("TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return Config{}, fmt.Errorf("config: TRACE_SAMPLE_RATIO must be within [0, 1]")
	}
	cfg.TraceSampleRatio = ratio

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "memory":
	case "mysql", "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("config: DATABASE_DSN is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.ViewStore {
	case "memory", "redis":
	case "sql":
		if c.StoreDriver == "memory" {
			return fmt.Errorf("config: VIEW_STORE=sql needs a SQL STORE_DRIVER")
		}
	default:
		return fmt.Errorf("config: unknown VIEW_STORE %q", c.ViewStore)
	}
	switch c.Publisher {
	case "log", "redis":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("config: KAFKA_BROKERS is required for PUBLISHER=kafka")
		}
	default:
		return fmt.Errorf("config: unknown PUBLISHER %q", c.Publisher)
	}
	switch c.Subscriber {
	case "none", "redis":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("config: KAFKA_BROKERS is required for SUBSCRIBER=kafka")
		}
	default:
		return fmt.Errorf("config: unknown SUBSCRIBER %q", c.Subscriber)
	}
	switch c.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if c.TraceEndpoint == "" {
			return fmt.Errorf("config: OTEL_EXPORTER_OTLP_ENDPOINT is required for TRACE_EXPORTER=otlp")
		}
	default:
		return fmt.Errorf("config: unknown TRACE_EXPORTER %q", c.TraceExporter)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.ViewStore == "redis" || c.Publisher == "redis" || c.Subscriber == "redis"
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

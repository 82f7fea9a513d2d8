// Package config assembles process-level configuration from the
// environment so main stays lean. Abuse policy numbers live in the
// engine's own config package; this one only covers the runtime: listen
// address, storage, alerting and shutdown behavior.
package config

import (
	"os"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	PolicyFile      string
	AlertWebhookURL string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Redis           RedisConfig
}

// RedisConfig tunes the shared Redis connection pool. An empty URL means
// the engine runs on in-memory stores.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:            envOr("VIGIL_ADDR", ":8080"),
		Environment:     envOr("VIGIL_ENV", "development"),
		PolicyFile:      os.Getenv("VIGIL_POLICY_FILE"),
		AlertWebhookURL: os.Getenv("VIGIL_ALERT_WEBHOOK_URL"),
		RequestTimeout:  durationOr("VIGIL_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: durationOr("VIGIL_SHUTDOWN_TIMEOUT", 10*time.Second),
		Redis: RedisConfig{
			URL:          os.Getenv("VIGIL_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  durationOr("VIGIL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationOr("VIGIL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationOr("VIGIL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

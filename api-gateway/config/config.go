package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// NATS configuration
	NatsURL  string
	NatsUser string
	NatsPass string

	// How long the gateway waits on a backend request before answering 502.
	RequestTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		NatsURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		NatsUser:       getEnv("NATS_USER", "api-gateway"),
		NatsPass:       getEnv("NATS_PASS", "api-gateway-secret"),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MS", 3000)) * time.Millisecond,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

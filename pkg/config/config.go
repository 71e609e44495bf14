// Package config loads engine configuration from the environment and
// from deployment profiles. Environment variables cover the runtime
// knobs (stores, logging, telemetry, friction); YAML profiles carry the
// reviewed policy surface: witness gates, quorum handling, fork-type
// policies, and admission rules.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds engine runtime configuration.
type Config struct {
	LogLevel     string  // KEEL_LOG_LEVEL
	DatabaseURL  string  // KEEL_DATABASE_URL: SQL ledger store DSN; empty selects the in-memory store
	LedgerPath   string  // KEEL_LEDGER_PATH: JSONL file store path
	RedisAddr    string  // KEEL_REDIS_ADDR: exposure window backend; empty keeps it in process
	OTLPEndpoint string  // KEEL_OTLP_ENDPOINT
	ProfilesDir  string  // KEEL_PROFILES_DIR
	Profile      string  // KEEL_PROFILE: active profile code
	SubmitRate   float64 // KEEL_SUBMIT_RATE: limiter tokens per second per DID
	SubmitBurst  int     // KEEL_SUBMIT_BURST
}

// Load reads configuration from environment variables, first loading an
// optional .env file. Unset variables fall back to development
// defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LogLevel:     getenv("KEEL_LOG_LEVEL", "INFO"),
		DatabaseURL:  getenv("KEEL_DATABASE_URL", ""),
		LedgerPath:   getenv("KEEL_LEDGER_PATH", "keel-ledger.jsonl"),
		RedisAddr:    getenv("KEEL_REDIS_ADDR", ""),
		OTLPEndpoint: getenv("KEEL_OTLP_ENDPOINT", "localhost:4317"),
		ProfilesDir:  getenv("KEEL_PROFILES_DIR", "profiles"),
		Profile:      getenv("KEEL_PROFILE", "default"),
		SubmitRate:   getfloat("KEEL_SUBMIT_RATE", 1.0),
		SubmitBurst:  getint("KEEL_SUBMIT_BURST", 5),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

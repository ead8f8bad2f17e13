// Package config loads derivscript's runtime configuration from environment
// variables, with an optional .env file loaded first (values already set in
// the environment always win).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings for the pricing service and CLI.
type Config struct {
	Port         int
	DevMode      bool
	LogLevel     string
	DataDir      string // sqlite run-history location
	Workers      int    // goroutine pool size for the Monte Carlo batch
	DefaultPaths int    // default scenario count when a request omits one
	DefaultSeed  uint64 // base RNG seed
	FuzzyEpsilon float64
	EpsGuard     float64
	S3Bucket     string
	S3Region     string
	S3AccessKey  string
	S3SecretKey  string

	ArchiveRetentionDays int // 0 disables rotation entirely
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("DERIVSCRIPT_PORT", 8080),
		DevMode:      getEnvAsBool("DERIVSCRIPT_DEV_MODE", false),
		LogLevel:     getEnv("DERIVSCRIPT_LOG_LEVEL", "info"),
		DataDir:      getEnv("DERIVSCRIPT_DATA_DIR", "./data"),
		Workers:      getEnvAsInt("DERIVSCRIPT_WORKERS", runtime.NumCPU()),
		DefaultPaths: getEnvAsInt("DERIVSCRIPT_DEFAULT_PATHS", 10000),
		DefaultSeed:  uint64(getEnvAsInt("DERIVSCRIPT_DEFAULT_SEED", 42)),
		FuzzyEpsilon: getEnvAsFloat("DERIVSCRIPT_FUZZY_EPSILON", 1e-4),
		EpsGuard:     getEnvAsFloat("DERIVSCRIPT_EPS_GUARD", 1e-6),
		S3Bucket:     getEnv("DERIVSCRIPT_S3_BUCKET", ""),
		S3Region:     getEnv("DERIVSCRIPT_S3_REGION", "us-east-1"),
		S3AccessKey:  getEnv("DERIVSCRIPT_S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("DERIVSCRIPT_S3_SECRET_KEY", ""),

		ArchiveRetentionDays: getEnvAsInt("DERIVSCRIPT_ARCHIVE_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.DefaultPaths <= 0 {
		return fmt.Errorf("default path count must be positive, got %d", c.DefaultPaths)
	}
	if c.FuzzyEpsilon <= 0 {
		return fmt.Errorf("fuzzy epsilon must be positive, got %f", c.FuzzyEpsilon)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
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

func getEnvAsFloat(key string, fallback float64) float64 {
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

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

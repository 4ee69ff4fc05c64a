// Package config loads WARK's environment-variable configuration, plus an
// optional on-disk YAML override for the cost table.
package config

import (
	"os"
	"strconv"
)

// Config holds HTTP service configuration.
type Config struct {
	Port            string
	LogLevel        string
	DatabaseURL     string
	CostTableFile   string
	CacheDir        string
	JudgeConcurrent int
	TelemetryOn     bool
	OTLPEndpoint    string
}

// Load reads configuration from environment variables, applying the same
// defaulting style as the rest of this codebase's env-driven config.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "33000"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	cacheDir := os.Getenv("WARK_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "http-cache"
	}

	judgeConcurrent := 8
	if v := os.Getenv("WARK_JUDGE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			judgeConcurrent = n
		}
	}

	telemetryOn := false
	if v := os.Getenv("WARK_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			telemetryOn = b
		}
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CostTableFile:   os.Getenv("WARK_COST_TABLE_FILE"),
		CacheDir:        cacheDir,
		JudgeConcurrent: judgeConcurrent,
		TelemetryOn:     telemetryOn,
		OTLPEndpoint:    os.Getenv("WARK_OTLP_ENDPOINT"),
	}
}

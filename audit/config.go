package audit

import (
	"os"
	"strconv"
)

// Config represents the audit service configuration
type Config struct {
	// Dedup cache bounds
	DedupCacheSize  int `json:"dedup_cache_size"`
	DedupCacheEvict int `json:"dedup_cache_evict"`

	// Query limits
	DefaultQueryLimit int `json:"default_query_limit"`
	MaxQueryLimit     int `json:"max_query_limit"`

	// Batch write bound
	MaxBatchSize int `json:"max_batch_size"`

	// Cleanup bounds (days)
	MinCleanupDays int `json:"min_cleanup_days"`
	MaxCleanupDays int `json:"max_cleanup_days"`

	// Service identity
	ServiceName string `json:"service_name"`
	HTTPPort    int    `json:"http_port"`
}

// DefaultConfig returns default audit configuration
func DefaultConfig() *Config {
	return &Config{
		DedupCacheSize:    10000,
		DedupCacheEvict:   5000,
		DefaultQueryLimit: 100,
		MaxQueryLimit:     1000,
		MaxBatchSize:      100,
		MinCleanupDays:    30,
		MaxCleanupDays:    2555,
		ServiceName:       "audit-service",
		HTTPPort:          8082,
	}
}

// LoadConfig builds the configuration from the environment on top of
// the defaults.
func LoadConfig() *Config {
	config := DefaultConfig()

	if v := envInt("DEDUP_CACHE_SIZE"); v > 0 {
		config.DedupCacheSize = v
	}
	if v := envInt("DEDUP_CACHE_EVICT"); v > 0 {
		config.DedupCacheEvict = v
	}
	if v := envInt("HTTP_PORT"); v > 0 {
		config.HTTPPort = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		config.ServiceName = v
	}

	return config
}

func envInt(key string) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return value
}

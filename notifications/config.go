package notifications

import (
	"os"
	"strconv"
	"time"
)

// Config represents the notification service configuration
type Config struct {
	// Scheduler
	SchedulerInterval time.Duration `json:"scheduler_interval"`
	DeliveryWorkers   int           `json:"delivery_workers"`
	QueueSize         int           `json:"queue_size"`

	// Retry policy
	DefaultMaxRetries int           `json:"default_max_retries"`
	BackoffBase       time.Duration `json:"backoff_base"`
	BackoffCap        time.Duration `json:"backoff_cap"`

	// Provider calls
	ProviderTimeout time.Duration `json:"provider_timeout"`

	// Batch admission
	BatchMaxRecipients int `json:"batch_max_recipients"`

	// Whether the local in-app adapter marks rows delivered
	// immediately, or leaves them at sent.
	InAppMarkDelivered bool `json:"in_app_mark_delivered"`

	// Shutdown
	DrainTimeout time.Duration `json:"drain_timeout"`

	// Service identity
	ServiceName string `json:"service_name"`
	HTTPPort    int    `json:"http_port"`
}

// DefaultConfig returns default notification configuration
func DefaultConfig() *Config {
	return &Config{
		SchedulerInterval:  30 * time.Second,
		DeliveryWorkers:    8,
		QueueSize:          256,
		DefaultMaxRetries:  3,
		BackoffBase:        30 * time.Second,
		BackoffCap:         time.Hour,
		ProviderTimeout:    30 * time.Second,
		BatchMaxRecipients: 1000,
		InAppMarkDelivered: true,
		DrainTimeout:       15 * time.Second,
		ServiceName:        "notification-service",
		HTTPPort:           8081,
	}
}

// LoadConfig builds the configuration from the environment on top of
// the defaults.
func LoadConfig() *Config {
	config := DefaultConfig()

	if v := envInt("SCHEDULER_INTERVAL_SECONDS"); v > 0 {
		config.SchedulerInterval = time.Duration(v) * time.Second
	}
	if v := envInt("DELIVERY_WORKERS"); v > 0 {
		config.DeliveryWorkers = v
	}
	if v := envInt("DELIVERY_QUEUE_SIZE"); v > 0 {
		config.QueueSize = v
	}
	if v := envInt("MAX_RETRIES"); v > 0 {
		config.DefaultMaxRetries = v
	}
	if v := envInt("BACKOFF_BASE_SECONDS"); v > 0 {
		config.BackoffBase = time.Duration(v) * time.Second
	}
	if v := envInt("BACKOFF_CAP_SECONDS"); v > 0 {
		config.BackoffCap = time.Duration(v) * time.Second
	}
	if v := envInt("PROVIDER_TIMEOUT_SECONDS"); v > 0 {
		config.ProviderTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("BATCH_MAX_RECIPIENTS"); v > 0 {
		config.BatchMaxRecipients = v
	}
	if v := os.Getenv("IN_APP_MARK_DELIVERED"); v != "" {
		config.InAppMarkDelivered = v != "false"
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

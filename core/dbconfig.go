package core

import (
	"log/slog"
	"os"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type DatabaseConfig struct {
	DSN         string
	Environment string
}

var DB *gorm.DB

// GetDatabaseConfig returns database configuration based on environment
func GetDatabaseConfig() DatabaseConfig {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	var dsn string
	switch env {
	case "test":
		dsn = os.Getenv("TEST_DB_URL")
		if dsn == "" {
			slog.Error("TEST_DB_URL environment variable not set")
		}
	default:
		dsn = os.Getenv("DB_URL")
		if dsn == "" {
			slog.Error("DB_URL environment variable not set")
		}
	}

	return DatabaseConfig{
		DSN:         dsn,
		Environment: env,
	}
}

// ConnectDB connects to the database using the appropriate configuration
func ConnectDB() {
	config := GetDatabaseConfig()

	var err error
	DB, err = gorm.Open(postgres.Open(config.DSN), &gorm.Config{})

	if err != nil {
		msg := "Failed to connect to DB: " + err.Error()
		slog.Error(msg)
		return
	}

	if config.Environment != "test" {
		log := NewLogger()
		log.Info("Connected to database ...", zap.String("environment", config.Environment))
	}
}

// ConnectTestDB connects to the test database specifically
func ConnectTestDB() {
	originalEnv := os.Getenv("APP_ENV")
	os.Setenv("APP_ENV", "test")

	ConnectDB()

	if originalEnv == "" {
		os.Unsetenv("APP_ENV")
	} else {
		os.Setenv("APP_ENV", originalEnv)
	}
}

// GetDB returns the current database instance
func GetDB() *gorm.DB {
	return DB
}

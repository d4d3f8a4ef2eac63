package main

import (
	"go.uber.org/zap"

	"relay/core"
	"relay/database"
)

func main() {
	core.LoadEnvs()
	logger := core.NewLogger()
	defer logger.Sync()

	core.ConnectDB()
	if core.GetDB() == nil {
		logger.Fatal("database connection unavailable")
	}

	if err := database.AutoMigrateAll(); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migration completed",
		zap.Int("models", len(database.GetAllModels())),
	)
}

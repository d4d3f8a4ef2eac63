package database

import (
	"relay/audit"
	"relay/core"
	"relay/notifications"
)

// AutoMigrateAll runs GORM AutoMigrate for all models
func AutoMigrateAll() error {
	return core.DB.AutoMigrate(GetAllModels()...)
}

// GetAllModels returns every persisted model across both services
func GetAllModels() []interface{} {
	var models []interface{}
	models = append(models, notifications.GetModels()...)
	models = append(models, audit.GetModels()...)
	return models
}

package db

import (
	"fmt"

	"github.com/nexguard/nexbot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the GORM models managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&models.Document{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

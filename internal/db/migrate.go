package db

import (
	"fmt"

	"github.com/lexiflow/lexiflow-server/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the server needs.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.UsageRecord{},
		&models.PaymentHistory{},
		&models.Setting{},
	)
}

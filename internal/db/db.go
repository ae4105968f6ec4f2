package db

import (
	"fmt"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/relay-bot/internal/models"
)

// Connect opens the store for the configured driver (mysql or sqlite).
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "mysql":
		dial = mysql.Open(dsn)
	case "sqlite":
		dial = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return gdb, nil
}

// Migrate creates or updates all tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

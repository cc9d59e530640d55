package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"factor-backtest-go/internal/config"
	"factor-backtest-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the SQLite database and migrates the schema.
func NewDatabase(cfg *config.Database) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.DSN); !isMemoryDSN(cfg.DSN) && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if isMemoryDSN(cfg.DSN) {
		// every new connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables. Stored bars are never dropped.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.DailyBar{},
		&models.BacktestRun{},
		&models.Trade{},
		&models.Snapshot{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

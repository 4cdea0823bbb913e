package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"marketsync/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database, verifies it answers and migrates the
// schema. Any failure here is fatal for the process.
func InitDB(cfg Database, log *zap.Logger) (*gorm.DB, error) {
	log.Info("Connecting to database",
		zap.String("driver", cfg.Driver),
		zap.String("dsn", maskDSN(cfg.DSN)),
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := logger.Error
	if cfg.Echo {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// one writer at a time avoids SQLITE_BUSY between the loop and manual runs
		sqlDB.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database connection verified successfully")
	return db, nil
}

// CloseDB closes the connection pool behind db
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// maskDSN hides credentials and most of the host for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return maskHost(dsn)
	}
	return u.Scheme + "://" + maskHost(u.Hostname()) + u.Path
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// MainDB is the durable mirror of the in-memory ledger. It is written after every
// significant transition and read back only at start.
var MainDB *gorm.DB

// MemorySQLitePath is a process-local database shared by every pool connection.
const MemorySQLitePath = "file::memory:?cache=shared"

// Open connects with the configured driver. sqlite is meant for paper trading and
// local runs.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "", DriverPostgres:
		dialector = postgres.Open(config.DatabaseURLMain)
	case DriverSQLite:
		dialector = sqlite.Open(config.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	return db, nil
}

// Migrate creates or updates the tables the bot writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Position{},
		&model.Order{},
		&model.ReconciliationRecord{},
		&model.EventLog{},
		&model.Exception{},
	)
}

// InitMainDB opens MainDB and runs migrations. Call once at startup.
func InitMainDB() error {
	config := GetConfig()
	if !config.EnableDB {
		// Nothing survives a restart; the ledger stays the only authority.
		logrus.Warn("[database] ENABLE_DB=false, using an in-memory sqlite mirror")
		config.Driver = DriverSQLite
		config.SQLitePath = MemorySQLitePath
	}
	db, err := Open(config)
	if err != nil {
		return err
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db
	logrus.WithField("driver", config.Driver).Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}
	logrus.Info("[database] MainDB migrations completed")
	return nil
}

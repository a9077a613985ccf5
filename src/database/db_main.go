package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"betbridge/src/model"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// InitMainDB initializes the main (read/write) database connection and runs
// migrations. Called once at startup so the request path never has to touch
// schema state.
func InitMainDB() error {

	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := MainDB.AutoMigrate(
		&model.Order{},
		&model.Position{},
		&model.WalletPIN{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

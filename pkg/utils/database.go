package utils

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// InitDatabase opens a gorm connection for the configured driver.
// Supported drivers: sqlite (default), mysql, postgres.
func InitDatabase(logWriter io.Writer, driver, dsn string) (*gorm.DB, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}

	newLogger := glogger.New(
		log.New(logWriter, "\r\n", log.LstdFlags),
		glogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  glogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	cfg := &gorm.Config{Logger: newLogger}

	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
}

// MakeMigrates runs AutoMigrate for each model in order.
func MakeMigrates(db *gorm.DB, models []any) error {
	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return err
		}
	}
	return nil
}

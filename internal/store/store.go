package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// Open connects to postgres or sqlite. Unique violations come back as gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
}

// Migrate creates the fixed tables. Reading tables are created per channel on first use.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.Device{},
		&entities.DeviceChannel{},
		&entities.Area{},
		&entities.Plant{},
		&entities.User{},
		&entities.Schedule{},
		&entities.ChannelCatalog{},
	)
}

package store

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const legacyScheduleIndex = "idx_schedule_user_plant_day"

// Open opens (creating if needed) the SQLite database at path and migrates
// the schedule and garden tables.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)

	// Databases created before uniqueness was limited to pending rows carry
	// the old full index.
	if db.Migrator().HasIndex(&scheduleRecord{}, legacyScheduleIndex) {
		if err := db.Migrator().DropIndex(&scheduleRecord{}, legacyScheduleIndex); err != nil {
			return nil, fmt.Errorf("drop %s: %w", legacyScheduleIndex, err)
		}
	}

	if err := db.AutoMigrate(
		&plantRecord{},
		&profileRecord{},
		&membershipRecord{},
		&scheduleRecord{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

// Close releases the database handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

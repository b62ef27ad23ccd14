// Package db provides the SQLite-backed run history database.
package db

import (
	"fmt"

	"github.com/theblitlabs/gologger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Service provides database connectivity for run history.
type Service struct {
	db *gorm.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Service, error) {
	log := gologger.WithComponent("storage.db")

	// SQLite leaves foreign keys off by default; without _fk the
	// OnDelete:CASCADE constraints are never enforced.
	gdb, err := gorm.Open(sqlite.Open(path+"?_fk=1"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	log.Debug().Str("path", path).Msg("History database opened")
	return &Service{db: gdb}, nil
}

// GetDB returns the underlying GORM database connection.
func (s *Service) GetDB() *gorm.DB {
	return s.db
}

// Close closes the database connection.
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs auto-migrations for the given models.
func (s *Service) Migrate(models ...interface{}) error {
	if err := s.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

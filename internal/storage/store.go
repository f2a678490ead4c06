// Package storage persists the trade log, bot configurations and risk events in SQLite.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"alpha_executor/internal/models"
)

var (
	ErrNotFound        = errors.New("storage: record not found")
	ErrVersionConflict = errors.New("storage: concurrent modification")
	// ErrTerminalStatus is returned when a trade record already holds a final status.
	ErrTerminalStatus = errors.New("storage: trade record already final")
)

// Store implements the trade log sink and the bot configuration repository on gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// Open creates the database file if needed, migrates the schema and backfills older rows.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&models.BotConfig{}, &models.TradeRecord{}, &models.RiskEvent{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLite lock contention out of the engine's hot path
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.backfill(); err != nil {
		return nil, err
	}
	return s, nil
}

// backfill fills columns added after rows were first written.
func (s *Store) backfill() error {
	if err := s.db.Model(&models.BotConfig{}).
		Where("sizing IS NULL OR sizing = ''").
		Update("sizing", models.SizingNotional).Error; err != nil {
		return fmt.Errorf("storage: backfill sizing: %w", err)
	}
	if err := s.db.Model(&models.BotConfig{}).
		Where("current_position_side IS NULL OR current_position_side = ''").
		Update("current_position_side", models.SideFlat).Error; err != nil {
		return fmt.Errorf("storage: backfill side: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

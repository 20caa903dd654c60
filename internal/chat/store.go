package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dcrodman/parley/internal/core"
)

// Record is a persisted room message.
type Record struct {
	ID     uint64 `gorm:"primaryKey"`
	Author string `gorm:"not null"`
	Text   string `gorm:"not null"`
	SentAt time.Time
}

func (r *Record) message() Message {
	return Message{From: r.Author, Text: r.Text, SentAt: r.SentAt}
}

// Store keeps the room's message history in a database.
type Store struct {
	db *gorm.DB
}

// OpenStore connects to the database described by cfg and migrates the schema.
func OpenStore(cfg core.DatabaseConfig, debug bool) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Engine {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Filename)
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine %q", cfg.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if cfg.Engine != "postgres" {
		// Every connection to an in-memory sqlite database gets its own database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("error while getting current connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}
	return &Store{db: db}, nil
}

// Append persists m.
func (s *Store) Append(ctx context.Context, m Message) error {
	return s.db.WithContext(ctx).Create(&Record{
		Author: m.From,
		Text:   m.Text,
		SentAt: m.SentAt,
	}).Error
}

// Recent returns up to limit of the latest messages, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var records []Record
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}

	messages := make([]Message, len(records))
	for i := range records {
		messages[len(records)-1-i] = records[i].message()
	}
	return messages, nil
}

func (s *Store) Close() error {
	database, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}

// Package store persists session metadata so operators can inspect past and
// present sessions across restarts. It is a recorder, not a source of truth;
// the live registry never reads from it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tandem-dev/tandem/pkg/apperrors"
	"github.com/tandem-dev/tandem/pkg/session"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database backend.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is the sqlite file path or the postgres connection string.
	DSN string
}

// SessionRecord is the persisted shape of a session snapshot.
type SessionRecord struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	Model          string
	Mode           string
	Status         string
	CreatedAt      time.Time
	LastActivityAt time.Time
	UpdatedAt      time.Time
}

// Store records session snapshots in a relational database.
type Store struct {
	db  *gorm.DB
	log logr.Logger
}

// New opens the configured database and migrates the session table.
func New(cfg Config, log logr.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "tandem.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "open database", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "migrate session table", err)
	}
	return &Store{db: db, log: log.WithName("store")}, nil
}

// Save upserts one session snapshot.
func (s *Store) Save(ctx context.Context, info session.Info) error {
	rec := SessionRecord{
		ID:             info.ID,
		ConversationID: info.ConversationID,
		Model:          info.Model,
		Mode:           string(info.Mode),
		Status:         string(info.Status),
		CreatedAt:      info.CreatedAt,
		LastActivityAt: info.LastActivityAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreFailed, "save session record", err)
	}
	return nil
}

// List returns all recorded sessions, most recently active first.
func (s *Store) List(ctx context.Context) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := s.db.WithContext(ctx).
		Order("last_activity_at desc").
		Find(&recs).Error
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreFailed, "list session records", err)
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

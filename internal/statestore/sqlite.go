package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// stateEntry is the single table backing the SQLite store.
type stateEntry struct {
	Key              string `gorm:"column:key;primaryKey;size:512;not null"`
	Value            []byte `gorm:"column:value;type:blob;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (stateEntry) TableName() string {
	return "state_entries"
}

// SQLiteStore persists workspace state in a local SQLite database.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// SQLiteStoreConfig describes the dependencies for opening a SQLiteStore.
type SQLiteStoreConfig struct {
	Path   string
	Clock  func() time.Time
	Logger *zap.Logger
}

// OpenSQLiteStore opens (or creates) the state database and migrates its schema.
func OpenSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("statestore: path is required")
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&stateEntry{}); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("state store initialized", zap.String("path", cfg.Path))
	}

	return &SQLiteStore{db: db, clock: clock}, nil
}

// NewSQLiteStoreFromDB wraps an already-open gorm handle, migrating the schema.
func NewSQLiteStoreFromDB(db *gorm.DB, clock func() time.Time) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("statestore: database handle is required")
	}
	if err := db.AutoMigrate(&stateEntry{}); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteStore{db: db, clock: clock}, nil
}

// Get returns the stored value for key, reporting whether it exists.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry stateEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	entry := stateEntry{
		Key:              key,
		Value:            value,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
		}).
		Create(&entry).Error
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&stateEntry{}).Error
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("storage: database handle is required")

// DurableRecord is one serialized collection stored in SQLite.
type DurableRecord struct {
	Key              string `gorm:"column:record_key;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DurableRecord) TableName() string {
	return "durable_records"
}

// SQLiteStorage persists values in the durable_records table.
type SQLiteStorage struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStorage wraps an open gorm handle. The schema is expected to be migrated.
func NewSQLiteStorage(db *gorm.DB, clock func() time.Time) (*SQLiteStorage, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteStorage{db: db, clock: clock}, nil
}

// Load reads the record stored under key.
func (s *SQLiteStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	normalized, err := validateKey(key)
	if err != nil {
		return nil, false, err
	}
	var record DurableRecord
	err = s.db.WithContext(ctx).Where("record_key = ?", normalized).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(record.PayloadJSON), true, nil
}

// Save upserts the record stored under key.
func (s *SQLiteStorage) Save(ctx context.Context, key string, payload []byte) error {
	normalized, err := validateKey(key)
	if err != nil {
		return err
	}
	if payload == nil {
		return ErrNilPayload
	}
	record := DurableRecord{
		Key:              normalized,
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
		}).
		Create(&record).Error
}

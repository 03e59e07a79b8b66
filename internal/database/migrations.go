package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/backend"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeAccountEmails = "2026-09-14_normalize_account_emails"
	migrationResetNullCollections   = "2026-09-28_reset_null_collections"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeAccountEmails, apply: normalizeAccountEmails},
		{name: migrationResetNullCollections, apply: resetNullCollections},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func normalizeAccountEmails(db *gorm.DB) error {
	return db.Model(&backend.Account{}).
		Where("user_email <> lower(trim(user_email))").
		Update("user_email", gorm.Expr("lower(trim(user_email))")).Error
}

// resetNullCollections rewrites collections persisted as JSON null into empty arrays.
func resetNullCollections(db *gorm.DB) error {
	return db.Model(&storage.DurableRecord{}).
		Where("record_key IN ? AND payload_json = ?", []string{storage.KeyCart, storage.KeyWishlist, storage.KeyNotifications}, "null").
		Update("payload_json", "[]").Error
}

package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/serandev/seran-sjune/internal/messages"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Named one-shot data migrations, applied in order after AutoMigrate.
const (
	migrationBackfillUnknownIPAddress = "2025-05-01_backfill_unknown_ip_address"
	migrationIndexMessagesNewestFirst = "2025-05-03_index_messages_newest_first"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type dataMigration struct {
	name string
	run  func(tx *gorm.DB) error
}

var dataMigrations = []dataMigration{
	{name: migrationBackfillUnknownIPAddress, run: backfillUnknownIPAddress},
	{name: migrationIndexMessagesNewestFirst, run: indexMessagesNewestFirst},
}

// applyMigrations runs every pending migration in its own transaction together with its record,
// so a failed migration is retried on the next start.
func applyMigrations(db *gorm.DB, now func() time.Time, logger *zap.Logger) error {
	for _, migration := range dataMigrations {
		applied, err := migrationApplied(db, migration.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.run(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("database: migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var record migrationRecord
	err := db.Where("name = ?", name).Take(&record).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Early messages were written without a client address.
func backfillUnknownIPAddress(tx *gorm.DB) error {
	return tx.Model(&messages.Message{}).
		Where("ip_address = '' OR ip_address IS NULL").
		Update("ip_address", messages.UnknownIPAddress).Error
}

// Listing orders by created_at then id, both descending.
func indexMessagesNewestFirst(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS idx_messages_newest_first ON messages (created_at DESC, id DESC)").Error
}

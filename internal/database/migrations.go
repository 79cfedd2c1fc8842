package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRebuildBuffersFTS = "2025-01-01_rebuild_buffers_fts"

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

// applyMigrations runs each named data migration at most once. A migration and
// its ledger row commit together.
func applyMigrations(db *gorm.DB, clock func() time.Time, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}

	migrations := []migrationDefinition{
		{name: migrationRebuildBuffersFTS, apply: rebuildBuffersFTS},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := clock().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// rebuildBuffersFTS repopulates the external-content index from the buffers
// table, covering rows written before the index existed.
func rebuildBuffersFTS(db *gorm.DB) error {
	return db.Exec("INSERT INTO buffers_fts(buffers_fts) VALUES ('rebuild')").Error
}

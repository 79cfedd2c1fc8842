package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRecordsAndSkipsApplied(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := ensureSchema(database, nil, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to create schema: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000000, 0) }
	if err := applyMigrations(database, clock, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRebuildBuffersFTS).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds != 1700000000 {
		testContext.Fatalf("unexpected migration timestamp %d", record.AppliedAtSeconds)
	}

	later := func() time.Time { return time.Unix(1800000000, 0) }
	if err := applyMigrations(database, later, zap.NewNop()); err != nil {
		testContext.Fatalf("second migration run failed: %v", err)
	}
	if err := database.Where("name = ?", migrationRebuildBuffersFTS).Take(&record).Error; err != nil {
		testContext.Fatalf("failed to reload migration record: %v", err)
	}
	if record.AppliedAtSeconds != 1700000000 {
		testContext.Fatalf("expected migration to run once, timestamp changed to %d", record.AppliedAtSeconds)
	}
}

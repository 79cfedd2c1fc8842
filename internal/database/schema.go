package database

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tableBuffers  = "buffers"
	tableSettings = "settings"
)

const createBuffersTable = `
CREATE TABLE IF NOT EXISTS buffers (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    accessed_at INTEGER NOT NULL,
    is_archived INTEGER NOT NULL DEFAULT 0,
    is_pinned INTEGER NOT NULL DEFAULT 0,
    sort_order INTEGER NOT NULL DEFAULT 0
)`

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

const createSidebarIndex = `
CREATE INDEX IF NOT EXISTS idx_buffers_sidebar
ON buffers (is_archived, is_pinned DESC, accessed_at DESC)`

// External content: the index stores tokens only and reads text back from
// buffers by rowid.
const createBuffersFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS buffers_fts USING fts5(
    content,
    content='buffers',
    content_rowid='rowid'
)`

const createInsertTrigger = `
CREATE TRIGGER IF NOT EXISTS buffers_ai AFTER INSERT ON buffers BEGIN
    INSERT INTO buffers_fts(rowid, content) VALUES (new.rowid, new.content);
END`

const createDeleteTrigger = `
CREATE TRIGGER IF NOT EXISTS buffers_ad AFTER DELETE ON buffers BEGIN
    INSERT INTO buffers_fts(buffers_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END`

// Only content changes touch the index; accessed_at/pin/order updates skip it.
const createUpdateTrigger = `
CREATE TRIGGER IF NOT EXISTS buffers_au AFTER UPDATE OF content ON buffers BEGIN
    INSERT INTO buffers_fts(buffers_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO buffers_fts(rowid, content) VALUES (new.rowid, new.content);
END`

// SettingSeed is a default settings row inserted when the key is missing.
type SettingSeed struct {
	Key   string
	Value string
}

type columnDefinition struct {
	table string
	name  string
	ddl   string
}

// Columns introduced after the first release. Migration is additive only:
// nothing is ever dropped or retyped.
var additiveColumns = []columnDefinition{
	{table: tableBuffers, name: "sort_order", ddl: "INTEGER NOT NULL DEFAULT 0"},
}

// EnsureSchema brings the file to the expected shape. It is idempotent and
// runs on every startup against the write handle.
func (m *Manager) EnsureSchema(ctx context.Context, seeds []SettingSeed) error {
	return m.Exclusive(ctx, func(db *gorm.DB) error {
		if err := db.Transaction(func(tx *gorm.DB) error {
			return ensureSchema(tx, seeds, m.logger)
		}); err != nil {
			return err
		}
		return applyMigrations(db, m.clock, m.logger)
	})
}

// PendingMigrations lists additive columns missing from an existing buffers
// table. A fresh database reports nothing.
func (m *Manager) PendingMigrations(ctx context.Context) ([]string, error) {
	var pending []string
	err := m.Exclusive(ctx, func(db *gorm.DB) error {
		if !db.Migrator().HasTable(tableBuffers) {
			return nil
		}
		for _, column := range additiveColumns {
			exists, err := hasColumn(db, column.table, column.name)
			if err != nil {
				return err
			}
			if !exists {
				pending = append(pending, column.table+"."+column.name)
			}
		}
		return nil
	})
	return pending, err
}

func ensureSchema(tx *gorm.DB, seeds []SettingSeed, logger *zap.Logger) error {
	for _, statement := range []string{createBuffersTable, createSettingsTable} {
		if err := tx.Exec(statement).Error; err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}

	for _, column := range additiveColumns {
		if err := addColumn(tx, column); err != nil {
			return err
		}
		logger.Debug("schema column ensured", zap.String("table", column.table), zap.String("column", column.name))
	}

	for _, seed := range seeds {
		if err := tx.Exec("INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)", seed.Key, seed.Value).Error; err != nil {
			return fmt.Errorf("seeding setting %s: %w", seed.Key, err)
		}
	}

	for _, statement := range []string{
		createSidebarIndex,
		createBuffersFTS,
		createInsertTrigger,
		createDeleteTrigger,
		createUpdateTrigger,
	} {
		if err := tx.Exec(statement).Error; err != nil {
			return fmt.Errorf("creating search index: %w", err)
		}
	}
	return nil
}

// addColumn tries the ALTER and swallows the error produced when the column
// already exists.
func addColumn(tx *gorm.DB, column columnDefinition) error {
	exists, err := hasColumn(tx, column.table, column.name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	statement := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", column.table, column.name, column.ddl)
	if err := tx.Exec(statement).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return nil
		}
		return fmt.Errorf("adding column %s.%s: %w", column.table, column.name, err)
	}
	return nil
}

func hasColumn(db *gorm.DB, table, column string) (bool, error) {
	var names []string
	if err := db.Raw("SELECT name FROM pragma_table_info(?)", table).Scan(&names).Error; err != nil {
		return false, fmt.Errorf("inspecting %s columns: %w", table, err)
	}
	for _, name := range names {
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, nil
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResolvesPathsFromDataDir(t *testing.T) {
	dataDir := t.TempDir()
	configViper := NewViper()
	configViper.Set("data.dir", dataDir)

	cfg, err := Load(configViper)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dataDir, "flashnotes.db"), cfg.DatabasePath)
	assert.Equal(t, filepath.Join(dataDir, "backups"), cfg.BackupDir)
	assert.Equal(t, 4, cfg.Readers)
	assert.Equal(t, 5*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval)
	assert.Equal(t, 7, cfg.BackupRetain)
	assert.True(t, cfg.BackupEnabled)
}

func TestLoadBackupDirFollowsExplicitDatabasePath(t *testing.T) {
	dir := t.TempDir()
	configViper := NewViper()
	configViper.Set("data.dir", filepath.Join(dir, "unused"))
	configViper.Set("database.path", filepath.Join(dir, "notes", "custom.db"))

	cfg, err := Load(configViper)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "notes", "backups"), cfg.BackupDir)
}

func TestLoadReadsEnvironment(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("FLASHNOTES_DATA_DIR", dataDir)
	t.Setenv("FLASHNOTES_DATABASE_READERS", "2")
	t.Setenv("FLASHNOTES_BACKUP_RETAIN", "3")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, 2, cfg.Readers)
	assert.Equal(t, 3, cfg.BackupRetain)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "zero-readers", key: "database.readers", value: 0},
		{name: "negative-acquire", key: "database.acquire_timeout", value: -time.Second},
		{name: "zero-retain", key: "backup.retain", value: 0},
		{name: "zero-interval", key: "backup.interval", value: time.Duration(0)},
		{name: "bad-format", key: "log.format", value: "xml"},
		{name: "zero-page", key: "sidebar.page_size", value: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("data.dir", t.TempDir())
			configViper.Set(tt.key, tt.value)

			_, err := Load(configViper)
			assert.Error(t, err)
		})
	}
}

func TestLoadSkipsBackupValidationWhenDisabled(t *testing.T) {
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())
	configViper.Set("backup.enabled", false)
	configViper.Set("backup.retain", 0)

	cfg, err := Load(configViper)
	require.NoError(t, err)
	assert.False(t, cfg.BackupEnabled)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "FLASHNOTES"
	appDirName            = "flashnotes"
	databaseFileName      = "flashnotes.db"
	backupDirName         = "backups"
	defaultReaders        = 4
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 5 * time.Second
	defaultBackupInterval = 24 * time.Hour
	defaultBackupRetain   = 7
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultSidebarPage    = 100
	defaultSearchLimit    = 20
)

// AppConfig captures runtime configuration for the notes engine.
type AppConfig struct {
	DataDir        string
	DatabasePath   string
	Readers        int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
	BackupEnabled  bool
	BackupDir      string
	BackupInterval time.Duration
	BackupRetain   int
	LogLevel       string
	LogFormat      string
	SidebarPage    int
	SearchLimit    int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("data.dir", "")
	configViper.SetDefault("database.path", "")
	configViper.SetDefault("database.readers", defaultReaders)
	configViper.SetDefault("database.acquire_timeout", defaultAcquireTimeout)
	configViper.SetDefault("database.busy_timeout", defaultBusyTimeout)
	configViper.SetDefault("backup.enabled", true)
	configViper.SetDefault("backup.dir", "")
	configViper.SetDefault("backup.interval", defaultBackupInterval)
	configViper.SetDefault("backup.retain", defaultBackupRetain)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("sidebar.page_size", defaultSidebarPage)
	configViper.SetDefault("search.limit", defaultSearchLimit)
}

// Load parses runtime configuration from viper. Empty paths resolve relative
// to the data directory, which itself defaults to the user config directory.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DataDir:        strings.TrimSpace(configViper.GetString("data.dir")),
		DatabasePath:   strings.TrimSpace(configViper.GetString("database.path")),
		Readers:        configViper.GetInt("database.readers"),
		AcquireTimeout: configViper.GetDuration("database.acquire_timeout"),
		BusyTimeout:    configViper.GetDuration("database.busy_timeout"),
		BackupEnabled:  configViper.GetBool("backup.enabled"),
		BackupDir:      strings.TrimSpace(configViper.GetString("backup.dir")),
		BackupInterval: configViper.GetDuration("backup.interval"),
		BackupRetain:   configViper.GetInt("backup.retain"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		SidebarPage:    configViper.GetInt("sidebar.page_size"),
		SearchLimit:    configViper.GetInt("search.limit"),
	}

	if cfg.DataDir == "" {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return AppConfig{}, fmt.Errorf("resolving data.dir: %w", err)
		}
		cfg.DataDir = filepath.Join(userConfigDir, appDirName)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, databaseFileName)
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(filepath.Dir(cfg.DatabasePath), backupDirName)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.Readers <= 0 {
		return fmt.Errorf("database.readers must be positive, got %d", c.Readers)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("database.acquire_timeout must be positive")
	}
	if c.BusyTimeout <= 0 {
		return fmt.Errorf("database.busy_timeout must be positive")
	}
	if c.BackupEnabled {
		if c.BackupInterval <= 0 {
			return fmt.Errorf("backup.interval must be positive")
		}
		if c.BackupRetain <= 0 {
			return fmt.Errorf("backup.retain must be positive, got %d", c.BackupRetain)
		}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if c.SidebarPage <= 0 {
		return fmt.Errorf("sidebar.page_size must be positive")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search.limit must be positive")
	}
	return nil
}

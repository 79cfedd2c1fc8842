package engine

import (
	"context"
	"errors"
	"time"

	"github.com/garyblankenship/flashnotes/internal/backup"
	"github.com/garyblankenship/flashnotes/internal/buffers"
	"github.com/garyblankenship/flashnotes/internal/config"
	"github.com/garyblankenship/flashnotes/internal/database"
	"github.com/garyblankenship/flashnotes/internal/settings"
	"go.uber.org/zap"
)

// ErrBackupsDisabled is returned by Backup when backup.enabled is false.
var ErrBackupsDisabled = errors.New("engine: backups are disabled")

// Dependencies configures Open. Clock and IDProvider default to wall time and
// random UUIDs.
type Dependencies struct {
	Config     config.AppConfig
	Logger     *zap.Logger
	Clock      func() time.Time
	IDProvider buffers.IDProvider
}

// Engine bundles the open store and the services built on it. It lives for the
// whole process and must be closed on shutdown.
type Engine struct {
	database *database.Manager
	buffers  *buffers.Service
	settings *settings.Service
	backups  *backup.Manager
	logger   *zap.Logger
}

// Open opens the database, brings the schema up to date and takes the startup
// backup when one is due. Only database and schema failures are fatal.
func Open(ctx context.Context, deps Dependencies) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = buffers.NewRandomIDProvider()
	}
	cfg := deps.Config

	db, err := database.OpenSQLite(database.Config{
		Path:           cfg.DatabasePath,
		Readers:        cfg.Readers,
		AcquireTimeout: cfg.AcquireTimeout,
		BusyTimeout:    cfg.BusyTimeout,
		Clock:          clock,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	var backups *backup.Manager
	if cfg.BackupEnabled {
		backups, err = backup.NewManager(db, backup.Config{
			Directory: cfg.BackupDir,
			Interval:  cfg.BackupInterval,
			Retain:    cfg.BackupRetain,
			Clock:     clock,
			Logger:    logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, &database.InitError{Stage: "backup_config", Err: err}
		}
	}

	if backups != nil {
		pending, err := db.PendingMigrations(ctx)
		if err != nil {
			logger.Warn("could not inspect schema before migration", zap.Error(err))
		}
		if len(pending) > 0 {
			if _, err := backups.BackupBeforeMigration(ctx); err != nil {
				logger.Error("pre-migration backup failed", zap.Strings("pending", pending), zap.Error(err))
			}
		}
	}

	if err := db.EnsureSchema(ctx, settings.Seeds()); err != nil {
		_ = db.Close()
		return nil, &database.InitError{Stage: "schema", Err: err}
	}

	if backups != nil {
		if _, _, err := backups.MaybeBackup(ctx); err != nil {
			logger.Error("startup backup failed", zap.Error(err))
		}
	}

	bufferService, err := buffers.NewService(buffers.ServiceConfig{
		Store:           db,
		Clock:           clock,
		IDProvider:      idProvider,
		Logger:          logger,
		SidebarPageSize: cfg.SidebarPage,
		SearchLimit:     cfg.SearchLimit,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	settingsService, err := settings.NewService(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Engine{
		database: db,
		buffers:  bufferService,
		settings: settingsService,
		backups:  backups,
		logger:   logger,
	}, nil
}

func (e *Engine) Buffers() *buffers.Service {
	return e.buffers
}

func (e *Engine) Settings() *settings.Service {
	return e.settings
}

// Backup takes a rotation snapshot now, regardless of the interval.
func (e *Engine) Backup(ctx context.Context) (backup.Snapshot, error) {
	if e.backups == nil {
		return backup.Snapshot{}, ErrBackupsDisabled
	}
	return e.backups.Backup(ctx)
}

// Backups lists rotation snapshots, newest first.
func (e *Engine) Backups() ([]backup.Snapshot, error) {
	if e.backups == nil {
		return nil, ErrBackupsDisabled
	}
	return e.backups.List()
}

// CheckIntegrity returns integrity problems; nil means healthy.
func (e *Engine) CheckIntegrity(ctx context.Context) ([]string, error) {
	return e.database.CheckIntegrity(ctx)
}

func (e *Engine) Vacuum(ctx context.Context) error {
	return e.database.Vacuum(ctx)
}

func (e *Engine) DatabasePath() string {
	return e.database.Path()
}

// Close releases every connection. The engine must not be used afterwards.
func (e *Engine) Close() error {
	if err := e.database.Close(); err != nil {
		e.logger.Error("database close failed", zap.Error(err))
		return err
	}
	return nil
}

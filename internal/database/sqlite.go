package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultReaders        = 4
	defaultAcquireTimeout = 5 * time.Second
	defaultBusyTimeout    = 5 * time.Second
	writerCacheKiB        = 64000
	readerCacheKiB        = 32000
)

// ErrWriteLockTimeout is returned when the write handle could not be acquired
// within the configured timeout.
var ErrWriteLockTimeout = errors.New("database: timed out waiting for write lock")

// InitError reports a fatal failure while opening or preparing the store.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("database init failed at %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Config describes the on-disk store and its connection limits.
type Config struct {
	Path           string
	Readers        int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Manager owns the single write handle and the pool of read-only handles
// opened against the same SQLite file.
type Manager struct {
	path           string
	writer         *gorm.DB
	writerSQL      *sql.DB
	readers        *gorm.DB
	readerSQL      *sql.DB
	writeLock      *semaphore.Weighted
	acquireTimeout time.Duration
	clock          func() time.Time
	logger         *zap.Logger
}

// OpenSQLite opens the write handle and the reader pool. Any failure here is
// fatal and reported as *InitError.
func OpenSQLite(cfg Config) (*Manager, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, &InitError{Stage: "config", Err: errors.New("database path is required")}
	}
	// A relative path would be read as the URI authority.
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, &InitError{Stage: "config", Err: err}
	}

	readers := cfg.Readers
	if readers <= 0 {
		readers = defaultReaders
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, &InitError{Stage: "create_directory", Err: err}
	}

	writer, err := gorm.Open(sqlite.Open(buildDSN(path, writerPragmas(busyTimeout))), newGormConfig())
	if err != nil {
		return nil, &InitError{Stage: "open_writer", Err: err}
	}
	writerSQL, err := writer.DB()
	if err != nil {
		return nil, &InitError{Stage: "open_writer", Err: err}
	}
	writerSQL.SetMaxOpenConns(1)
	writerSQL.SetMaxIdleConns(1)
	writerSQL.SetConnMaxLifetime(0)

	var journalMode string
	if err := writer.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		_ = writerSQL.Close()
		return nil, &InitError{Stage: "journal_mode", Err: err}
	}
	if !strings.EqualFold(journalMode, "wal") {
		_ = writerSQL.Close()
		return nil, &InitError{Stage: "journal_mode", Err: fmt.Errorf("expected wal journal mode, got %q", journalMode)}
	}

	readerDB, err := gorm.Open(sqlite.Open(buildDSN(path, readerPragmas(busyTimeout))), newGormConfig())
	if err != nil {
		_ = writerSQL.Close()
		return nil, &InitError{Stage: "open_readers", Err: err}
	}
	readerSQL, err := readerDB.DB()
	if err != nil {
		_ = writerSQL.Close()
		return nil, &InitError{Stage: "open_readers", Err: err}
	}
	readerSQL.SetMaxOpenConns(readers)
	readerSQL.SetMaxIdleConns(readers)
	readerSQL.SetConnMaxIdleTime(0)
	readerSQL.SetConnMaxLifetime(0)

	// gorm.Open already pinged, which leaves one warm reader in the pool.
	if err := readerSQL.Ping(); err != nil {
		_ = readerSQL.Close()
		_ = writerSQL.Close()
		return nil, &InitError{Stage: "warm_reader", Err: err}
	}

	logger.Info("database opened",
		zap.String("path", path),
		zap.Int("readers", readers),
		zap.Duration("acquire_timeout", acquireTimeout))

	return &Manager{
		path:           path,
		writer:         writer,
		writerSQL:      writerSQL,
		readers:        readerDB,
		readerSQL:      readerSQL,
		writeLock:      semaphore.NewWeighted(1),
		acquireTimeout: acquireTimeout,
		clock:          clock,
		logger:         logger,
	}, nil
}

// Path returns the database file path.
func (m *Manager) Path() string {
	return m.path
}

// Write runs fn inside a single transaction on the write handle while holding
// the write lock.
func (m *Manager) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.Exclusive(ctx, func(db *gorm.DB) error {
		return db.Transaction(fn)
	})
}

// Exclusive runs fn on the write handle while holding the write lock, without
// opening a transaction. Statements that cannot run inside a transaction
// (VACUUM, VACUUM INTO) go through here.
func (m *Manager) Exclusive(ctx context.Context, fn func(db *gorm.DB) error) error {
	if err := m.lockWriter(ctx); err != nil {
		return err
	}
	defer m.writeLock.Release(1)

	return fn(m.writer.WithContext(ctx))
}

// Read runs fn against a pooled read-only connection. When no reader becomes
// available within the acquire timeout, fn runs on the write handle instead.
func (m *Manager) Read(ctx context.Context, fn func(tx *gorm.DB) error) error {
	conn, err := m.acquireReader(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Warn("reader pool unavailable, falling back to writer", zap.Error(err))
		return m.Exclusive(ctx, fn)
	}
	defer conn.Close()

	tx := m.readers.WithContext(ctx)
	tx.Statement.ConnPool = conn
	return fn(tx)
}

// VacuumInto writes a transactionally consistent copy of the database to path.
func (m *Manager) VacuumInto(ctx context.Context, path string) error {
	return m.Exclusive(ctx, func(db *gorm.DB) error {
		return db.Exec("VACUUM INTO ?", path).Error
	})
}

// Vacuum rebuilds the database file to reclaim free pages.
func (m *Manager) Vacuum(ctx context.Context) error {
	return m.Exclusive(ctx, func(db *gorm.DB) error {
		return db.Exec("VACUUM").Error
	})
}

// CheckIntegrity runs PRAGMA integrity_check and returns any reported problems.
// An empty slice means the database is healthy.
func (m *Manager) CheckIntegrity(ctx context.Context) ([]string, error) {
	var results []string
	err := m.Read(ctx, func(tx *gorm.DB) error {
		return tx.Raw("PRAGMA integrity_check").Scan(&results).Error
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 1 && results[0] == "ok" {
		return nil, nil
	}
	return results, nil
}

// Close releases the reader pool and the write handle.
func (m *Manager) Close() error {
	return errors.Join(m.readerSQL.Close(), m.writerSQL.Close())
}

func (m *Manager) lockWriter(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	if err := m.writeLock.Acquire(acquireCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrWriteLockTimeout
	}
	return nil
}

func (m *Manager) acquireReader(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()
	return m.readerSQL.Conn(acquireCtx)
}

func newGormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

func basePragmas(busyTimeout time.Duration) []string {
	return []string{
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"trusted_schema(1)",
		"temp_store(MEMORY)",
	}
}

func writerPragmas(busyTimeout time.Duration) []string {
	return append(basePragmas(busyTimeout), fmt.Sprintf("cache_size(-%d)", writerCacheKiB))
}

func readerPragmas(busyTimeout time.Duration) []string {
	return append(basePragmas(busyTimeout),
		fmt.Sprintf("cache_size(-%d)", readerCacheKiB),
		"query_only(1)",
	)
}

// buildDSN returns a file: URI so that '?' or '#' in the path stay part of the
// file name instead of starting the query.
func buildDSN(path string, pragmas []string) string {
	values := url.Values{}
	for _, pragma := range pragmas {
		values.Add("_pragma", pragma)
	}
	dsn := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: values.Encode()}
	return dsn.String()
}

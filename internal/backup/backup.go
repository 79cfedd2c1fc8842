package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	filePrefix             = "flashnotes_"
	premigrationFilePrefix = "flashnotes_premigration_"
	fileSuffix             = ".db"

	defaultInterval = 24 * time.Hour
	defaultRetain   = 7
)

var (
	errMissingSnapshotter = errors.New("backup: snapshotter is required")
	errMissingDirectory   = errors.New("backup: directory is required")
	// ErrSnapshotExists is returned when a snapshot for the same second is already on disk.
	ErrSnapshotExists = errors.New("backup: snapshot already exists")
)

// Snapshotter writes a consistent copy of the live database to path.
type Snapshotter interface {
	VacuumInto(ctx context.Context, path string) error
}

type Config struct {
	Directory string
	Interval  time.Duration
	Retain    int
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Snapshot is one backup file on disk.
type Snapshot struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manager takes and rotates backups in a single directory.
type Manager struct {
	snapshotter Snapshotter
	directory   string
	interval    time.Duration
	retain      int
	clock       func() time.Time
	logger      *zap.Logger
	remove      func(string) error
}

func NewManager(snapshotter Snapshotter, cfg Config) (*Manager, error) {
	if snapshotter == nil {
		return nil, errMissingSnapshotter
	}
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		return nil, errMissingDirectory
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		snapshotter: snapshotter,
		directory:   directory,
		interval:    interval,
		retain:      retain,
		clock:       clock,
		logger:      logger,
		remove:      os.Remove,
	}, nil
}

// Directory returns where snapshots are written.
func (m *Manager) Directory() string {
	return m.directory
}

// Due reports whether the newest rotation snapshot is at least one interval
// old. A missing directory counts as no backups.
func (m *Manager) Due() (bool, error) {
	snapshots, err := m.List()
	if err != nil {
		return false, err
	}
	if len(snapshots) == 0 {
		return true, nil
	}
	return m.clock().Sub(snapshots[0].CreatedAt) >= m.interval, nil
}

// MaybeBackup takes a backup only when one is due. The boolean reports whether
// a snapshot was written.
func (m *Manager) MaybeBackup(ctx context.Context) (Snapshot, bool, error) {
	due, err := m.Due()
	if err != nil {
		return Snapshot{}, false, err
	}
	if !due {
		m.logger.Debug("backup not due", zap.String("directory", m.directory))
		return Snapshot{}, false, nil
	}
	snapshot, err := m.Backup(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Backup writes a rotation snapshot and prunes all but the newest ones.
func (m *Manager) Backup(ctx context.Context) (Snapshot, error) {
	snapshot, err := m.write(ctx, filePrefix)
	if err != nil {
		return Snapshot{}, err
	}
	m.prune()
	return snapshot, nil
}

// BackupBeforeMigration writes a snapshot that rotation never deletes.
func (m *Manager) BackupBeforeMigration(ctx context.Context) (Snapshot, error) {
	return m.write(ctx, premigrationFilePrefix)
}

// List returns rotation snapshots, newest first. Pre-migration snapshots and
// unrelated files are skipped.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: list %s: %w", m.directory, err)
	}

	snapshots := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		createdAt, ok := parseTimestamp(entry.Name())
		if !ok {
			continue
		}
		snapshot := Snapshot{Path: filepath.Join(m.directory, entry.Name()), CreatedAt: createdAt}
		if info, err := entry.Info(); err == nil {
			snapshot.SizeBytes = info.Size()
		}
		snapshots = append(snapshots, snapshot)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

func (m *Manager) write(ctx context.Context, prefix string) (Snapshot, error) {
	if err := os.MkdirAll(m.directory, 0o700); err != nil {
		return Snapshot{}, fmt.Errorf("backup: create directory: %w", err)
	}

	createdAt := m.clock().UTC().Truncate(time.Second)
	path := filepath.Join(m.directory, prefix+strconv.FormatInt(createdAt.Unix(), 10)+fileSuffix)
	if _, err := os.Stat(path); err == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotExists, path)
	}

	if err := m.snapshotter.VacuumInto(ctx, path); err != nil {
		return Snapshot{}, fmt.Errorf("backup: snapshot %s: %w", path, err)
	}

	snapshot := Snapshot{Path: path, CreatedAt: createdAt}
	if info, err := os.Stat(path); err == nil {
		snapshot.SizeBytes = info.Size()
	}
	m.logger.Info("backup created",
		zap.String("path", path),
		zap.String("size", humanize.IBytes(uint64(snapshot.SizeBytes))))
	return snapshot, nil
}

func (m *Manager) prune() {
	snapshots, err := m.List()
	if err != nil {
		m.logger.Warn("backup prune skipped", zap.Error(err))
		return
	}
	if len(snapshots) <= m.retain {
		return
	}
	for _, snapshot := range snapshots[m.retain:] {
		if err := m.remove(snapshot.Path); err != nil {
			m.logger.Warn("failed to remove old backup", zap.String("path", snapshot.Path), zap.Error(err))
			continue
		}
		m.logger.Info("removed old backup", zap.String("path", snapshot.Path))
	}
}

// parseTimestamp extracts the unix seconds from flashnotes_<unix>.db.
func parseTimestamp(name string) (time.Time, bool) {
	if strings.HasPrefix(name, premigrationFilePrefix) {
		return time.Time{}, false
	}
	raw, ok := strings.CutPrefix(name, filePrefix)
	if !ok {
		return time.Time{}, false
	}
	raw, ok = strings.CutSuffix(raw, fileSuffix)
	if !ok {
		return time.Time{}, false
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0).UTC(), true
}

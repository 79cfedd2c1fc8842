package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyblankenship/flashnotes/internal/database"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyFontFamily       = "font_family"
	KeyFontSize         = "font_size"
	KeyLineHeight       = "line_height"
	KeySidebarWidth     = "sidebar_width"
	KeySidebarCollapsed = "sidebar_collapsed"
	KeyVimMode          = "vim_mode"
	KeyAlwaysOnTop      = "always_on_top"
)

// ErrInvalidKey indicates an empty settings key.
var ErrInvalidKey = errors.New("settings: invalid key")

// Settings is the typed view over the settings table.
type Settings struct {
	FontFamily       string  `json:"font_family"`
	FontSize         int     `json:"font_size"`
	LineHeight       float64 `json:"line_height"`
	SidebarWidth     int     `json:"sidebar_width"`
	SidebarCollapsed bool    `json:"sidebar_collapsed"`
	VimMode          bool    `json:"vim_mode"`
	AlwaysOnTop      bool    `json:"always_on_top"`
}

// Defaults returns the values used when a key is absent or unparsable.
func Defaults() Settings {
	return Settings{
		FontFamily:   "JetBrains Mono",
		FontSize:     13,
		LineHeight:   1.5,
		SidebarWidth: 240,
	}
}

// Seeds lists the default rows inserted on first start.
func Seeds() []database.SettingSeed {
	defaults := Defaults()
	return []database.SettingSeed{
		{Key: KeyFontFamily, Value: defaults.FontFamily},
		{Key: KeyFontSize, Value: strconv.Itoa(defaults.FontSize)},
		{Key: KeyLineHeight, Value: strconv.FormatFloat(defaults.LineHeight, 'f', -1, 64)},
		{Key: KeySidebarWidth, Value: strconv.Itoa(defaults.SidebarWidth)},
		{Key: KeySidebarCollapsed, Value: strconv.FormatBool(defaults.SidebarCollapsed)},
		{Key: KeyVimMode, Value: strconv.FormatBool(defaults.VimMode)},
		{Key: KeyAlwaysOnTop, Value: strconv.FormatBool(defaults.AlwaysOnTop)},
	}
}

// Setting is one persisted key/value row.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// Store hands out connections; see buffers.Store.
type Store interface {
	Read(ctx context.Context, fn func(tx *gorm.DB) error) error
	Write(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opGetAll = "settings.get_all"
	opSet    = "settings.set"

	reasonInvalidKey  = "invalid_key"
	reasonQueryFailed = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("settings: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}, nil
}

// GetAll overlays stored values on Defaults. Unknown keys are ignored.
func (s *Service) GetAll(ctx context.Context) (Settings, error) {
	var rows []Setting
	if err := s.store.Read(ctx, func(tx *gorm.DB) error {
		return tx.Find(&rows).Error
	}); err != nil {
		s.logger.Error("settings read failed", zap.String("operation", opGetAll), zap.Error(err))
		return Settings{}, newServiceError(opGetAll, reasonQueryFailed, err)
	}

	values := Defaults()
	for _, row := range rows {
		s.apply(&values, row)
	}
	return values, nil
}

// Set upserts a single key.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return newServiceError(opSet, reasonInvalidKey, ErrInvalidKey)
	}

	err := s.store.Write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&Setting{Key: key, Value: value}).Error
	})
	if err != nil {
		s.logger.Error("settings write failed",
			zap.String("operation", opSet), zap.String("key", key), zap.Error(err))
		return newServiceError(opSet, reasonQueryFailed, err)
	}
	return nil
}

func (s *Service) apply(values *Settings, row Setting) {
	var err error
	switch row.Key {
	case KeyFontFamily:
		values.FontFamily = row.Value
	case KeyFontSize:
		values.FontSize, err = parseOr(toDecimalIntE, row.Value, values.FontSize)
	case KeyLineHeight:
		values.LineHeight, err = parseOr(cast.ToFloat64E, row.Value, values.LineHeight)
	case KeySidebarWidth:
		values.SidebarWidth, err = parseOr(toDecimalIntE, row.Value, values.SidebarWidth)
	case KeySidebarCollapsed:
		values.SidebarCollapsed, err = parseOr(cast.ToBoolE, row.Value, values.SidebarCollapsed)
	case KeyVimMode:
		values.VimMode, err = parseOr(cast.ToBoolE, row.Value, values.VimMode)
	case KeyAlwaysOnTop:
		values.AlwaysOnTop, err = parseOr(cast.ToBoolE, row.Value, values.AlwaysOnTop)
	}
	if err != nil {
		s.logger.Warn("ignoring unparsable setting",
			zap.String("key", row.Key), zap.String("value", row.Value), zap.Error(err))
	}
}

func parseOr[T any](parse func(any) (T, error), raw string, fallback T) (T, error) {
	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return fallback, err
	}
	return value, nil
}

// toDecimalIntE parses integers as base 10. cast alone reads a leading zero as
// an octal or hex prefix.
func toDecimalIntE(value any) (int, error) {
	raw := strings.TrimSpace(cast.ToString(value))
	sign := ""
	if strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "+") {
		sign, raw = raw[:1], raw[1:]
	}
	digits := strings.TrimLeft(raw, "0")
	if digits == "" || digits[0] == '.' {
		digits = "0" + digits
	}
	if raw == "" {
		digits = ""
	}
	return cast.ToIntE(sign + digits)
}

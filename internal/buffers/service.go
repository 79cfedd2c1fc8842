package buffers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

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
	opServiceNew   = "buffers.service.new"
	opCreate       = "buffers.create"
	opSave         = "buffers.save"
	opGet          = "buffers.get"
	opListSidebar  = "buffers.list_sidebar"
	opSearch       = "buffers.search"
	opDelete       = "buffers.delete"
	opTogglePin    = "buffers.toggle_pin"
	opReorder      = "buffers.reorder"
	opCleanupEmpty = "buffers.cleanup_empty"
	opArchive      = "buffers.archive"
	opUnarchive    = "buffers.unarchive"
	opCount        = "buffers.count"
	fieldBufferID  = "buffer_id"
	queryByID      = "id = ?"
	sidebarOrder   = "is_pinned DESC, sort_order ASC, accessed_at DESC"

	reasonMissingStore      = "missing_store"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidID         = "invalid_id"
	reasonContentTooLarge   = "content_too_large"
	reasonIDGeneration      = "id_generation_failed"
	reasonNotFound          = "not_found"
	reasonQueryFailed       = "query_failed"

	defaultSidebarPageSize = 100
	defaultSearchLimit     = 20
)

const searchQuery = `
SELECT b.id AS id,
       snippet(buffers_fts, 0, '<mark>', '</mark>', '…', 32) AS snippet,
       b.updated_at AS updated_at
FROM buffers_fts
JOIN buffers b ON b.rowid = buffers_fts.rowid
WHERE buffers_fts MATCH ? AND b.is_archived = 0
ORDER BY rank
LIMIT ?`

// blankCharacters is every rune unicode.IsSpace accepts, so SQL trim agrees
// with the Go-side title derivation.
const blankCharacters = " \t\n\v\f\r\u0085\u00a0\u1680" +
	"\u2000\u2001\u2002\u2003\u2004\u2005\u2006\u2007\u2008\u2009\u200a" +
	"\u2028\u2029\u202f\u205f\u3000"

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Store hands out connections: Read may use a pooled read-only connection,
// Write runs inside one transaction under the write lock.
type Store interface {
	Read(ctx context.Context, fn func(tx *gorm.DB) error) error
	Write(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceConfig struct {
	Store           Store
	Clock           func() time.Time
	IDProvider      IDProvider
	Logger          *zap.Logger
	SidebarPageSize int
	SearchLimit     int
}

// Service implements buffer operations on top of a Store.
type Service struct {
	store           Store
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	sidebarPageSize int
	searchLimit     int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	sidebarPageSize := cfg.SidebarPageSize
	if sidebarPageSize <= 0 {
		sidebarPageSize = defaultSidebarPageSize
	}
	searchLimit := cfg.SearchLimit
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}

	return &Service{
		store:           cfg.Store,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		sidebarPageSize: sidebarPageSize,
		searchLimit:     searchLimit,
	}, nil
}

// Create stores a new buffer at the top of the manual order and returns its
// summary.
func (s *Service) Create(ctx context.Context, content string) (Summary, error) {
	if err := validateContent(content); err != nil {
		return Summary{}, newServiceError(opCreate, reasonContentTooLarge, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDGeneration, err)
		return Summary{}, newServiceError(opCreate, reasonIDGeneration, err)
	}

	now := s.clock().Unix()
	record := Buffer{
		ID:                id,
		Content:           content,
		CreatedAtSeconds:  now,
		UpdatedAtSeconds:  now,
		AccessedAtSeconds: now,
	}
	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT COALESCE(MIN(sort_order) - 1, 0) FROM buffers").Scan(&record.SortOrder).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return Summary{}, s.failure(opCreate, err, zap.String(fieldBufferID, id))
	}

	return newSummary(record), nil
}

// Save replaces content and bumps updated_at. It returns the derived title and
// preview.
func (s *Service) Save(ctx context.Context, id, content string) (string, string, error) {
	bufferID, err := normalizeID(id)
	if err != nil {
		return "", "", newServiceError(opSave, reasonInvalidID, err)
	}
	if err := validateContent(content); err != nil {
		return "", "", newServiceError(opSave, reasonContentTooLarge, err)
	}

	now := s.clock().Unix()
	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&Buffer{}).Where(queryByID, bufferID).Updates(map[string]any{
			"content":    content,
			"updated_at": gorm.Expr("MAX(created_at, ?)", now),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBufferNotFound
		}
		return nil
	})
	if err != nil {
		return "", "", s.failure(opSave, err, zap.String(fieldBufferID, bufferID))
	}

	title, preview := TitleAndPreview(content)
	return title, preview, nil
}

// Get returns the full buffer and records the access. The touch and the read
// share one write transaction.
func (s *Service) Get(ctx context.Context, id string) (Buffer, error) {
	bufferID, err := normalizeID(id)
	if err != nil {
		return Buffer{}, newServiceError(opGet, reasonInvalidID, err)
	}

	now := s.clock().Unix()
	var buffer Buffer
	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&Buffer{}).Where(queryByID, bufferID).
			Update("accessed_at", gorm.Expr("MAX(accessed_at, ?)", now))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBufferNotFound
		}
		return tx.Where(queryByID, bufferID).Take(&buffer).Error
	})
	if err != nil {
		return Buffer{}, s.failure(opGet, err, zap.String(fieldBufferID, bufferID))
	}
	return buffer, nil
}

// ListSidebar returns a page of non-archived buffers: pinned first, then manual
// order, then most recently accessed. A non-positive limit uses the page size.
func (s *Service) ListSidebar(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = s.sidebarPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var records []Buffer
	err := s.store.Read(ctx, func(tx *gorm.DB) error {
		return tx.Select("id", "content", "updated_at", "is_pinned").
			Where("is_archived = ?", false).
			Order(sidebarOrder).
			Limit(limit).
			Offset(offset).
			Find(&records).Error
	})
	if err != nil {
		return nil, s.failure(opListSidebar, err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, newSummary(record))
	}
	return summaries, nil
}

// Search runs a prefix full-text query over non-archived buffers. Blank
// queries and expressions the index cannot parse yield an empty result.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = s.searchLimit
	}

	results := []SearchResult{}
	err := s.store.Read(ctx, func(tx *gorm.DB) error {
		return tx.Raw(searchQuery, match, limit).Scan(&results).Error
	})
	if err != nil {
		if isInvalidMatch(err) {
			s.loggerOrDefault().Debug("search query rejected by index",
				zap.String("match", match), zap.Error(err))
			return []SearchResult{}, nil
		}
		return nil, s.failure(opSearch, err)
	}
	return results, nil
}

// Delete removes the buffer permanently and returns the id the caller should
// select next, or "" when no other non-archived buffer remains. The successor
// is chosen before the row is deleted.
func (s *Service) Delete(ctx context.Context, id string) (string, error) {
	bufferID, err := normalizeID(id)
	if err != nil {
		return "", newServiceError(opDelete, reasonInvalidID, err)
	}

	var nextID string
	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		var candidates []string
		if err := tx.Model(&Buffer{}).
			Where("is_archived = ? AND id <> ?", false, bufferID).
			Order(sidebarOrder).
			Limit(1).
			Pluck("id", &candidates).Error; err != nil {
			return err
		}

		result := tx.Where(queryByID, bufferID).Delete(&Buffer{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBufferNotFound
		}
		if len(candidates) > 0 {
			nextID = candidates[0]
		}
		return nil
	})
	if err != nil {
		return "", s.failure(opDelete, err, zap.String(fieldBufferID, bufferID))
	}
	return nextID, nil
}

// TogglePin flips the pin flag and returns the new state.
func (s *Service) TogglePin(ctx context.Context, id string) (bool, error) {
	bufferID, err := normalizeID(id)
	if err != nil {
		return false, newServiceError(opTogglePin, reasonInvalidID, err)
	}

	var record Buffer
	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&Buffer{}).Where(queryByID, bufferID).
			Update("is_pinned", gorm.Expr("NOT is_pinned"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBufferNotFound
		}
		return tx.Select("is_pinned").Where(queryByID, bufferID).Take(&record).Error
	})
	if err != nil {
		return false, s.failure(opTogglePin, err, zap.String(fieldBufferID, bufferID))
	}
	return record.IsPinned, nil
}

// Reorder assigns sort_order by position in one transaction. Unknown ids are
// skipped.
func (s *Service) Reorder(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		bufferID, err := normalizeID(id)
		if err != nil {
			return newServiceError(opReorder, reasonInvalidID, err)
		}
		normalized = append(normalized, bufferID)
	}

	err := s.store.Write(ctx, func(tx *gorm.DB) error {
		for position, bufferID := range normalized {
			if err := tx.Model(&Buffer{}).Where(queryByID, bufferID).
				Update("sort_order", position).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.failure(opReorder, err, zap.Int("count", len(normalized)))
	}
	return nil
}

// CleanupEmpty deletes non-archived buffers whose content is only whitespace
// and returns how many were removed.
func (s *Service) CleanupEmpty(ctx context.Context) (int64, error) {
	var removed int64
	err := s.store.Write(ctx, func(tx *gorm.DB) error {
		result := tx.Where("is_archived = ? AND trim(content, ?) = ''", false, blankCharacters).
			Delete(&Buffer{})
		removed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, s.failure(opCleanupEmpty, err)
	}
	if removed > 0 {
		s.loggerOrDefault().Info("removed empty buffers", zap.Int64("count", removed))
	}
	return removed, nil
}

// Archive hides the buffer from the sidebar and search without deleting it.
func (s *Service) Archive(ctx context.Context, id string) error {
	return s.setArchived(ctx, opArchive, id, true)
}

// Unarchive restores an archived buffer.
func (s *Service) Unarchive(ctx context.Context, id string) error {
	return s.setArchived(ctx, opUnarchive, id, false)
}

// Count returns the number of buffers, optionally including archived ones.
func (s *Service) Count(ctx context.Context, includeArchived bool) (int64, error) {
	var count int64
	err := s.store.Read(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&Buffer{})
		if !includeArchived {
			query = query.Where("is_archived = ?", false)
		}
		return query.Count(&count).Error
	})
	if err != nil {
		return 0, s.failure(opCount, err)
	}
	return count, nil
}

func (s *Service) setArchived(ctx context.Context, operation, id string, archived bool) error {
	bufferID, err := normalizeID(id)
	if err != nil {
		return newServiceError(operation, reasonInvalidID, err)
	}

	err = s.store.Write(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&Buffer{}).Where(queryByID, bufferID).Update("is_archived", archived)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBufferNotFound
		}
		return nil
	})
	if err != nil {
		return s.failure(operation, err, zap.String(fieldBufferID, bufferID))
	}
	return nil
}

// failure converts a storage error into a ServiceError. Missing rows are a
// caller problem and are not logged as errors.
func (s *Service) failure(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrBufferNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, reasonNotFound, ErrBufferNotFound)
	}
	s.logError(operation, reasonQueryFailed, err, fields...)
	return newServiceError(operation, reasonQueryFailed, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("buffers service error", attrs...)
}

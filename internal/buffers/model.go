package buffers

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// MaxContentBytes bounds the size of a single buffer's content.
const MaxContentBytes = 10 * 1024 * 1024

var (
	// ErrBufferNotFound indicates that no buffer exists with the given id.
	ErrBufferNotFound = errors.New("buffers: buffer not found")
	// ErrInvalidBufferID indicates that a buffer identifier is empty or exceeds storage bounds.
	ErrInvalidBufferID = errors.New("buffers: invalid buffer id")
	// ErrContentTooLarge indicates that content exceeds MaxContentBytes.
	ErrContentTooLarge = errors.New("buffers: content too large")
)

// ContentTooLargeError reports the rejected size. It matches ErrContentTooLarge.
type ContentTooLargeError struct {
	Size  int
	Limit int
}

func (e *ContentTooLargeError) Error() string {
	return fmt.Sprintf("content is %s (%d bytes), which exceeds the %s limit",
		humanize.IBytes(uint64(e.Size)), e.Size, humanize.IBytes(uint64(e.Limit)))
}

// Is reports whether target is ErrContentTooLarge.
func (e *ContentTooLargeError) Is(target error) bool {
	return target == ErrContentTooLarge
}

func validateContent(content string) error {
	if len(content) > MaxContentBytes {
		return &ContentTooLargeError{Size: len(content), Limit: MaxContentBytes}
	}
	return nil
}

// Buffer is the persisted note row.
type Buffer struct {
	ID                string `gorm:"column:id;primaryKey" json:"id"`
	Content           string `gorm:"column:content;not null;default:''" json:"content"`
	CreatedAtSeconds  int64  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at;not null" json:"updated_at"`
	AccessedAtSeconds int64  `gorm:"column:accessed_at;not null" json:"accessed_at"`
	IsArchived        bool   `gorm:"column:is_archived;not null;default:false" json:"is_archived"`
	IsPinned          bool   `gorm:"column:is_pinned;not null;default:false" json:"is_pinned"`
	SortOrder         int64  `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
}

// TableName provides the explicit table binding for GORM.
func (Buffer) TableName() string {
	return "buffers"
}

// Summary is the sidebar view of a buffer. Title and preview are derived from
// content and never stored.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Preview   string `json:"preview"`
	UpdatedAt int64  `json:"updated_at"`
	IsPinned  bool   `json:"is_pinned"`
}

func newSummary(buffer Buffer) Summary {
	title, preview := TitleAndPreview(buffer.Content)
	return Summary{
		ID:        buffer.ID,
		Title:     title,
		Preview:   preview,
		UpdatedAt: buffer.UpdatedAtSeconds,
		IsPinned:  buffer.IsPinned,
	}
}

// SearchResult is a ranked full-text match with matches wrapped in <mark> tags.
type SearchResult struct {
	ID        string `gorm:"column:id" json:"id"`
	Snippet   string `gorm:"column:snippet" json:"snippet"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updated_at"`
}

package buffers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

// IDProvider issues identifiers for new buffers.
type IDProvider interface {
	NewID() (string, error)
}

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

// NewID calls f.
func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewRandomIDProvider issues random (version 4) UUIDs. Buffer ids are opaque,
// so they deliberately carry no creation time.
func NewRandomIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		value, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return value.String(), nil
	})
}

func normalizeID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBufferID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBufferID, maxIdentifierLength)
	}
	return trimmed, nil
}

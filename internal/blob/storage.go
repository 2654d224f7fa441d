package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists under a key.
var ErrNotFound = errors.New("blob not found")

// Storage persists uploads and result bundles keyed by server-derived names
// (job id plus extension). Keys never come from client-supplied paths.
type Storage interface {
	// Put writes the blob and returns its storage location.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Get reads the blob back, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Package index defines the metadata index: a key/value store holding one
// JSON-serialized asset descriptor per cache key. Presence of a key is the
// single source of truth for "this asset is cached".
package index

import (
	"context"

	"github.com/springfiles/edgecache/internal/httperr"
)

// ErrNotFound is returned by Get when the key is absent. Absence is a
// first-class outcome, not a failure: it is what drives population.
var ErrNotFound = httperr.NotFound("metadata key not found")

type Index interface {
	// Get returns the raw record, or an error wrapping ErrNotFound when the
	// key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores the record. Records are immutable once written; Put is only
	// ever called with the same value for the same key.
	Put(ctx context.Context, key string, val []byte) error
	Close() error
}

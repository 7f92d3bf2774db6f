// Package storage provides the signal store behind the ingestion pipeline.
// Two backends implement Store: a durable PostgreSQL store and a bounded
// in-memory ring for deployments without a database.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/krill0051-hash/tradingview-proxy/internal/models"
)

// ErrNotFound is returned when a signal id does not exist.
var ErrNotFound = errors.New("signal not found")

// StorageError wraps a backend failure with the operation that caused it.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation '%s' failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if retrying the operation could succeed.
func (e *StorageError) IsRetryable() bool {
	return e.Retryable
}

// ListQuery bounds and filters a signal listing.
type ListQuery struct {
	Limit  int
	Offset int
	Symbol string
}

// Store is the persistence contract for canonical signals. Every method is
// safe for concurrent use; each call acquires and releases its own backend
// handle, so a store survives connectivity outages between calls.
type Store interface {
	// InsertSignal persists sig and its raw payload atomically, assigns
	// sig.ID and returns it. Either both the signal row and its payload row
	// exist afterwards, or neither does.
	InsertSignal(ctx context.Context, sig *models.Signal) (int64, error)

	// ListSignals returns stored signals newest-first.
	ListSignals(ctx context.Context, q ListQuery) ([]*models.Signal, error)

	// ListUnprocessed returns signals whose processed flag is still false,
	// newest-first.
	ListUnprocessed(ctx context.Context, limit, offset int) ([]*models.Signal, error)

	// MarkProcessed flips the processed flag. Flipping an already-processed
	// signal is a no-op success; an unknown id yields ErrNotFound.
	MarkProcessed(ctx context.Context, id int64) error

	// Count reports the number of stored signals.
	Count(ctx context.Context) (int64, error)

	// Clear removes every stored signal.
	Clear(ctx context.Context) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Stats returns backend statistics for the health surface.
	Stats() map[string]any

	// Close releases backend resources.
	Close()
}

package tinycache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tinycache/index"
	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/internal/docindex"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("not found")

	// ErrCapacityRejected is returned when a bounded structure (shard,
	// subscriber set, queue) is at its limit and may not evict.
	ErrCapacityRejected = errors.New("capacity rejected")

	// ErrTypeMismatch is returned when an operation does not apply to the
	// entry type of a key or value.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrIndexInconsistency marks a violated index invariant. It is logged,
	// never returned to callers.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrDurabilityDegraded is returned when the WAL could not accept a
	// record. The mutation was applied and is visible to reads.
	ErrDurabilityDegraded = errors.New("durability degraded")

	// ErrExists is returned when creating a key that is already live.
	ErrExists = errors.New("already exists")

	// ErrEmpty is returned by QueuePop on an empty queue.
	ErrEmpty = errors.New("queue is empty")

	// ErrFieldNotIndexed is returned by QueryDocuments for an unregistered
	// field of a database in registered-fields mode.
	ErrFieldNotIndexed = errors.New("field not indexed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidConfig is returned for an invalid DatabaseConfig.
	ErrInvalidConfig = errors.New("invalid database config")

	// ErrDatabaseExists is returned by CreateDatabase for a taken name.
	ErrDatabaseExists = errors.New("database already exists")

	// ErrDatabaseNotFound is returned for operations on an unknown database.
	// It matches ErrNotFound.
	ErrDatabaseNotFound = fmt.Errorf("database %w", ErrNotFound)

	// ErrWALDisabled is returned by Checkpoint when no WAL is configured.
	ErrWALDisabled = errors.New("wal disabled")

	// ErrClosed is returned by operations on a closed instance.
	ErrClosed = errors.New("tinycache: closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps engine, index and model errors to the package errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, cache.ErrCapacityRejected) || errors.Is(err, model.ErrCapacity) {
		return fmt.Errorf("%w: %w", ErrCapacityRejected, err)
	}
	if errors.Is(err, cache.ErrExists) {
		return fmt.Errorf("%w: %w", ErrExists, err)
	}
	if errors.Is(err, model.ErrEmpty) {
		return fmt.Errorf("%w: %w", ErrEmpty, err)
	}
	if errors.Is(err, model.ErrNotNumeric) {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	var tm *model.TypeMismatchError
	if errors.As(err, &tm) {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	if errors.Is(err, docindex.ErrFieldNotIndexed) {
		return fmt.Errorf("%w: %w", ErrFieldNotIndexed, err)
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, wal.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}

// Package store holds the flag persistence layer: the Durable contract for
// the backing store, an in-memory Postgres-like implementation for tests and
// single-instance deployments, the real Postgres implementation, and the
// read-optimized in-memory Cache that serves all evaluations.
package store

import (
	"context"
	"errors"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/flag"
)

// ErrNotFound is returned when no record exists for a key. This is an
// expected outcome, never logged as a fault.
var ErrNotFound = errors.New("flag not found")

// ErrVersionConflict is returned by a conditional write whose expected
// version no longer matches the stored one. Callers re-read and retry.
var ErrVersionConflict = errors.New("flag version conflict")

// Durable is the backing-store contract. The compare-and-swap must be atomic
// at the storage level: in a multi-instance deployment it is the sole
// ordering authority for writes, and no in-process lock can substitute for
// it. Implementations must be safe for concurrent use.
type Durable interface {
	// Read returns the current record for the key, tombstones included.
	// Returns ErrNotFound when no row exists at all.
	Read(ctx context.Context, key flag.Key) (flag.Record, error)

	// CompareAndSwap writes rec only if the stored version for its key
	// equals expectedVersion (0 means no row may exist). On success it
	// appends the mutation to the durable change log and returns the
	// assigned feed sequence; on a lost race it returns ErrVersionConflict
	// without writing.
	CompareAndSwap(ctx context.Context, expectedVersion int64, rec flag.Record) (int64, error)

	// LoadAll returns every live (non-tombstoned) record, used to warm the
	// cache at startup.
	LoadAll(ctx context.Context) ([]flag.Record, error)

	// ReadLog returns up to limit committed entries with Seq > afterSeq in
	// commit order. Used by followers to observe writes made by other
	// instances.
	ReadLog(ctx context.Context, afterSeq int64, limit int) ([]changelog.Entry, error)

	// LastSeq returns the sequence of the newest durable log entry, or 0.
	LastSeq(ctx context.Context) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

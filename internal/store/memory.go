package store

import (
	"context"
	"sync"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/flag"
)

// MemoryDurable is an in-memory implementation of the Durable interface with
// the same CAS and change-log semantics as the Postgres store. Suitable for
// development, testing, or single-instance deployments.
type MemoryDurable struct {
	mu      sync.Mutex
	flags   map[flag.Key]flag.Record // tombstones retained
	log     []changelog.Entry
	lastSeq int64
}

// NewMemoryDurable creates an empty in-memory durable store.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{flags: make(map[flag.Key]flag.Record)}
}

// Read returns the current record for the key, tombstones included.
func (m *MemoryDurable) Read(ctx context.Context, key flag.Key) (flag.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.flags[key]
	if !ok {
		return flag.Record{}, ErrNotFound
	}
	return rec, nil
}

// CompareAndSwap writes rec if the stored version matches expectedVersion
// and appends the mutation to the change log, all under one lock so the
// operation is atomic with respect to concurrent writers.
func (m *MemoryDurable) CompareAndSwap(ctx context.Context, expectedVersion int64, rec flag.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.flags[rec.Key]
	if !ok {
		if expectedVersion != 0 {
			return 0, ErrVersionConflict
		}
	} else if current.Version != expectedVersion {
		return 0, ErrVersionConflict
	}

	m.flags[rec.Key] = rec
	m.lastSeq++
	m.log = append(m.log, changelog.Entry{
		Seq:        m.lastSeq,
		Record:     rec,
		CommitTime: rec.UpdatedAt,
	})
	return m.lastSeq, nil
}

// LoadAll returns every live record.
func (m *MemoryDurable) LoadAll(ctx context.Context) ([]flag.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]flag.Record, 0, len(m.flags))
	for _, rec := range m.flags {
		if !rec.Deleted {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ReadLog returns up to limit entries with Seq > afterSeq in commit order.
func (m *MemoryDurable) ReadLog(ctx context.Context, afterSeq int64, limit int) ([]changelog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []changelog.Entry
	for _, e := range m.log {
		if e.Seq > afterSeq {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// LastSeq returns the newest durable log sequence.
func (m *MemoryDurable) LastSeq(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryDurable) Close() error { return nil }

// Package coordinator turns write intents into committed flag records. It is
// the single authority mediating between concurrent writers and the durable
// store: an in-process version check serializes writers within one instance,
// and the storage-level compare-and-swap settles races between instances.
// Only on a successful durable CAS does a mutation reach the change feed and
// the in-memory cache.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/store"
	"github.com/flagcore/flagcore/internal/telemetry"
)

// ErrConflict is returned when a caller-supplied expected version no longer
// matches the stored one, or when a forced write exhausted its CAS retries.
// The caller re-reads and retries; this is never logged as a fault.
var ErrConflict = errors.New("flag version conflict")

// ErrUnavailable is returned when the durable store stayed unreachable for
// the whole retry budget. It is distinct from Conflict and NotFound: the
// write may or may not have happened, so callers must re-read before
// retrying.
var ErrUnavailable = errors.New("durable store unavailable")

const (
	// defaultForceRetries bounds the internal CAS retry loop taken when the
	// caller passed no expected version ("force" path).
	defaultForceRetries = 3
	// defaultRetryBudget bounds the exponential backoff spent on transient
	// storage failures per durable call.
	defaultRetryBudget = 5 * time.Second
	// Rollout default on create, matching the flag table default.
	defaultRollout = 100
)

// Coordinator applies write intents against a durable store and propagates
// committed mutations to the change feed and cache.
type Coordinator struct {
	durable store.Durable
	cache   *store.Cache
	feed    *changelog.Log
	logger  zerolog.Logger

	// ForceRetries is the number of CAS attempts for forced writes.
	ForceRetries int
	// RetryBudget is the max elapsed time spent retrying a transient
	// storage failure before surfacing ErrUnavailable.
	RetryBudget time.Duration

	now func() time.Time
}

// New creates a coordinator with default retry settings.
func New(durable store.Durable, cache *store.Cache, feed *changelog.Log, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		durable:      durable,
		cache:        cache,
		feed:         feed,
		logger:       logger,
		ForceRetries: defaultForceRetries,
		RetryBudget:  defaultRetryBudget,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Apply validates the intent, assigns the next version, conditionally writes
// it to durable storage, and on success appends to the change feed and
// updates the cache, returning the committed record.
//
// expected is the optimistic-concurrency handle: a non-nil value must match
// the current live version exactly (0 means "the flag must not exist"), and
// a mismatch returns ErrConflict without side effects. A nil expected forces
// the write, retrying a bounded number of times if a concurrent writer wins
// the storage CAS in between.
//
// Error taxonomy: validation errors (flag.Err*) are returned before any side
// effect; ErrConflict and store.ErrNotFound are expected outcomes;
// ErrUnavailable means the retry budget for transient storage failures ran
// out.
func (c *Coordinator) Apply(ctx context.Context, intent flag.Intent, expected *int64) (flag.Record, error) {
	if err := intent.Validate(); err != nil {
		return flag.Record{}, err
	}

	attempts := 1
	if expected == nil {
		attempts = c.ForceRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		rec, err := c.applyOnce(ctx, intent, expected)
		if err == nil {
			telemetry.ApplyTotal.WithLabelValues("ok").Inc()
			return rec, nil
		}
		if errors.Is(err, ErrConflict) {
			telemetry.CASConflicts.Inc()
			if expected == nil {
				// Lost a race on the force path: re-read the fresh
				// version and try again.
				lastErr = err
				continue
			}
		}
		telemetry.ApplyTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return flag.Record{}, err
	}
	telemetry.ApplyTotal.WithLabelValues("conflict").Inc()
	return flag.Record{}, lastErr
}

func (c *Coordinator) applyOnce(ctx context.Context, intent flag.Intent, expected *int64) (flag.Record, error) {
	current, exists, err := c.readCurrent(ctx, intent.Key)
	if err != nil {
		return flag.Record{}, err
	}

	// The version visible to callers: tombstones read as absent, but the
	// stored version keeps the per-key chain strictly increasing across a
	// delete/recreate.
	var liveVersion, storedVersion int64
	if exists {
		storedVersion = current.Version
		if !current.Deleted {
			liveVersion = current.Version
		}
	}

	if expected != nil && *expected != liveVersion {
		return flag.Record{}, ErrConflict
	}
	if intent.Delete && liveVersion == 0 {
		return flag.Record{}, store.ErrNotFound
	}

	next := c.nextRecord(intent, current, exists, storedVersion)

	seq, err := c.casDurable(ctx, storedVersion, next)
	if err != nil {
		return flag.Record{}, err
	}

	c.feed.Append(changelog.Entry{Seq: seq, Record: next, CommitTime: next.UpdatedAt})
	c.cache.Reconcile(next)
	telemetry.ChangeFeedSeq.Set(float64(seq))
	return next, nil
}

// nextRecord merges the intent into the current state and stamps version and
// commit time. Creates (no live record) start from the table defaults:
// enabled=false, rollout=100.
func (c *Coordinator) nextRecord(intent flag.Intent, current flag.Record, exists bool, storedVersion int64) flag.Record {
	now := c.now()

	if intent.Delete {
		return current.Tombstone(storedVersion+1, now)
	}

	next := current
	if !exists || current.Deleted {
		next = flag.Record{
			ID:      uuid.New(),
			Key:     intent.Key,
			Enabled: false,
			Rollout: defaultRollout,
		}
	}
	if intent.Enabled != nil {
		next.Enabled = *intent.Enabled
	}
	if intent.Rollout != nil {
		next.Rollout = *intent.Rollout
	}
	next.Deleted = false
	next.Version = storedVersion + 1
	next.UpdatedAt = now
	return next
}

// readCurrent reads the durable record with transient-failure retries.
// Absence is an expected outcome, not an error.
func (c *Coordinator) readCurrent(ctx context.Context, key flag.Key) (flag.Record, bool, error) {
	rec, err := backoff.Retry(ctx, func() (flag.Record, error) {
		r, err := c.durable.Read(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return flag.Record{}, backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn().Err(err).Stringer("key", key).Msg("transient durable read failure, retrying")
		}
		return r, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(c.RetryBudget))

	if errors.Is(err, store.ErrNotFound) {
		return flag.Record{}, false, nil
	}
	if err != nil {
		c.logger.Error().Err(err).Stringer("key", key).Msg("durable read retry budget exhausted")
		return flag.Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, true, nil
}

// casDurable performs the storage-level compare-and-swap with transient
// retries. A CAS loss is permanent (the caller decides whether to retry with
// a fresh version); a timeout does not assume the write failed, so the
// caller must re-read before any retry.
func (c *Coordinator) casDurable(ctx context.Context, expectedVersion int64, rec flag.Record) (int64, error) {
	seq, err := backoff.Retry(ctx, func() (int64, error) {
		s, err := c.durable.CompareAndSwap(ctx, expectedVersion, rec)
		if errors.Is(err, store.ErrVersionConflict) {
			return 0, backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn().Err(err).Stringer("key", rec.Key).Msg("transient durable CAS failure, retrying")
		}
		return s, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(c.RetryBudget))

	if errors.Is(err, store.ErrVersionConflict) {
		return 0, ErrConflict
	}
	if err != nil {
		c.logger.Error().Err(err).Stringer("key", rec.Key).Msg("durable CAS retry budget exhausted")
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return seq, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

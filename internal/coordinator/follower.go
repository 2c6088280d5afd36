package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/store"
	"github.com/flagcore/flagcore/internal/telemetry"
)

const (
	defaultPollInterval = 2 * time.Second
	followBatchSize     = 256
)

// Follower tails the durable change log and reconciles the local cache and
// in-process feed with mutations committed by other coordinator instances.
// This bounds the propagation delay of a remote write without restarting or
// re-reading full state: only the log suffix after the last applied sequence
// is fetched.
type Follower struct {
	durable store.Durable
	cache   *store.Cache
	feed    *changelog.Log
	logger  zerolog.Logger

	// Interval between polls of the durable log.
	Interval time.Duration
}

// NewFollower creates a follower with the default poll interval.
func NewFollower(durable store.Durable, cache *store.Cache, feed *changelog.Log, logger zerolog.Logger) *Follower {
	return &Follower{
		durable:  durable,
		cache:    cache,
		feed:     feed,
		logger:   logger,
		Interval: defaultPollInterval,
	}
}

// Run tails the durable log until the context is cancelled. Transient read
// failures are logged and retried on the next tick; they never terminate the
// follower.
func (f *Follower) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.CatchUp(ctx); err != nil {
				f.logger.Warn().Err(err).Msg("change log catch-up failed, will retry")
			}
		}
	}
}

// CatchUp applies every durable log entry newer than the local feed position.
// Entries for our own writes are deduplicated by the feed's sequence check.
func (f *Follower) CatchUp(ctx context.Context) error {
	for {
		entries, err := f.durable.ReadLog(ctx, f.feed.LastSeq(), followBatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if f.feed.Append(e) {
				f.cache.Reconcile(e.Record)
				telemetry.ChangeFeedSeq.Set(float64(e.Seq))
			}
		}
		if len(entries) < followBatchSize {
			return nil
		}
	}
}

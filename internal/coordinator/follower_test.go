package coordinator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/store"
)

// Two coordinator instances sharing one durable store but with independent
// caches: the follower must propagate writes made by the other instance.
func TestFollower_PropagatesRemoteWrites(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemoryDurable()

	cacheA := store.NewCache()
	feedA := changelog.New(128)
	instanceA := New(durable, cacheA, feedA, zerolog.Nop())

	cacheB := store.NewCache()
	feedB := changelog.New(128)
	follower := NewFollower(durable, cacheB, feedB, zerolog.Nop())

	if _, err := instanceA.Apply(ctx, createIntent("feature_x", true, 100), ptrVersion(0)); err != nil {
		t.Fatalf("remote write failed: %v", err)
	}

	evB := evaluation.New(cacheB, "salt")
	if d := evB.Evaluate("feature_x", "prod", evaluation.Context{BucketingKey: "user-1"}); d.Reason != evaluation.ReasonNotFound {
		t.Fatalf("instance B should not see the flag before catch-up, got %+v", d)
	}

	if err := follower.CatchUp(ctx); err != nil {
		t.Fatalf("catch-up failed: %v", err)
	}

	if d := evB.Evaluate("feature_x", "prod", evaluation.Context{BucketingKey: "user-1"}); !d.Active {
		t.Errorf("instance B should see the flag after catch-up, got %+v", d)
	}
	if feedB.LastSeq() != 1 {
		t.Errorf("expected feed B at seq 1, got %d", feedB.LastSeq())
	}
}

func TestFollower_DedupesOwnWrites(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemoryDurable()
	cache := store.NewCache()
	feed := changelog.New(128)
	c := New(durable, cache, feed, zerolog.Nop())
	follower := NewFollower(durable, cache, feed, zerolog.Nop())

	_, _ = c.Apply(ctx, createIntent("feature_x", true, 10), ptrVersion(0))
	_, _ = c.Apply(ctx, flag.Intent{Key: flag.Key{Name: "feature_x", Env: "prod"}, Rollout: ptrInt(20)}, ptrVersion(1))

	// Our own writes already reached the feed; tailing the durable log
	// must not duplicate them.
	if err := follower.CatchUp(ctx); err != nil {
		t.Fatalf("catch-up failed: %v", err)
	}

	sub, err := feed.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()

	seen := 0
	for len(sub.C) > 0 {
		<-sub.C
		seen++
	}
	if seen != 2 {
		t.Errorf("expected 2 feed entries, got %d", seen)
	}
}

func TestFollower_PropagatesDeletes(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemoryDurable()

	cacheA := store.NewCache()
	instanceA := New(durable, cacheA, changelog.New(128), zerolog.Nop())

	cacheB := store.NewCache()
	follower := NewFollower(durable, cacheB, changelog.New(128), zerolog.Nop())

	key := flag.Key{Name: "feature_x", Env: "prod"}
	_, _ = instanceA.Apply(ctx, createIntent("feature_x", true, 100), ptrVersion(0))
	_ = follower.CatchUp(ctx)
	if _, ok := cacheB.Get(key); !ok {
		t.Fatal("flag not propagated before delete")
	}

	if _, err := instanceA.Apply(ctx, flag.Intent{Key: key, Delete: true}, ptrVersion(1)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_ = follower.CatchUp(ctx)

	if _, ok := cacheB.Get(key); ok {
		t.Error("tombstone not propagated to follower cache")
	}
}

package evaluation

import (
	"fmt"
	"testing"
	"time"

	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/store"
)

func seed(t *testing.T, cache *store.Cache, name string, enabled bool, rollout int) {
	t.Helper()
	rec := flag.Record{
		Key:       flag.Key{Name: name, Env: "prod"},
		Enabled:   enabled,
		Rollout:   rollout,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	if err := cache.PutIfVersion(rec, 0); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestEvaluate_NotFound(t *testing.T) {
	ev := New(store.NewCache(), "salt")

	d := ev.Evaluate("never_created", "prod", Context{BucketingKey: "user-1"})
	if d.Active {
		t.Error("expected inactive for missing flag")
	}
	if d.Reason != ReasonNotFound {
		t.Errorf("expected reason not_found, got %s", d.Reason)
	}
}

func TestEvaluate_InvalidKeyIsNotFound(t *testing.T) {
	ev := New(store.NewCache(), "salt")

	d := ev.Evaluate("", "prod", Context{BucketingKey: "user-1"})
	if d.Reason != ReasonNotFound {
		t.Errorf("expected reason not_found for empty name, got %s", d.Reason)
	}
	d = ev.Evaluate("feature_x", "nonsense", Context{BucketingKey: "user-1"})
	if d.Reason != ReasonNotFound {
		t.Errorf("expected reason not_found for bad env, got %s", d.Reason)
	}
}

func TestEvaluate_DisabledBeatsRollout(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", false, 100)
	ev := New(cache, "salt")

	// enabled=false, rollout=100 must be inactive for every key.
	for i := 0; i < 100; i++ {
		d := ev.Evaluate("feature_x", "prod", Context{BucketingKey: fmt.Sprintf("user-%d", i)})
		if d.Active {
			t.Fatal("disabled flag evaluated active")
		}
		if d.Reason != ReasonDisabled {
			t.Fatalf("expected reason disabled, got %s", d.Reason)
		}
	}
}

func TestEvaluate_FullRollout(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", true, 100)
	ev := New(cache, "salt")

	d := ev.Evaluate("feature_x", "prod", Context{BucketingKey: "user-1"})
	if !d.Active || d.Reason != ReasonRolloutIncluded {
		t.Errorf("expected active/rollout_included, got %+v", d)
	}

	// rollout=100 includes even an empty bucketing key.
	d = ev.Evaluate("feature_x", "prod", Context{})
	if !d.Active {
		t.Error("expected active at rollout=100 with empty bucketing key")
	}
}

func TestEvaluate_ZeroRollout(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", true, 0)
	ev := New(cache, "salt")

	d := ev.Evaluate("feature_x", "prod", Context{BucketingKey: "user-1"})
	if d.Active || d.Reason != ReasonRolloutExcluded {
		t.Errorf("expected inactive/rollout_excluded, got %+v", d)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", true, 50)
	ev := New(cache, "salt")

	first := ev.Evaluate("feature_x", "prod", Context{BucketingKey: "user-42"})
	for i := 0; i < 50; i++ {
		got := ev.Evaluate("feature_x", "prod", Context{BucketingKey: "user-42"})
		if got != first {
			t.Fatalf("decision changed across calls: %+v then %+v", first, got)
		}
	}
}

func TestEvaluate_ReasonPartition(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", true, 30)
	ev := New(cache, "salt")

	for i := 0; i < 200; i++ {
		d := ev.Evaluate("feature_x", "prod", Context{BucketingKey: fmt.Sprintf("user-%d", i)})
		if d.Active && d.Reason != ReasonRolloutIncluded {
			t.Fatalf("active decision with reason %s", d.Reason)
		}
		if !d.Active && d.Reason != ReasonRolloutExcluded {
			t.Fatalf("inactive decision with reason %s", d.Reason)
		}
	}
}

func TestEvaluate_EnvironmentNormalized(t *testing.T) {
	cache := store.NewCache()
	seed(t, cache, "feature_x", true, 100)
	ev := New(cache, "salt")

	d := ev.Evaluate("feature_x", "PROD", Context{BucketingKey: "user-1"})
	if !d.Active {
		t.Error("expected environment lookup to be case-insensitive")
	}
}

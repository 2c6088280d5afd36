package changelog

import (
	"testing"
	"time"

	"github.com/flagcore/flagcore/internal/flag"
)

func entry(seq, version int64, name string) Entry {
	return Entry{
		Seq: seq,
		Record: flag.Record{
			Key:     flag.Key{Name: name, Env: "prod"},
			Enabled: true,
			Rollout: 50,
			Version: version,
		},
		CommitTime: time.Now().UTC(),
	}
}

func TestAppend_AssignsInOrder(t *testing.T) {
	log := New(10)

	if !log.Append(entry(1, 1, "a")) {
		t.Fatal("first append rejected")
	}
	if !log.Append(entry(2, 2, "a")) {
		t.Fatal("second append rejected")
	}
	if log.LastSeq() != 2 {
		t.Errorf("expected last seq 2, got %d", log.LastSeq())
	}
}

func TestAppend_SkipsDuplicates(t *testing.T) {
	log := New(10)
	log.Append(entry(1, 1, "a"))
	log.Append(entry(2, 2, "a"))

	// Re-delivery of an already-seen sequence (e.g. follower echo of our
	// own write) must be a no-op.
	if log.Append(entry(2, 2, "a")) {
		t.Error("duplicate seq should be skipped")
	}
	if log.LastSeq() != 2 {
		t.Errorf("expected last seq 2, got %d", log.LastSeq())
	}
}

func TestSubscribe_ReplaysBacklogThenLive(t *testing.T) {
	log := New(10)
	log.Append(entry(1, 1, "a"))
	log.Append(entry(2, 2, "a"))

	sub, err := log.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()

	log.Append(entry(3, 3, "a"))

	for want := int64(1); want <= 3; want++ {
		select {
		case e := <-sub.C:
			if e.Seq != want {
				t.Fatalf("expected seq %d, got %d", want, e.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}
}

func TestSubscribe_FromOffset(t *testing.T) {
	log := New(10)
	for i := int64(1); i <= 5; i++ {
		log.Append(entry(i, i, "a"))
	}

	sub, err := log.Subscribe(3)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()

	e := <-sub.C
	if e.Seq != 4 {
		t.Errorf("expected first entry at seq 4, got %d", e.Seq)
	}
}

func TestSubscribe_StrictlyIncreasingPerKey(t *testing.T) {
	log := New(100)
	seq := int64(0)
	for v := int64(1); v <= 20; v++ {
		seq++
		log.Append(entry(seq, v, "a"))
	}

	sub, err := log.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()

	last := int64(0)
	for i := 0; i < 20; i++ {
		e := <-sub.C
		if e.Record.Version != last+1 {
			t.Fatalf("version gap: got %d after %d", e.Record.Version, last)
		}
		last = e.Record.Version
	}
}

func TestSubscribe_OffsetOutsideWindow(t *testing.T) {
	log := New(3)
	for i := int64(1); i <= 10; i++ {
		log.Append(entry(i, i, "a"))
	}

	// Only seqs 8-10 are retained; offset 2 cannot be replayed gap-free.
	if _, err := log.Subscribe(2); err != ErrResyncRequired {
		t.Errorf("expected ErrResyncRequired, got %v", err)
	}

	// Offset 7 is the predecessor of the oldest retained entry and is fine.
	sub, err := log.Subscribe(7)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()
	if e := <-sub.C; e.Seq != 8 {
		t.Errorf("expected seq 8, got %d", e.Seq)
	}
}

func TestSubscription_SlowConsumerTerminated(t *testing.T) {
	log := New(4096)
	sub, err := log.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Never drain; the publisher must eventually terminate us instead of
	// dropping entries.
	for i := int64(1); i <= 2000; i++ {
		log.Append(entry(i, i, "a"))
	}

	// Drain to the close.
	for range sub.C {
	}
	if sub.Err() != ErrResyncRequired {
		t.Errorf("expected ErrResyncRequired after overflow, got %v", sub.Err())
	}
}

func TestSubscription_Cancel(t *testing.T) {
	log := New(10)
	sub, err := log.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	sub.Cancel()

	for range sub.C {
	}
	if sub.Err() != nil {
		t.Errorf("cancelled subscription should have nil err, got %v", sub.Err())
	}

	// Appends after cancellation must not panic.
	log.Append(entry(1, 1, "a"))
}

// Package changelog implements the in-process version feed: an append-only,
// replayable sequence of committed flag mutations. Entries are appended only
// after the durable write succeeded; subscribers resume from a last-seen
// sequence number and receive every later entry in commit order. A bounded
// retention window keeps memory flat; a subscriber whose offset has fallen
// out of the window must reload a snapshot and resubscribe.
package changelog

import (
	"errors"
	"sync"
	"time"

	"github.com/flagcore/flagcore/internal/flag"
)

// ErrResyncRequired is returned when a requested offset is older than the
// retained window. The consumer must reload a full snapshot and resume from
// the snapshot's sequence.
var ErrResyncRequired = errors.New("offset outside retained window, full resync required")

// DefaultRetain is the number of entries kept for replay when no explicit
// retention is configured.
const DefaultRetain = 1024

// subscriber channels get headroom beyond the replay backlog so a briefly
// slow consumer is not immediately overflowed.
const subscriberBuffer = 64

// Entry is one committed mutation. Record carries the key, the per-key
// version, and the tombstone marker; Seq is the feed-global commit order.
type Entry struct {
	Seq        int64       `json:"seq"`
	Record     flag.Record `json:"record"`
	CommitTime time.Time   `json:"commitTime"`
}

// Log is the in-process feed. Appends never block readers; a subscriber that
// cannot keep up is terminated with ErrResyncRequired rather than silently
// dropping entries.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	retain  int
	lastSeq int64
	subs    map[*Subscription]struct{}
}

// New creates a feed retaining the given number of entries for replay.
// retain <= 0 falls back to DefaultRetain.
func New(retain int) *Log {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Log{
		retain: retain,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Append records a committed entry and fans it out to subscribers. Sequence
// numbers are assigned by the durable store, so an entry at or below the
// last appended sequence is a duplicate (own write already appended, or the
// follower re-reading it) and is skipped. Returns whether the entry was
// appended.
func (l *Log) Append(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Seq <= l.lastSeq {
		return false
	}
	l.lastSeq = e.Seq
	l.entries = append(l.entries, e)
	if len(l.entries) > l.retain {
		l.entries = l.entries[len(l.entries)-l.retain:]
	}

	for sub := range l.subs {
		select {
		case sub.ch <- e:
		default:
			// Subscriber buffer full: it can no longer see a gap-free
			// feed, so terminate it with a resync signal instead of
			// dropping the entry.
			sub.fail(ErrResyncRequired)
			delete(l.subs, sub)
		}
	}
	return true
}

// LastSeq returns the sequence of the most recently appended entry, or 0 if
// nothing has been appended.
func (l *Log) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Subscribe returns a subscription delivering every entry with Seq > fromSeq
// in order: first the retained backlog, then live appends. It returns
// ErrResyncRequired if entries after fromSeq are no longer retained.
// fromSeq=0 replays the whole retained window.
func (l *Log) Subscribe(fromSeq int64) (*Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Oldest retained predecessor: everything after fromSeq must still be
	// in the window for the subscriber to see a gap-free feed.
	if len(l.entries) > 0 && fromSeq < l.entries[0].Seq-1 {
		return nil, ErrResyncRequired
	}
	if len(l.entries) == 0 && fromSeq < l.lastSeq {
		return nil, ErrResyncRequired
	}

	var backlog []Entry
	for _, e := range l.entries {
		if e.Seq > fromSeq {
			backlog = append(backlog, e)
		}
	}

	sub := &Subscription{
		log: l,
		ch:  make(chan Entry, len(backlog)+subscriberBuffer),
	}
	sub.C = sub.ch
	for _, e := range backlog {
		sub.ch <- e
	}
	l.subs[sub] = struct{}{}
	return sub, nil
}

func (l *Log) unsubscribe(sub *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[sub]; ok {
		delete(l.subs, sub)
		sub.fail(nil)
	}
}

// Subscription is one consumer of the feed. Read entries from C until it is
// closed, then check Err: nil means the consumer cancelled, ErrResyncRequired
// means it fell behind the retention window.
type Subscription struct {
	C   <-chan Entry
	ch  chan Entry
	log *Log

	mu     sync.Mutex
	closed bool
	err    error
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.log.unsubscribe(s)
}

// Err reports why the channel was closed. It is meaningful only after C has
// been drained and closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

package moderation

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type MuteMode string

const (
	MuteModeDowngrade      MuteMode = "privilege-downgrade"
	MuteModeFallbackDelete MuteMode = "fallback-delete"
)

type MuteRecord struct {
	ID            uint64
	Until         time.Time
	Mode          MuteMode
	PreviousLevel *int
	Reason        string

	ticket *Ticket
}

func (r *MuteRecord) Active(now time.Time) bool {
	return now.Before(r.Until)
}

// subject is the moderation state of a single key. Every field is guarded by
// mu; the engine holds it for the whole duration of an operation.
type subject struct {
	mu sync.Mutex

	name        string
	window      []time.Time
	lastWarning time.Time
	offenses    int
	lastOffense time.Time
	mute        *MuteRecord

	// evicted is set once the subject has been dropped from the store. A
	// caller that locks an evicted subject must acquire a fresh one.
	evicted bool
}

// Snapshot is a point-in-time copy of a subject, safe to hand out.
type Snapshot struct {
	Key            Key
	WindowSize     int
	LastWarning    time.Time
	Offenses       int
	Mute           *MuteRecord
	PendingRestore bool
}

type store struct {
	subjects *xsync.MapOf[Key, *subject]
}

func newStore() *store {
	return &store{
		subjects: xsync.NewMapOf[Key, *subject](),
	}
}

// acquire returns the live subject for key with its lock held.
func (s *store) acquire(key Key) *subject {
	for {
		sub, _ := s.subjects.LoadOrCompute(key, func() *subject {
			return &subject{}
		})
		sub.mu.Lock()
		if !sub.evicted {
			return sub
		}
		sub.mu.Unlock()
	}
}

// evict drops sub from the store. The caller holds sub.mu.
func (s *store) evict(key Key, sub *subject) {
	sub.evicted = true
	s.subjects.Compute(key, func(current *subject, loaded bool) (*subject, bool) {
		return current, loaded && current == sub
	})
}

func (s *store) each(f func(key Key, sub *subject)) {
	s.subjects.Range(func(key Key, sub *subject) bool {
		f(key, sub)
		return true
	})
}

func (s *store) lookup(key Key) (*subject, bool) {
	return s.subjects.Load(key)
}

func (s *store) size() int {
	return s.subjects.Size()
}

// observe drops timestamps older than interval, appends now and returns the
// resulting window size.
func (sub *subject) observe(now time.Time, interval time.Duration) int {
	sub.prune(now, interval)
	sub.window = append(sub.window, now)
	return len(sub.window)
}

func (sub *subject) prune(now time.Time, interval time.Duration) {
	kept := sub.window[:0]
	for _, ts := range sub.window {
		if now.Sub(ts) <= interval {
			kept = append(kept, ts)
		}
	}
	sub.window = kept
}

func (sub *subject) resetWindow() {
	sub.window = nil
}

func (sub *subject) warnedWithin(now time.Time, cooldown time.Duration) bool {
	if sub.lastWarning.IsZero() {
		return false
	}
	return now.Sub(sub.lastWarning) < cooldown
}

func (sub *subject) decay(now time.Time, after time.Duration) bool {
	if after <= 0 || sub.offenses == 0 {
		return false
	}
	if now.Sub(sub.lastOffense) < after {
		return false
	}
	sub.offenses = 0
	sub.lastOffense = time.Time{}
	return true
}

func (sub *subject) snapshot(key Key) Snapshot {
	snap := Snapshot{
		Key:         key,
		WindowSize:  len(sub.window),
		LastWarning: sub.lastWarning,
		Offenses:    sub.offenses,
	}
	if sub.mute != nil {
		rec := *sub.mute
		rec.ticket = nil
		if sub.mute.PreviousLevel != nil {
			level := *sub.mute.PreviousLevel
			rec.PreviousLevel = &level
		}
		snap.Mute = &rec
		snap.PendingRestore = sub.mute.ticket != nil && !sub.mute.ticket.Cancelled()
	}
	return snap
}

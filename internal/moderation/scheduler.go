package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// Ticket is the handle of one scheduled restoration.
type Ticket struct {
	key   Key
	until time.Time

	mu        sync.Mutex
	timer     Timer
	cancelled atomic.Bool
	onStopped func()
}

func (t *Ticket) Key() Key {
	return t.key
}

func (t *Ticket) Until() time.Time {
	return t.until
}

func (t *Ticket) Cancelled() bool {
	return t.cancelled.Load()
}

// Cancel marks the ticket cancelled and stops its timer. It never waits for a
// callback that is already running; such a callback observes the flag and
// returns without effect. Reports whether the timer was still pending.
func (t *Ticket) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled.Store(true)
	if t.timer == nil || !t.timer.Stop() {
		return false
	}
	if t.onStopped != nil {
		t.onStopped()
	}
	return true
}

// Scheduler arms one restoration timer per key. Callers serialize Schedule,
// Cancel and release for the same key.
type Scheduler struct {
	clock   Clock
	pending *xsync.MapOf[Key, *Ticket]

	inflight sync.WaitGroup

	mu         sync.Mutex
	runtimeCtx context.Context
	cancel     context.CancelFunc
	stopped    bool
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		clock:   clock,
		pending: xsync.NewMapOf[Key, *Ticket](),
	}
}

func (s *Scheduler) Name() string {
	return "unmute_scheduler"
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtimeCtx != nil && !s.stopped {
		return nil
	}
	s.runtimeCtx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	return nil
}

// Stop cancels every pending ticket and waits for callbacks in flight.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	s.pending.Range(func(_ Key, t *Ticket) bool {
		t.Cancel()
		return true
	})
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.inflight.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.pending.Clear()
		return nil
	}
}

// Schedule arms a timer that calls fire once until has passed. Any ticket
// already pending for key is cancelled first.
func (s *Scheduler) Schedule(key Key, until time.Time, fire func(ctx context.Context, t *Ticket)) *Ticket {
	t := &Ticket{
		key:       key,
		until:     until,
		onStopped: s.inflight.Done,
	}

	if prev, ok := s.pending.Load(key); ok {
		prev.Cancel()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.cancelled.Store(true)
		log.WithFields(key.Fields()).Warn("scheduler stopped, restoration not armed")
		return t
	}
	runCtx := s.runtimeCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	delay := max(until.Sub(s.clock.Now()), 0)

	t.mu.Lock()
	t.timer = s.clock.AfterFunc(delay, func() {
		defer s.inflight.Done()
		if t.Cancelled() {
			return
		}
		fire(runCtx, t)
	})
	t.mu.Unlock()

	s.pending.Store(key, t)
	pendingRestorations.Set(float64(s.pending.Size()))
	return t
}

func (s *Scheduler) Cancel(key Key) bool {
	t, ok := s.pending.LoadAndDelete(key)
	if !ok {
		return false
	}
	pendingRestorations.Set(float64(s.pending.Size()))
	return t.Cancel()
}

// release forgets t if it is still the pending ticket of its key.
func (s *Scheduler) release(t *Ticket) {
	if cur, ok := s.pending.Load(t.key); ok && cur == t {
		s.pending.Delete(t.key)
		pendingRestorations.Set(float64(s.pending.Size()))
	}
}

// Pending reports whether a live ticket is armed for key.
func (s *Scheduler) Pending(key Key) bool {
	t, ok := s.pending.Load(key)
	return ok && !t.Cancelled()
}

func (s *Scheduler) Len() int {
	n := 0
	s.pending.Range(func(_ Key, t *Ticket) bool {
		if !t.Cancelled() {
			n++
		}
		return true
	})
	return n
}

package moderation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/iamwavecut/ngguard/internal/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errDenied = errors.New("denied")

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and runs due timers in deadline order on the
// calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type setCall struct {
	Key   Key
	Level int
	Until time.Time
}

type stubGateway struct {
	mu sync.Mutex

	levels       map[Key]int
	defaultLevel int
	defaultErr   error

	getErr    error
	setErr    error
	removeErr error
	deleteErr error

	setCalls []setCall
	removed  []Key
	deleted  []int
}

func newStubGateway() *stubGateway {
	return &stubGateway{levels: map[Key]int{}}
}

func (g *stubGateway) GetPrivilegeLevel(_ context.Context, key Key) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return 0, g.getErr
	}
	return g.levels[key], nil
}

func (g *stubGateway) SetPrivilegeLevel(_ context.Context, key Key, level int, until time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setCalls = append(g.setCalls, setCall{Key: key, Level: level, Until: until})
	if g.setErr != nil {
		return g.setErr
	}
	g.levels[key] = level
	return nil
}

func (g *stubGateway) DefaultPrivilegeLevel(context.Context, int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.defaultLevel, g.defaultErr
}

func (g *stubGateway) RemoveUser(_ context.Context, key Key, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, key)
	return g.removeErr
}

func (g *stubGateway) DeleteMessage(_ context.Context, _ int64, messageID int, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return g.deleteErr
}

func (g *stubGateway) setLevels() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, 0, len(g.setCalls))
	for _, c := range g.setCalls {
		out = append(out, c.Level)
	}
	return out
}

func (g *stubGateway) calls() []setCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]setCall(nil), g.setCalls...)
}

func (g *stubGateway) deletedMessages() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.deleted...)
}

func (g *stubGateway) removedKeys() []Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Key(nil), g.removed...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

func (n *recordingNotifier) count(kind NoticeKind) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return Notice{}
	}
	return n.notices[len(n.notices)-1]
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []*db.Sanction
}

func (j *memoryJournal) AddSanction(_ context.Context, sanction *db.Sanction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, sanction)
	return nil
}

func (j *memoryJournal) actions() []db.SanctionAction {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]db.SanctionAction, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	clock     *fakeClock
	gateway   *stubGateway
	notifier  *recordingNotifier
	journal   *memoryJournal
	scheduler *Scheduler
	engine    *Engine
	nextID    int
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		gateway:  newStubGateway(),
		notifier: &recordingNotifier{},
		journal:  &memoryJournal{},
	}
	h.scheduler = NewScheduler(h.clock)
	if err := h.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() {
		_ = h.scheduler.Stop(context.Background())
	})
	h.engine = NewEngine(policy, Deps{
		Gateway:   h.gateway,
		Notifier:  h.notifier,
		Journal:   h.journal,
		Scheduler: h.scheduler,
		Clock:     h.clock,
	})
	return h
}

// post sends n messages from key, one second apart, and returns the Handled
// result of each.
func (h *harness) post(key Key, n int) []bool {
	out := make([]bool, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			h.clock.Advance(time.Second)
		}
		out = append(out, h.send(key))
	}
	return out
}

func (h *harness) send(key Key) bool {
	h.nextID++
	return h.engine.OnMessage(context.Background(), Message{
		Key:       key,
		MessageID: h.nextID,
		Sender:    "spammer",
	})
}

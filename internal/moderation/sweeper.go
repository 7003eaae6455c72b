package moderation

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sweeper periodically drops idle keys from the engine.
type Sweeper struct {
	engine   *Engine
	interval time.Duration

	mu      sync.Mutex
	timer   Timer
	stopped bool
	running sync.WaitGroup
}

// NewSweeper sweeps engine every interval. A non-positive interval disables
// sweeping.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

func (s *Sweeper) Name() string {
	return "subject_sweeper"
}

func (s *Sweeper) Start(context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	s.arm()
	return nil
}

// Stop disarms the next sweep and waits for a running one.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.running.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Sweeper) arm() {
	s.timer = s.engine.clock.AfterFunc(s.interval, s.tick)
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	started := time.Now()
	evicted := s.engine.Sweep(s.engine.clock.Now())
	s.getLogEntry().WithFields(log.Fields{
		"evicted":  evicted,
		"tracked":  s.engine.Subjects(),
		"duration": time.Since(started).String(),
	}).Debug("swept idle subjects")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.arm()
	}
}

func (s *Sweeper) getLogEntry() *log.Entry {
	return log.WithField("object", "SubjectSweeper")
}

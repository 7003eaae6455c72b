package bot

import (
	"context"
	"errors"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/infra"
)

var ErrDispatcherStopped = errors.New("dispatcher is not running")

var updatesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ngguard_updates_total",
	Help: "Updates handed to the processor, by outcome",
}, []string{"result"})

type Processor interface {
	Process(ctx context.Context, u *api.Update) error
}

// Dispatcher fans updates out to a fixed set of workers. Updates of one chat
// always land on the same worker, so they are processed in arrival order.
type Dispatcher struct {
	processor Processor
	workers   int
	queueSize int

	mu         sync.RWMutex
	shards     []chan *api.Update
	runtimeCtx context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewDispatcher(processor Processor, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Dispatcher{
		processor: processor,
		workers:   workers,
		queueSize: queueSize,
	}
}

func (d *Dispatcher) Name() string {
	return "update_dispatcher"
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runtimeCtx != nil {
		return nil
	}

	d.runtimeCtx, d.cancel = context.WithCancel(ctx)
	d.shards = make([]chan *api.Update, d.workers)
	for i := range d.shards {
		d.shards[i] = make(chan *api.Update, d.queueSize)
		d.wg.Add(1)
		go d.work(d.runtimeCtx, d.shards[i])
	}
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.RLock()
	cancel := d.cancel
	d.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	d.mu.Lock()
	dropped := 0
	for _, shard := range d.shards {
		dropped += len(shard)
	}
	d.runtimeCtx, d.cancel, d.shards = nil, nil, nil
	d.mu.Unlock()

	if dropped > 0 {
		d.getLogEntry().WithField("dropped", dropped).Warn("updates left unprocessed on stop")
	}
	return nil
}

// Dispatch queues u for its chat worker, blocking while the queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, u api.Update) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.runtimeCtx == nil || d.runtimeCtx.Err() != nil {
		return ErrDispatcherStopped
	}

	shard := d.shards[d.shardIndex(&u)]
	select {
	case shard <- &u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.runtimeCtx.Done():
		return ErrDispatcherStopped
	}
}

func (d *Dispatcher) shardIndex(u *api.Update) int {
	chat := u.FromChat()
	if chat == nil {
		return 0
	}
	return int(uint64(chat.ID) % uint64(len(d.shards)))
}

func (d *Dispatcher) work(ctx context.Context, updates <-chan *api.Update) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			d.handle(ctx, u)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, u *api.Update) {
	err := infra.Recover("process_update", func() error {
		return d.processor.Process(ctx, u)
	})
	switch {
	case err == nil:
		updatesDispatched.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled):
		updatesDispatched.WithLabelValues("cancelled").Inc()
	default:
		updatesDispatched.WithLabelValues("error").Inc()
		d.getLogEntry().WithField("update_id", u.UpdateID).WithField("error", err.Error()).Error("failed to process update")
	}
}

func (d *Dispatcher) getLogEntry() *log.Entry {
	return log.WithField("object", "Dispatcher")
}

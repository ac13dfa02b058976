// Package dispatch runs envelope processing off the request path on a
// bounded worker pool with admission control.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Defaults applied by New.
const (
	DefaultWorkers     = 8
	DefaultQueueSize   = 256
	DefaultTaskTimeout = 5 * time.Minute
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("dispatch: stopped")
)

// Handler processes one envelope.
type Handler func(ctx context.Context, env chat.Envelope) error

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Handler     Handler
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type task struct {
	id  string
	env chat.Envelope
}

// Dispatcher queues envelopes and processes them on a fixed set of workers.
type Dispatcher struct {
	handler Handler
	workers int
	timeout time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger

	queue chan task

	mu      sync.RWMutex
	stopped bool

	startOnce sync.Once
	baseCtx   context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
}

// New creates a Dispatcher. Workers do not run until Start.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("dispatch: handler is required")
	}
	d := &Dispatcher{
		handler: opts.Handler,
		workers: opts.Workers,
		timeout: opts.TaskTimeout,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTaskTimeout
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.queue = make(chan task, size)
	return d, nil
}

// Start launches the workers. Task contexts keep ctx's values but not its
// cancellation; they are cancelled only when Shutdown gives up waiting.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.baseCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
		for i := 0; i < d.workers; i++ {
			d.group.Go(func() error {
				for t := range d.queue {
					d.run(t)
				}
				return nil
			})
		}
		d.log.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	})
}

// Submit enqueues env without blocking and returns its task id.
func (d *Dispatcher) Submit(env chat.Envelope) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return "", ErrStopped
	}
	t := task{id: uuid.NewString(), env: env}
	select {
	case d.queue <- t:
		return t.id, nil
	default:
		return "", ErrQueueFull
	}
}

// Len returns the number of queued tasks.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Shutdown stops admission and waits for queued and running tasks. If ctx
// ends first, running tasks are cancelled and ctx's error is returned once
// the workers exit.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelBase()
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher drain deadline reached, cancelling tasks", "queued", len(d.queue))
		d.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) cancelBase() {
	if d.cancel != nil {
		d.cancel()
	}
}

// run processes one task. Errors and panics stop here.
func (d *Dispatcher) run(t task) {
	log := d.log.With("task_id", t.id)
	if ev := t.env.Event; ev != nil {
		log = log.With("event_type", ev.Type, "channel", ev.Channel, "ts", ev.TS)
	}

	ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error("task panicked", "panic", p)
			d.metrics.Task("panic")
		}
	}()

	if err := d.handler(ctx, t.env); err != nil {
		log.Error("task failed", "error", err, "elapsed", time.Since(start))
		d.metrics.Task("error")
		return
	}
	log.Debug("task done", "elapsed", time.Since(start))
	d.metrics.Task("ok")
}

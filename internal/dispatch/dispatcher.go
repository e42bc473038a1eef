package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
	// EnqueueTimeout caps how long a blocking Enqueue waits for room.
	// Zero waits for ctx alone.
	EnqueueTimeout time.Duration
}

// Handler consumes one item. It runs on the dispatcher worker goroutine.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher asynchronously forwards items to a handler in enqueue order.
// A nil *Dispatcher is valid and discards everything.
type Dispatcher[T any] struct {
	cfg       Config
	handle    Handler[T]
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	delivered atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a dispatcher with one worker. A nil handler yields a nil
// dispatcher.
func New[T any](cfg Config, handle Handler[T]) *Dispatcher[T] {
	if handle == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &Dispatcher[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.deliver(item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(item T) {
	d.handle(context.Background(), item)
	d.delivered.Add(1)
}

// Enqueue hands item to the worker. With DropIfFull a full buffer drops the
// item and counts it; otherwise Enqueue blocks until there is room, ctx is
// done, EnqueueTimeout elapses, or the dispatcher is closed. It reports
// whether the item was queued.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- item:
		return true
	default:
	}

	if d.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
		defer cancel()
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.done:
		return false
	}
}

// Close stops accepting items, drains the buffer and waits for the worker.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many items were discarded.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many items the handler has finished.
func (d *Dispatcher[T]) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

package mesh

import (
	"context"
	"sync"
)

// Scheduler separates the event loop from blocking RTC work.
type Scheduler interface {
	// Post queues fn to run on the event loop after the current handler.
	Post(fn func())

	// Serial returns a new executor that runs blocking work in order, off the loop.
	Serial() Executor
}

// Executor runs functions one at a time in submission order.
type Executor interface {
	Do(fn func())

	// Stop drops queued work. A function already running is not interrupted.
	Stop()
}

// EventLoop is the single goroutine on which all mesh state changes.
type EventLoop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func NewEventLoop() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *EventLoop) Serial() Executor {
	return &serialExecutor{}
}

// Run executes posted functions until ctx is done. Functions posted while a
// batch runs go to the next batch, so handlers never nest.
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// serialExecutor starts a drain goroutine on demand and lets it exit when
// the queue is empty, so idle links hold no goroutine.
type serialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
}

func (e *serialExecutor) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.queue = append(e.queue, fn)
	if !e.running {
		e.running = true
		go e.drain()
	}
}

func (e *serialExecutor) drain() {
	for {
		e.mu.Lock()
		if e.stopped || len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}

func (e *serialExecutor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.queue = nil
	e.mu.Unlock()
}

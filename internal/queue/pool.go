// Package queue provides the in-process work queue used by the import
// pipeline: a fixed set of workers draining a bounded task channel, plus
// delayed scheduling for completion checks. The bounded channel is the
// backpressure mechanism; Enqueue blocks once the buffer is full.
package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Task is one unit of asynchronous work.
type Task func(ctx context.Context)

// ErrStopped is returned when a task is enqueued after Stop.
var ErrStopped = errors.New("queue: pool stopped")

// Pool runs tasks on a fixed number of worker goroutines.
type Pool struct {
	tasks   chan Task
	workers int

	mu      sync.Mutex
	stopped bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timers  sync.WaitGroup
	once    sync.Once
}

// NewPool builds a pool with the given worker count and task buffer size.
// Non-positive values fall back to one worker and an unbuffered channel.
func NewPool(workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		tasks:   make(chan Task, buffer),
		workers: workers,
	}
}

// Start launches the worker goroutines. Tasks receive a context derived
// from ctx, not from the request that enqueued them.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.baseCtx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.workerLoop()
		}
	})
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

// run executes one task, recovering from panics so a misbehaving unit can
// never take a worker down with it.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: task panic recovered: %v", r)
		}
	}()
	task(p.baseCtx)
}

// Enqueue submits a task, blocking while the buffer is full. It returns an
// error when the caller's context is cancelled or the pool has stopped.
func (p *Pool) Enqueue(ctx context.Context, task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAfter schedules a task to be submitted once the delay elapses.
// The delay is cancelled if the pool shuts down first.
func (p *Pool) EnqueueAfter(delay time.Duration, task Task) {
	p.timers.Add(1)
	go func() {
		defer p.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := p.Enqueue(p.baseCtx, task); err != nil {
				log.Printf("queue: delayed enqueue dropped: %v", err)
			}
		case <-p.baseCtx.Done():
		}
	}()
}

// Stop prevents new submissions, cancels pending delays and waits for the
// workers to finish their current task.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.timers.Wait()
	p.wg.Wait()
}

// Package queue provides a bounded worker pool that limits how many
// yt-dlp runs execute at once.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrDispatcherStopped is returned when submitting after the dispatcher is stopped.
	ErrDispatcherStopped = errors.New("dispatcher has been stopped")
)

// Task is a unit of work. It receives the submitter's context.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Dispatcher manages a pool of workers that run submitted tasks.
type Dispatcher struct {
	jobChan    chan *job
	workerWg   sync.WaitGroup
	numWorkers int
	running    atomic.Int32

	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(numWorkers, queueSize int) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 10
	}

	return &Dispatcher{
		jobChan:    make(chan *job, queueSize),
		numWorkers: numWorkers,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Starting dispatcher",
		"workers", d.numWorkers,
		"queue_size", cap(d.jobChan),
	)

	for i := 0; i < d.numWorkers; i++ {
		d.workerWg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.workerWg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for {
		select {
		case j := <-d.jobChan:
			d.run(id, j)

		case <-ctx.Done():
			slog.Debug("Worker stopping (context canceled)", "worker_id", id)
			return

		case <-d.stopCh:
			slog.Debug("Worker stopping (stop signal)", "worker_id", id)
			return
		}
	}
}

func (d *Dispatcher) run(id int, j *job) {
	// Submitter gave up while queued
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}

	d.running.Add(1)
	defer d.running.Add(-1)

	slog.Debug("Worker running task", "worker_id", id)

	j.done <- j.task(j.ctx)
}

// Submit queues task and waits for its result. It fails fast with
// ErrQueueFull when the queue is at capacity and returns ctx.Err() if ctx is
// done before the task finishes.
func (d *Dispatcher) Submit(ctx context.Context, task Task) error {
	j := &job{ctx: ctx, task: task, done: make(chan error, 1)}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return ErrDispatcherStopped
	}
	select {
	case d.jobChan <- j:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		slog.Warn("Queue is full", "queue_size", len(d.jobChan))
		return ErrQueueFull
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers and waits for running tasks to return. Tasks still
// queued fail with ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stopCh)
	d.mu.Unlock()

	slog.Info("Stopping dispatcher...")

	d.workerWg.Wait()

	for {
		select {
		case j := <-d.jobChan:
			j.done <- ErrDispatcherStopped
		default:
			slog.Info("Dispatcher stopped")
			return
		}
	}
}

// QueueSize returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueSize() int {
	return len(d.jobChan)
}

// Running returns the number of tasks currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// WorkerCount returns the number of workers.
func (d *Dispatcher) WorkerCount() int {
	return d.numWorkers
}

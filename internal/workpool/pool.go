// Package workpool provides a bounded goroutine pool shared by several
// batches of work. A batch is a barrier: Wait returns once every task
// submitted to it has finished.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the pool size used when a non-positive size is given.
const DefaultSize = 5

// Pool limits how many tasks run at once across all of its batches.
// Submission is safe from multiple goroutines.
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	running atomic.Int64
	peak    atomic.Int64
}

// New creates a pool running at most size tasks at a time.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Peak returns the highest number of tasks that ran simultaneously.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Batch starts a new group of tasks on the pool.
func (p *Pool) Batch() *Batch {
	return &Batch{pool: p}
}

// Batch is a group of tasks joined by Wait.
type Batch struct {
	pool *Pool
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Go schedules task. Admission is not cancellable: once submitted, a task
// always runs to completion.
func (b *Batch) Go(task func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Acquire only fails on context cancellation.
		_ = b.pool.sem.Acquire(context.Background(), 1)
		defer b.pool.sem.Release(1)

		b.pool.enter()
		defer b.pool.running.Add(-1)
		defer b.recover()

		task()
	}()
}

// Wait blocks until every task of the batch returned. It reports the first
// task that panicked, if any.
func (b *Batch) Wait() error {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Batch) recover() {
	if r := recover(); r != nil {
		b.mu.Lock()
		if b.err == nil {
			b.err = &PanicError{Value: r}
		}
		b.mu.Unlock()
	}
}

func (p *Pool) enter() {
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// PanicError carries the value a task panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workpool: task panicked: %v", e.Value)
}

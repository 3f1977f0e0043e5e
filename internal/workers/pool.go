// ABOUTME: Keyed worker pool; every task for one key runs on the same worker, in order
// ABOUTME: Different keys spread over workers by FNV hash so conversations progress in parallel
package workers

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
)

// ErrStopped is returned by Dispatch after Stop
var ErrStopped = errors.New("worker pool stopped")

// DefaultQueueSize bounds each worker's backlog
const DefaultQueueSize = 100

// Task is one unit of work for a key
type Task struct {
	Key string
	Fn  func()
}

// Pool routes tasks to a fixed set of workers
type Pool struct {
	queues []chan Task
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts n workers with the given per-worker queue size
func NewPool(n, queueSize int) *Pool {
	if n < 1 {
		n = 1
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	p := &Pool{queues: make([]chan Task, n)}
	for i := range p.queues {
		q := make(chan Task, queueSize)
		p.queues[i] = q
		p.wg.Add(1)
		go p.run(i, q)
	}
	return p
}

func (p *Pool) run(id int, q chan Task) {
	defer p.wg.Done()
	for task := range q {
		p.execute(id, task)
	}
}

func (p *Pool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker-%d] panic processing key=%s: %v", id, task.Key, r)
		}
	}()
	task.Fn()
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.queues)
}

// WorkerFor returns the worker index that owns key
func (p *Pool) WorkerFor(key string) int {
	return int(HashString(key) % uint32(len(p.queues)))
}

// Dispatch queues fn on the worker owning key. It blocks while that worker's
// queue is full, until ctx is done.
func (p *Pool) Dispatch(ctx context.Context, key string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queues[p.WorkerFor(key)] <- Task{Key: key, Fn: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued tasks and waits for the workers to exit
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// HashString is the 32-bit FNV-1a hash of s
func HashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Package workerpool runs tasks on a fixed set of goroutines. Tasks that
// share a key run one at a time in submission order; tasks with different
// keys may run in parallel.
package workerpool

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/gatewatch/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool is a bounded pool of shard workers. Each key hashes to one shard,
// and each shard has its own queue and a single goroutine.
type Pool struct {
	shards []chan Task
	wg     sync.WaitGroup

	mu        sync.RWMutex
	accepting bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool with workers shards, each with a queue of queueSize.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		shards:    make([]chan Task, workers),
		accepting: true,
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := range p.shards {
		p.shards[i] = make(chan Task, queueSize)
		go p.worker(p.shards[i])
	}

	log.Info("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Context is cancelled once Drain returns. Long tasks can watch it.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues task on the shard owning key. It returns false if the
// pool is stopped or that shard's queue is full; the task is then dropped.
func (p *Pool) Submit(key string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return false
	}

	// wg.Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.shards[p.shardFor(key)] <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected", logging.KeyUserID, key)
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
}

// Drain stops new submissions and waits for queued and in-flight tasks to
// finish or for ctx to expire, whichever is first. Worker goroutines exit
// once their queues are empty.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.shards {
			close(q)
		}
	}
	p.mu.Unlock()
	p.cancel()
}

// Shutdown is StopAccepting followed by Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pool) worker(queue chan Task) {
	for task := range queue {
		p.runTask(task)
	}
}

// runTask executes a single task with panic recovery. wg.Done matches the
// wg.Add in Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

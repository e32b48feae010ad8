package tutor

import (
	"log/slog"
	"sync"
)

// WorkerPool runs model-call tasks on a bounded set of workers shared across
// all sessions. It is sized once at process startup and is the only resource
// sessions share.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool starts workers goroutines consuming a queue of queueSize.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}

	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task without blocking. It returns ErrPoolClosed after
// Close and ErrPoolSaturated when the queue is full, so callers holding
// their own locks are never stalled by a busy pool.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	// Holding the lock across the send keeps Close from racing the enqueue.
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Debug("worker pool drained")
}

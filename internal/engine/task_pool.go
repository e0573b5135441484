package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/robi/internal/metrics"
)

// Task is one unit of background work. Name labels logs and metrics.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskPool runs tasks on a fixed set of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the task is dropped.
// Tasks run on a background context so they outlive the connection that
// scheduled them.
type TaskPool struct {
	config Config
	queue  chan Task
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewTaskPool creates a task pool. Call Start before submitting.
func NewTaskPool(cfg Config) (*TaskPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &TaskPool{
		config: cfg,
		queue:  make(chan Task, cfg.QueueSize),
	}, nil
}

// Start launches the workers.
func (p *TaskPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("engine: started %d background workers", p.config.NumWorkers)
}

// Submit queues a task. It reports false when the queue is full or the pool
// is stopped.
func (p *TaskPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		log.Printf("WARNING: engine: pool stopped, dropping task %s", task.Name)
		metrics.TaskFinished(task.Name, "dropped")
		return false
	}

	select {
	case p.queue <- task:
		return true
	default:
		log.Printf("WARNING: engine: task queue full (size=%d), dropping task %s", p.config.QueueSize, task.Name)
		metrics.TaskFinished(task.Name, "dropped")
		return false
	}
}

// QueueLength returns the number of tasks waiting.
func (p *TaskPool) QueueLength() int {
	return len(p.queue)
}

func (p *TaskPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(id, task)
	}
}

func (p *TaskPool) run(workerID int, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: engine: worker %d task %s panicked: %v", workerID, task.Name, r)
			metrics.TaskFinished(task.Name, "panic")
		}
	}()

	if err := task.Run(ctx); err != nil {
		log.Printf("ERROR: engine: worker %d task %s failed: %v", workerID, task.Name, err)
		metrics.TaskFinished(task.Name, "error")
		return
	}
	metrics.TaskFinished(task.Name, "ok")
}

// Stop closes the queue and waits for queued tasks to drain, up to
// ShutdownTimeout or until ctx is done.
func (p *TaskPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("engine: all background workers finished")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		log.Printf("WARNING: engine: shutdown timeout reached, %d tasks may be dropped", p.QueueLength())
		return nil
	case <-ctx.Done():
		log.Printf("WARNING: engine: context cancelled, %d tasks may be dropped", p.QueueLength())
		return ctx.Err()
	}
}

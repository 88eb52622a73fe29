package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue implements Queue using a buffered channel
type MemoryQueue struct {
	items     chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		items: make(chan Job, config.BatchSize*50),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds a job to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain adds queued jobs to batch without blocking.
func (q *MemoryQueue) drain(batch []Job, maxItems int) []Job {
	for len(batch) < maxItems {
		select {
		case job := <-q.items:
			batch = append(batch, job)
		default:
			return batch
		}
	}
	return batch
}

// Dequeue retrieves jobs from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	select {
	case job := <-q.items:
		return q.drain([]Job{job}, maxItems), nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DequeueWithTimeout retrieves jobs with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.items:
		return q.drain([]Job{job}, maxItems), nil
	case <-timer.C:
		return []Job{}, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close shuts down the queue. Blocked consumers return ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue using in-memory storage
type MemoryDeadLetterQueue struct {
	items  []DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make([]DeadLetterItem, 0),
	}
}

// Add adds a failed job to the dead letter queue
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, job Job, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, newDeadLetterItem(job, err))
	return nil
}

// List retrieves items from the dead letter queue, oldest first
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove removes an item from the dead letter queue
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

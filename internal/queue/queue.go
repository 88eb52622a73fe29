// Package queue carries reconciliation jobs from the scheduler and the HTTP layer to
// the reconcile worker. Two backends share one interface:
//
//  1. Memory queue (channel-based): no persistence, no external dependencies. Used
//     when REDIS_ADDRESS is empty (development, single-node deployments).
//
//  2. Redis queue (Redis list): survives restarts and lets several server replicas
//     share one worker pool.
//
// Jobs that keep failing after MaxRetries attempts land in a dead-letter queue.
//
//	┌───────────┐   ┌──────────────┐
//	│ cron tick │   │ PUT /credit  │
//	└─────┬─────┘   └──────┬───────┘
//	      │ one job per key│
//	      ▼                ▼
//	   ┌──────────────────────┐
//	   │   reconcile queue    │
//	   └──────────┬───────────┘
//	              ▼
//	   ┌──────────────────────┐  retry   ┌─────┐
//	   │   reconcile worker   │ ───────▶ │ DLQ │
//	   └──────────────────────┘          └─────┘
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Triggers record why a job was enqueued.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Job asks for one key's deposit wallet to be reconciled.
type Job struct {
	ID         string    `json:"id"`
	KeyID      uuid.UUID `json:"key_id"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job for keyID.
func NewJob(keyID uuid.UUID, trigger string) Job {
	return Job{
		ID:         uuid.NewString(),
		KeyID:      keyID,
		Trigger:    trigger,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue defines the interface for job queuing
type Queue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job Job) error

	// Dequeue retrieves up to maxItems jobs.
	// Blocks until at least one job is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]Job, error)

	// DequeueWithTimeout retrieves jobs with a timeout
	// Returns jobs if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Job, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds jobs that exhausted their retries.
type DeadLetterQueue interface {
	Add(ctx context.Context, job Job, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed job with its last error.
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Job       Job       `json:"job"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of jobs to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait for the first job of a batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    20,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}

func newDeadLetterItem(job Job, err error) DeadLetterItem {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Job:       job,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}

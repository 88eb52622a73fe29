package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gas_oracle/internal/logging"
	"gas_oracle/internal/queue"
	"gas_oracle/internal/storage"
	"gas_oracle/internal/utils"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// KeyReconciler is the part of Reconciler the worker drives.
type KeyReconciler interface {
	ReconcileKey(ctx context.Context, id uuid.UUID) (*Result, error)
}

// Worker drains reconcile jobs from a queue
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	reconciler  KeyReconciler
	config      *queue.Config
	logger      *logging.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a new reconcile worker
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, r KeyReconciler, config *queue.Config, logger *logging.Logger) *Worker {
	if config == nil {
		config = queue.DefaultConfig("reconcile")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		reconciler:  r,
		config:      config,
		logger:      logger,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue schedules a reconciliation of keyID.
func (w *Worker) Enqueue(ctx context.Context, keyID uuid.UUID, trigger string) error {
	return w.queue.Enqueue(ctx, queue.NewJob(keyID, trigger))
}

// EnqueueAll schedules one job per key. It is the cron entry point.
func (w *Worker) EnqueueAll(ctx context.Context, keys KeyStore) error {
	all, err := keys.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for _, k := range all {
		if err := w.Enqueue(ctx, k.ID, queue.TriggerSchedule); err != nil {
			return fmt.Errorf("enqueue %s: %w", k.ID, err)
		}
	}
	w.logger.Debug("Reconcile jobs enqueued", "count", len(all))
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	// Dequeue blocks on ctx, so stopping cancels it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Reconcile worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Reconcile worker context cancelled")
			return
		default:
			if err := w.processBatch(ctx); errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("Reconcile queue closed")
				return
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	jobs, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return err
		}
		w.logger.Error("Failed to dequeue reconcile jobs", "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return err
	}

	if len(jobs) == 0 {
		return nil
	}

	w.logger.Debug("Processing reconcile batch", "count", len(jobs))
	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			w.logger.Error("Failed to reconcile key", "key_id", job.KeyID, "error", err)
		}
	}
	return nil
}

// processJob reconciles one key with exponential backoff. Unknown keys are dropped;
// unrecoverable errors skip the remaining attempts; anything else that keeps
// failing goes to the dead-letter queue.
func (w *Worker) processJob(ctx context.Context, job queue.Job) error {
	backoff := retry.WithMaxRetries(uint64(w.config.MaxRetries), retry.NewExponential(w.config.RetryBackoff))

	var lastErr error
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		_, err := w.reconciler.ReconcileKey(ctx, job.KeyID)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, storage.ErrAPIKeyNotFound) || !utils.IsRecoverableError(err) {
			return err
		}
		w.logger.Debug("Reconcile attempt failed", "key_id", job.KeyID, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if errors.Is(lastErr, storage.ErrAPIKeyNotFound) {
		w.logger.Warn("Dropping reconcile job for unknown key", "key_id", job.KeyID)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, job, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Reconcile job moved to DLQ", "key_id", job.KeyID, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *Worker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *Worker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed job and removes it from the DLQ.
func (w *Worker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, queue.NewJob(item.Job.KeyID, queue.TriggerManual)); err != nil {
			return fmt.Errorf("failed to re-enqueue job: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}

// Package scheduler runs the periodic background jobs (history sampling, deposit
// reconciliation, session sweeping) on a shared cron instance.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"gas_oracle/internal/logging"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs named jobs at fixed intervals. A run is skipped while the previous
// run of the same job is still going, and panics are recovered.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a scheduler. Each run gets a context that is cancelled on Stop and,
// when timeout > 0, after timeout.
func New(timeout time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	adapter := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger,
	}
}

// Every registers fn to run every interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := s.cron.AddJob(fmt.Sprintf("@every %s", interval), cron.FuncJob(func() {
		s.run(name, fn)
	}))
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "interval", interval)
	return nil
}

// RunNow runs a registered-style job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(name string, fn func(ctx context.Context) error) {
	s.run(name, fn)
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

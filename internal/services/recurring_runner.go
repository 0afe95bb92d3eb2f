package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	applog "bizxpense/internal/log"
)

// RunnerConfig holds configuration for the recurring runner
type RunnerConfig struct {
	// Interval between processing passes (default: 1h)
	Interval time.Duration
}

// DefaultRunnerConfig returns sensible defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Interval: time.Hour}
}

// RecurringRunner drives ProcessAllDue on startup and then on a fixed interval.
type RecurringRunner struct {
	processor *RecurringProcessor
	config    RunnerConfig
	now       func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecurringRunner(processor *RecurringProcessor, config RunnerConfig) *RecurringRunner {
	if config.Interval <= 0 {
		config.Interval = DefaultRunnerConfig().Interval
	}
	return &RecurringRunner{processor: processor, config: config, now: time.Now}
}

// Start begins the processing loop. Returns an error if already running.
func (r *RecurringRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recurring runner is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	applog.FromContext(ctx).WithComponent(applog.ComponentWorker).InfoContext(ctx, "Recurring runner started",
		"interval", r.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (r *RecurringRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	logger := applog.FromContext(ctx).WithComponent(applog.ComponentWorker)
	select {
	case <-doneCh:
		logger.InfoContext(ctx, "Recurring runner stopped gracefully")
	case <-ctx.Done():
		logger.WarnContext(ctx, "Recurring runner stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// IsRunning returns whether the runner is currently running
func (r *RecurringRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RecurringRunner) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Process immediately on startup
	r.RunOnce(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass over all users; errors are logged.
func (r *RecurringRunner) RunOnce(ctx context.Context) ProcessResult {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentWorker)
	res, err := r.processor.ProcessAllDue(ctx, r.now())
	if err != nil {
		logger.ErrorContext(ctx, "Recurring pass finished with errors", applog.FieldError, err)
	}
	if res.Generated > 0 {
		logger.InfoContext(ctx, "Recurring pass generated expenses",
			applog.FieldProcessed, res.Processed,
			applog.FieldGenerated, res.Generated)
	}
	return res
}

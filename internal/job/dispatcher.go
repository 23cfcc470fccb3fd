// Package job runs background work for recordings: one worker goroutine per
// job, deduplicated by key, with exponential backoff between retries.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result tells the dispatcher what to do after an attempt.
type Result int

const (
	// Success ends the job.
	Success Result = iota
	// Retry schedules another attempt until the attempt ceiling is hit.
	Retry
	// Failure ends the job without further attempts. The work function has
	// already persisted whatever failure state it wants.
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 10 * time.Second
)

type Config struct {
	// MaxAttempts is the total number of attempts per job, first try
	// included.
	MaxAttempts int

	// BackoffBase is the delay before the second attempt; each further
	// attempt doubles it.
	BackoffBase time.Duration

	Logger *slog.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// Dispatcher owns the in-flight job set. A key identifies one logical piece
// of work ("transcribe:42"); enqueueing a key already in flight is a no-op.
type Dispatcher struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]bool),
	}
}

// Enqueue starts the job unless the same key is already in flight. It
// reports whether the job was accepted.
func (d *Dispatcher) Enqueue(key string, run func(ctx context.Context) Result) bool {
	d.mu.Lock()
	if d.active[key] {
		d.mu.Unlock()
		d.cfg.Logger.Debug("job already in flight", "key", key)
		return false
	}
	select {
	case <-d.ctx.Done():
		d.mu.Unlock()
		return false
	default:
	}
	d.active[key] = true
	d.wg.Add(1)
	d.mu.Unlock()

	runID := uuid.NewString()
	go d.work(key, runID, run)
	return true
}

func (d *Dispatcher) work(key, runID string, run func(ctx context.Context) Result) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.active, key)
		d.mu.Unlock()
	}()

	logger := d.cfg.Logger.With("key", key, "run_id", runID)
	logger.Info("job started")

	for attempt := 1; ; attempt++ {
		result := run(d.ctx)
		switch result {
		case Success:
			logger.Info("job finished", "attempts", attempt)
			return
		case Failure:
			logger.Warn("job failed permanently", "attempts", attempt)
			return
		}

		if attempt >= d.cfg.MaxAttempts {
			logger.Warn("job exhausted attempts", "attempts", attempt)
			return
		}

		delay := d.cfg.BackoffBase << (attempt - 1)
		logger.Info("job retrying", "attempt", attempt, "delay", delay)
		if !d.cfg.sleep(d.ctx, delay) {
			logger.Info("job abandoned during shutdown", "attempts", attempt)
			return
		}
	}
}

// Shutdown stops accepting work and waits for in-flight jobs, up to the
// context deadline. Jobs sleeping between retries are woken and abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

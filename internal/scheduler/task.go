package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"
)

var ErrRunInProgress = errors.New("sweep already running")

// SweepReport summarizes one sweep of one run.
type SweepReport struct {
	Sweep       string `json:"sweep"`
	Scanned     int    `json:"scanned"`
	Processed   int    `json:"processed"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RunReport struct {
	Task       string        `json:"task"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Sweeps     []SweepReport `json:"sweeps"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	SkippedRun bool          `json:"skipped_run,omitempty"`
}

// Task is one idempotent unit of scheduled work. Run must stop between
// orders once ctx is done.
type Task interface {
	Name() string
	Run(ctx context.Context) ([]SweepReport, error)
}

// Runner executes a Task on a ticker or on demand, never overlapping with
// itself, and bounds each run with a soft timeout.
type Runner struct {
	task     Task
	locker   Locker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRunner(task Task, locker Locker, interval, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		task:     task,
		locker:   locker,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (r *Runner) Name() string {
	return r.task.Name()
}

func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			r.logger.Error("scheduled run failed", "task", r.task.Name(), "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single run. A run that is already in progress, here or
// on another instance sharing the locker, makes it return ErrRunInProgress.
func (r *Runner) RunOnce(ctx context.Context) (RunReport, error) {
	report := RunReport{Task: r.task.Name(), StartedAt: time.Now().UTC()}

	// The lock outlives the soft timeout a little so a run that overshoots
	// while finishing its current order is still exclusive.
	unlock, ok, err := r.locker.TryLock(ctx, "sweep:"+r.task.Name(), r.timeout+30*time.Second)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues(r.task.Name(), "lock_error").Inc()
		return report, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		metrics.SweepRunsTotal.WithLabelValues(r.task.Name(), "skipped").Inc()
		report.SkippedRun = true
		return report, ErrRunInProgress
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sweeps, err := r.task.Run(runCtx)
	report.Sweeps = sweeps
	report.Duration = time.Since(report.StartedAt)
	report.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	metrics.SweepDuration.WithLabelValues(r.task.Name()).Observe(report.Duration.Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case report.TimedOut:
		outcome = "timeout"
	}
	metrics.SweepRunsTotal.WithLabelValues(r.task.Name(), outcome).Inc()

	attrs := []any{"task", r.task.Name(), "duration", report.Duration, "timed_out", report.TimedOut}
	for _, s := range sweeps {
		attrs = append(attrs, s.Sweep, fmt.Sprintf("scanned=%d processed=%d skipped=%d failed=%d", s.Scanned, s.Processed, s.Skipped, s.Failed))
	}
	r.logger.Info("sweep run finished", attrs...)

	return report, err
}

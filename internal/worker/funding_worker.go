// Package worker runs the scheduled monthly funding job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"accantona/internal/middleware/trace"
	"accantona/internal/services"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned by RunOnce while another run is in flight.
var ErrAlreadyRunning = errors.New("funding run already in progress")

// Applier funds every workspace for the month containing now.
type Applier interface {
	ApplyAll(ctx context.Context, now time.Time) ([]services.ApplyResult, error)
}

// RunSummary describes one funding run.
type RunSummary struct {
	StartedAt     time.Time
	Duration      time.Duration
	Workspaces    int
	Funded        int
	AlreadyFunded int
	NotFundable   int
	Failed        int
	Err           error
}

// FundingWorker triggers ApplyAll on a cron schedule. Runs never overlap;
// a tick that fires while a run is in flight is skipped.
type FundingWorker struct {
	applier  Applier
	schedule cron.Schedule
	spec     string
	cron     *cron.Cron
	now      func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *RunSummary
}

// NewFundingWorker parses spec as a standard five-field cron expression.
func NewFundingWorker(applier Applier, spec string) (*FundingWorker, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse funding schedule %q: %w", spec, err)
	}
	return &FundingWorker{
		applier:  applier,
		schedule: schedule,
		spec:     spec,
		now:      time.Now,
	}, nil
}

// RunOnce applies the contributions of the current month to every
// workspace. Running it again in the same month writes nothing.
func (w *FundingWorker) RunOnce(ctx context.Context) (RunSummary, error) {
	if !w.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrAlreadyRunning
	}
	defer w.running.Store(false)

	ctx, runID := trace.EnsureRequestID(ctx)
	start := w.now()
	slog.InfoContext(ctx, "Funding run started", "run_id", runID, "month", start.Format("2006-01"))

	results, err := w.applier.ApplyAll(ctx, start)
	summary := RunSummary{
		StartedAt:  start,
		Duration:   time.Since(start),
		Workspaces: len(results),
		Err:        err,
	}
	for _, res := range results {
		summary.Funded += len(res.Funded)
		summary.AlreadyFunded += res.AlreadyFunded
		summary.NotFundable += res.NotFundable
		summary.Failed += res.Failed
	}

	w.mu.Lock()
	w.last = &summary
	w.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "Funding run finished with failures",
			"run_id", runID,
			"workspaces", summary.Workspaces,
			"funded", summary.Funded,
			"failed", summary.Failed,
			"error", err)
		return summary, err
	}
	slog.InfoContext(ctx, "Funding run complete",
		"run_id", runID,
		"workspaces", summary.Workspaces,
		"funded", summary.Funded,
		"already_funded", summary.AlreadyFunded,
		"not_fundable", summary.NotFundable,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, nil
}

// Start schedules RunOnce. Jobs run with ctx, so cancelling it aborts a run
// in progress. Call Stop to wait for the scheduler to drain.
func (w *FundingWorker) Start(ctx context.Context) {
	w.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{})))
	w.cron.Schedule(w.schedule, cron.FuncJob(func() {
		if _, err := w.RunOnce(ctx); errors.Is(err, ErrAlreadyRunning) {
			slog.WarnContext(ctx, "Skipping funding tick, previous run still in progress")
		}
	}))
	w.cron.Start()

	slog.InfoContext(ctx, "Funding worker scheduled", "schedule", w.spec, "next_run", w.Next().Format(time.RFC3339))
}

// Stop stops the scheduler and waits for a running job until ctx is done.
func (w *FundingWorker) Stop(ctx context.Context) error {
	if w.cron == nil {
		return nil
	}
	select {
	case <-w.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("funding worker stop: %w", ctx.Err())
	}
}

// Next returns the next scheduled run after now.
func (w *FundingWorker) Next() time.Time {
	return w.schedule.Next(w.now())
}

// LastRun returns the summary of the most recent run, if any.
func (w *FundingWorker) LastRun() (RunSummary, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return RunSummary{}, false
	}
	return *w.last, true
}

// cronLogger routes the scheduler's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(msg, append(keysAndValues, "error", err)...)
}

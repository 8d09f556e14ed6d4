// Package schedule runs recurring acquisition jobs. A single loop polls for
// due jobs and runs them one at a time; jobs can also be triggered out of
// band with RunNow.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/metrics"
	"github.com/jmylchreest/carwatch/internal/model"
)

// DefaultPollInterval is how often the loop looks for due jobs.
const DefaultPollInterval = time.Minute

// DefaultMaxPages caps a job's page budget when none is given.
const DefaultMaxPages = 50

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store persists jobs and their runs. *store.Store satisfies it.
type Store interface {
	InsertJob(ctx context.Context, j model.Job) error
	SaveJob(ctx context.Context, j model.Job) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, includeInactive bool) ([]model.Job, error)
	DueJobs(ctx context.Context, now time.Time) ([]model.Job, error)
	StartJobRun(ctx context.Context, jobID string, started time.Time) (int64, error)
	FinishJobRun(ctx context.Context, run model.JobRun) error
	JobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error)
}

// Runner performs one acquisition and commits it.
type Runner interface {
	RunAcquisition(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.SessionStats, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.SessionStats, error)

// RunAcquisition calls fn.
func (fn RunnerFunc) RunAcquisition(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.SessionStats, error) {
	return fn(ctx, f, pageBudget, withDetails)
}

// Config holds engine configuration.
type Config struct {
	PollInterval time.Duration
}

// Engine owns the scheduling loop and job CRUD.
type Engine struct {
	store    Store
	runner   Runner
	validate *validator.Validate
	interval time.Duration

	now   func() time.Time
	newID func() string

	// jobMu makes job bodies strictly sequential, loop and RunNow alike.
	jobMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine.
func New(store Store, runner Runner, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Engine{
		store:    store,
		runner:   runner,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		interval: cfg.PollInterval,
		now:      time.Now,
		newID:    func() string { return uuid.NewString()[:8] },
	}
}

// Start launches the polling loop. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)
	logger.Info("scheduler started", "poll_interval", e.interval)
}

// Stop ends the loop. A job already running finishes first; the wait for
// the next poll is cancelled. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		e.poll(ctx)
		timer.Reset(e.interval)
	}
}

// poll runs every due job in turn. Jobs run on a context detached from the
// loop so Stop never interrupts one halfway.
func (e *Engine) poll(ctx context.Context) {
	due, err := e.store.DueJobs(ctx, e.now())
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("failed to query due jobs", "error", err)
		}
		return
	}
	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		logger.Info("running scheduled job", "job", job.ID, "name", job.Name)
		if _, err := e.runJob(context.WithoutCancel(ctx), job); err != nil {
			logger.Error("scheduled job bookkeeping failed", "job", job.ID, "error", err)
		}
	}
}

// RunNow executes a job immediately, outside the poll cycle.
func (e *Engine) RunNow(ctx context.Context, jobID string) (model.JobRun, error) {
	job, err := e.GetJob(ctx, jobID)
	if err != nil {
		return model.JobRun{}, err
	}
	return e.runJob(ctx, job)
}

// runJob is the job body: record a running JobRun, acquire and commit,
// record the outcome, then advance the job's schedule. A failing or
// panicking acquisition produces a failed run, not an error; the error is
// reserved for bookkeeping failures.
func (e *Engine) runJob(ctx context.Context, job model.Job) (model.JobRun, error) {
	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	started := e.now()
	runID, err := e.store.StartJobRun(ctx, job.ID, started)
	if err != nil {
		return model.JobRun{}, fmt.Errorf("start job run: %w", err)
	}
	run := model.JobRun{ID: runID, JobID: job.ID, StartedAt: started, Status: model.StatusRunning}

	e.execute(ctx, job, &run)

	finished := e.now()
	run.FinishedAt = &finished
	metrics.JobRunsTotal.WithLabelValues(string(run.Status)).Inc()

	// bookkeeping must land even if the caller gave up
	bctx := context.WithoutCancel(ctx)
	if err := e.store.FinishJobRun(bctx, run); err != nil {
		return run, fmt.Errorf("finish job run: %w", err)
	}

	current, err := e.store.GetJob(bctx, job.ID)
	if err != nil {
		// deleted while running
		logger.Warn("job vanished during run", "job", job.ID, "error", err)
		return run, nil
	}
	current.LastRun = &finished
	current.NextRun = NextDue(finished, current.Kind, current.TimeOfDay, current.Days)
	current.UpdatedAt = finished
	if err := e.store.SaveJob(bctx, current); err != nil {
		return run, fmt.Errorf("advance job schedule: %w", err)
	}

	logger.Info("job finished",
		"job", job.ID,
		"status", run.Status,
		"total", run.Total,
		"new", run.New,
		"price_changes", run.PriceChanges,
		"next_run", current.NextRun.Format(time.RFC3339))
	return run, nil
}

func (e *Engine) execute(ctx context.Context, job model.Job, run *model.JobRun) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "job", job.ID, "panic", r)
			run.Status = model.StatusFailed
			run.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	budget := job.MaxPages
	if budget <= 0 {
		budget = DefaultMaxPages
	}
	stats, err := e.runner.RunAcquisition(ctx, job.Filters, budget, job.WithDetails)
	if stats.SessionID != 0 {
		id := stats.SessionID
		run.SessionID = &id
	}
	run.Total = stats.Total
	run.New = stats.New
	run.PriceChanges = stats.PriceChanges
	if err != nil {
		run.Status = model.StatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = model.StatusCompleted
}

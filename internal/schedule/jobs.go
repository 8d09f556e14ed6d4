package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/store"
)

// JobSpec is the user-supplied part of a job.
type JobSpec struct {
	Name        string
	Kind        model.JobKind
	TimeOfDay   string
	Days        []int
	Filters     model.Filters
	MaxPages    int
	WithDetails bool
}

// JobUpdate changes selected fields of a job. Nil fields are left alone.
type JobUpdate struct {
	Name        *string
	Kind        *model.JobKind
	TimeOfDay   *string
	Days        *[]int
	Filters     *model.Filters
	MaxPages    *int
	WithDetails *bool
	Active      *bool
}

func (u JobUpdate) changesRecurrence() bool {
	return u.Kind != nil || u.TimeOfDay != nil || u.Days != nil
}

// CreateJob validates spec and stores an active job with its first due
// time computed.
func (e *Engine) CreateJob(ctx context.Context, spec JobSpec) (model.Job, error) {
	now := e.now()
	if spec.MaxPages == 0 {
		spec.MaxPages = DefaultMaxPages
	}
	job := model.Job{
		ID:          e.newID(),
		Name:        spec.Name,
		Kind:        spec.Kind,
		TimeOfDay:   spec.TimeOfDay,
		Days:        normalizeDays(spec.Days),
		Filters:     spec.Filters,
		MaxPages:    spec.MaxPages,
		WithDetails: spec.WithDetails,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.validate.Struct(job); err != nil {
		return model.Job{}, fmt.Errorf("invalid job: %w", err)
	}
	if _, _, ok := ParseTimeOfDay(job.TimeOfDay); !ok && job.Kind != model.KindHourly {
		logger.Warn("unparseable time of day, using default", "time_of_day", job.TimeOfDay)
	}
	job.NextRun = NextDue(now, job.Kind, job.TimeOfDay, job.Days)

	if err := e.store.InsertJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	logger.Info("job created", "job", job.ID, "name", job.Name, "kind", job.Kind, "next_run", job.NextRun)
	return job, nil
}

// UpdateJob applies u. The next due time is recomputed when the
// recurrence changes.
func (e *Engine) UpdateJob(ctx context.Context, id string, u JobUpdate) (model.Job, error) {
	job, err := e.GetJob(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	if u.Name != nil {
		job.Name = *u.Name
	}
	if u.Kind != nil {
		job.Kind = *u.Kind
	}
	if u.TimeOfDay != nil {
		job.TimeOfDay = *u.TimeOfDay
	}
	if u.Days != nil {
		job.Days = normalizeDays(*u.Days)
	}
	if u.Filters != nil {
		job.Filters = *u.Filters
	}
	if u.MaxPages != nil {
		job.MaxPages = *u.MaxPages
		if job.MaxPages == 0 {
			job.MaxPages = DefaultMaxPages
		}
	}
	if u.WithDetails != nil {
		job.WithDetails = *u.WithDetails
	}
	if u.Active != nil {
		job.Active = *u.Active
	}
	if err := e.validate.Struct(job); err != nil {
		return model.Job{}, fmt.Errorf("invalid job: %w", err)
	}

	now := e.now()
	if u.changesRecurrence() {
		job.NextRun = NextDue(now, job.Kind, job.TimeOfDay, job.Days)
	}
	job.UpdatedAt = now
	if err := e.store.SaveJob(ctx, job); err != nil {
		return model.Job{}, translate(err)
	}
	return job, nil
}

// ToggleJob activates or deactivates a job. An inactive job keeps its
// due time but is skipped by the loop.
func (e *Engine) ToggleJob(ctx context.Context, id string, active bool) (model.Job, error) {
	return e.UpdateJob(ctx, id, JobUpdate{Active: &active})
}

// DeleteJob removes a job and its runs.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	return translate(e.store.DeleteJob(ctx, id))
}

// GetJob returns one job.
func (e *Engine) GetJob(ctx context.Context, id string) (model.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	return job, translate(err)
}

// ListJobs returns jobs ordered by next run.
func (e *Engine) ListJobs(ctx context.Context, includeInactive bool) ([]model.Job, error) {
	return e.store.ListJobs(ctx, includeInactive)
}

// JobRuns returns recent runs of a job, newest first.
func (e *Engine) JobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error) {
	return e.store.JobRuns(ctx, jobID, limit)
}

func translate(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}

// normalizeDays sorts and de-duplicates a weekday set.
func normalizeDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jmylchreest/carwatch/internal/model"
)

var jobColumns = []string{
	"id", "name", "kind", "time_of_day", "days", "filters", "max_pages",
	"with_details", "active", "last_run", "next_run", "created_at", "updated_at",
}

func scanJob(r rowScanner) (model.Job, error) {
	var (
		j                         model.Job
		kind, days, filters       string
		lastRun                   sql.NullInt64
		nextRun, created, updated int64
	)
	err := r.Scan(&j.ID, &j.Name, &kind, &j.TimeOfDay, &days, &filters, &j.MaxPages,
		&j.WithDetails, &j.Active, &lastRun, &nextRun, &created, &updated)
	if err != nil {
		return model.Job{}, err
	}
	j.Kind = model.JobKind(kind)
	if err := json.Unmarshal([]byte(days), &j.Days); err != nil {
		return model.Job{}, fmt.Errorf("decode job days: %w", err)
	}
	if err := json.Unmarshal([]byte(filters), &j.Filters); err != nil {
		return model.Job{}, fmt.Errorf("decode job filters: %w", err)
	}
	j.LastRun = timePtr(lastRun)
	j.NextRun = fromMillis(nextRun)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return j, nil
}

func jobValues(j model.Job) ([]any, error) {
	days := j.Days
	if days == nil {
		days = []int{}
	}
	rawDays, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	rawFilters, err := json.Marshal(j.Filters)
	if err != nil {
		return nil, err
	}
	return []any{
		j.ID, j.Name, string(j.Kind), j.TimeOfDay, string(rawDays), string(rawFilters), j.MaxPages,
		j.WithDetails, j.Active, nullMillis(j.LastRun), toMillis(j.NextRun), toMillis(j.CreatedAt), toMillis(j.UpdatedAt),
	}, nil
}

// InsertJob stores a new job.
func (s *Store) InsertJob(ctx context.Context, j model.Job) error {
	values, err := jobValues(j)
	if err != nil {
		return err
	}
	if _, err := exec(ctx, s.db, s.sb.Insert("jobs").Columns(jobColumns...).Values(values...)); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// SaveJob overwrites every mutable column of an existing job.
func (s *Store) SaveJob(ctx context.Context, j model.Job) error {
	values, err := jobValues(j)
	if err != nil {
		return err
	}
	set := make(map[string]any, len(jobColumns))
	for i, col := range jobColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		set[col] = values[i]
	}
	res, err := exec(ctx, s.db, s.sb.Update("jobs").SetMap(set).Where(sq.Eq{"id": j.ID}))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireRow(res)
}

// DeleteJob removes a job and its run history.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := exec(ctx, tx, s.sb.Delete("job_runs").Where(sq.Eq{"job_id": id})); err != nil {
		return fmt.Errorf("delete job runs: %w", err)
	}
	res, err := exec(ctx, tx, s.sb.Delete("jobs").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	query, args, err := s.sb.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Job{}, err
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs ordered by next run. Inactive jobs are included
// only when asked.
func (s *Store) ListJobs(ctx context.Context, includeInactive bool) ([]model.Job, error) {
	b := s.sb.Select(jobColumns...).From("jobs").OrderBy("next_run", "id")
	if !includeInactive {
		b = b.Where(sq.Eq{"active": true})
	}
	return s.queryJobs(ctx, b)
}

// DueJobs returns active jobs whose next run is at or before now.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	return s.queryJobs(ctx, s.sb.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"active": true}).
		Where(sq.LtOrEq{"next_run": toMillis(now)}).
		OrderBy("next_run", "id"))
}

func (s *Store) queryJobs(ctx context.Context, b sq.SelectBuilder) ([]model.Job, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// StartJobRun appends a running JobRun and returns its id.
func (s *Store) StartJobRun(ctx context.Context, jobID string, started time.Time) (int64, error) {
	id, err := insertReturningID(ctx, s.db, s.sb.Insert("job_runs").
		Columns("job_id", "started_at", "status").
		Values(jobID, toMillis(started), string(model.StatusRunning)))
	if err != nil {
		return 0, fmt.Errorf("start job run: %w", err)
	}
	return id, nil
}

// FinishJobRun records the terminal state of a run.
func (s *Store) FinishJobRun(ctx context.Context, run model.JobRun) error {
	res, err := exec(ctx, s.db, s.sb.Update("job_runs").SetMap(map[string]any{
		"finished_at":   nullMillis(run.FinishedAt),
		"status":        string(run.Status),
		"session_id":    nullInt64(run.SessionID),
		"total":         run.Total,
		"new_count":     run.New,
		"price_changes": run.PriceChanges,
		"error":         run.Error,
	}).Where(sq.Eq{"id": run.ID}))
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return requireRow(res)
}

// JobRuns returns the most recent runs of a job first.
func (s *Store) JobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := s.sb.
		Select("id", "job_id", "started_at", "finished_at", "status", "session_id", "total", "new_count", "price_changes", "error").
		From("job_runs").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRun
	for rows.Next() {
		var (
			run       model.JobRun
			started   int64
			finished  sql.NullInt64
			status    string
			sessionID sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.JobID, &started, &finished, &status, &sessionID,
			&run.Total, &run.New, &run.PriceChanges, &run.Error); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.StartedAt = fromMillis(started)
		run.FinishedAt = timePtr(finished)
		run.Status = model.Status(status)
		run.SessionID = int64Ptr(sessionID)
		out = append(out, run)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

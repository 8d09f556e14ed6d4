package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/store"
)

// fakeRunner records acquisitions and returns canned results.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []model.Filters
	budgets []int
	stats   model.SessionStats
	err     error
	panics  bool
	ran     chan struct{}
}

func (r *fakeRunner) RunAcquisition(_ context.Context, f model.Filters, pageBudget int, _ bool) (model.SessionStats, error) {
	r.mu.Lock()
	r.calls = append(r.calls, f)
	r.budgets = append(r.budgets, pageBudget)
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	if r.panics {
		panic("boom")
	}
	return r.stats, r.err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestEngine(t *testing.T, runner Runner, now time.Time) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "carwatch.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := New(st, runner, Config{PollInterval: time.Hour})
	e.now = func() time.Time { return now }
	return e, st
}

func dailySpec() JobSpec {
	return JobSpec{
		Name:      "camry watch",
		Kind:      model.KindDaily,
		TimeOfDay: "09:00",
		Filters:   model.Filters{MakeID: "23", ModelID: "51"},
	}
}

// --- CRUD Tests ---

func TestCreateJob(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)

	job, err := e.CreateJob(context.Background(), dailySpec())
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if len(job.ID) != 8 {
		t.Errorf("expected 8 character id, got %q", job.ID)
	}
	if !job.Active {
		t.Error("expected new job to be active")
	}
	if job.MaxPages != DefaultMaxPages {
		t.Errorf("expected default max pages %d, got %d", DefaultMaxPages, job.MaxPages)
	}
	want := time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)
	if !job.NextRun.Equal(want) {
		t.Errorf("expected next run %s, got %s", want, job.NextRun)
	}

	got, err := e.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Name != job.Name || got.Filters.MakeID != "23" || !got.NextRun.Equal(want) {
		t.Errorf("stored job differs: %+v", got)
	}
}

func TestCreateJob_Invalid(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)

	tests := []struct {
		name string
		spec JobSpec
	}{
		{"missing name", JobSpec{Kind: model.KindDaily}},
		{"unknown kind", JobSpec{Name: "x", Kind: "monthly"}},
		{"bad weekday", JobSpec{Name: "x", Kind: model.KindWeekly, Days: []int{1, 8}}},
		{"negative pages", JobSpec{Name: "x", Kind: model.KindHourly, MaxPages: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.CreateJob(context.Background(), tt.spec); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	jobs, err := e.ListJobs(context.Background(), true)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("invalid jobs must not be stored, got %d", len(jobs))
	}
}

func TestCreateJob_NormalizesDays(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)

	spec := dailySpec()
	spec.Kind = model.KindWeekly
	spec.Days = []int{5, 1, 5, 3}
	job, err := e.CreateJob(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if len(job.Days) != 3 || job.Days[0] != 1 || job.Days[2] != 5 {
		t.Errorf("expected days [1 3 5], got %v", job.Days)
	}
}

func TestUpdateJob(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)
	ctx := context.Background()

	job, err := e.CreateJob(ctx, dailySpec())
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	name := "renamed"
	renamed, err := e.UpdateJob(ctx, job.ID, JobUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if renamed.Name != "renamed" || !renamed.NextRun.Equal(job.NextRun) {
		t.Errorf("rename should keep next run, got %+v", renamed)
	}

	tod := "11:30"
	moved, err := e.UpdateJob(ctx, job.ID, JobUpdate{TimeOfDay: &tod})
	if err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	want := time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)
	if !moved.NextRun.Equal(want) {
		t.Errorf("expected next run %s, got %s", want, moved.NextRun)
	}

	bad := model.JobKind("yearly")
	if _, err := e.UpdateJob(ctx, job.ID, JobUpdate{Kind: &bad}); err == nil {
		t.Error("expected validation error for unknown kind")
	}
	stored, _ := e.GetJob(ctx, job.ID)
	if stored.Kind != model.KindDaily {
		t.Errorf("failed update must not persist, kind is %q", stored.Kind)
	}
}

func TestToggleJob(t *testing.T) {
	e, st := newTestEngine(t, &fakeRunner{}, wednesday10)
	ctx := context.Background()

	job, _ := e.CreateJob(ctx, dailySpec())
	if _, err := e.ToggleJob(ctx, job.ID, false); err != nil {
		t.Fatalf("ToggleJob() error = %v", err)
	}

	due, err := st.DueJobs(ctx, job.NextRun.Add(time.Hour))
	if err != nil {
		t.Fatalf("DueJobs() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("inactive job must not be due, got %d", len(due))
	}

	active, _ := e.ListJobs(ctx, false)
	all, _ := e.ListJobs(ctx, true)
	if len(active) != 0 || len(all) != 1 {
		t.Errorf("expected 0 active and 1 total, got %d and %d", len(active), len(all))
	}
}

func TestJobNotFound(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)
	ctx := context.Background()

	if _, err := e.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob: expected ErrJobNotFound, got %v", err)
	}
	if err := e.DeleteJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("DeleteJob: expected ErrJobNotFound, got %v", err)
	}
	if _, err := e.ToggleJob(ctx, "missing", true); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("ToggleJob: expected ErrJobNotFound, got %v", err)
	}
	if _, err := e.RunNow(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow: expected ErrJobNotFound, got %v", err)
	}
}

func TestDeleteJob(t *testing.T) {
	runner := &fakeRunner{}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	job, _ := e.CreateJob(ctx, dailySpec())
	if _, err := e.RunNow(ctx, job.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if err := e.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := e.GetJob(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected deleted job to be gone, got %v", err)
	}
	runs, err := e.JobRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("JobRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected runs to be deleted with the job, got %d", len(runs))
	}
}

// --- RunNow Tests ---

func TestUpdateJob_ZeroPagesKeepsBudget(t *testing.T) {
	runner := &fakeRunner{}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	spec := dailySpec()
	spec.MaxPages = 5
	job, _ := e.CreateJob(ctx, spec)

	zero := 0
	updated, err := e.UpdateJob(ctx, job.ID, JobUpdate{MaxPages: &zero})
	if err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if updated.MaxPages != DefaultMaxPages {
		t.Errorf("expected default max pages %d, got %d", DefaultMaxPages, updated.MaxPages)
	}

	if _, err := e.RunNow(ctx, job.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if runner.count() != 1 || runner.budgets[0] != DefaultMaxPages {
		t.Errorf("expected budget %d, got %v", DefaultMaxPages, runner.budgets)
	}
}

func TestRunNow_StoredZeroBudgetUsesDefault(t *testing.T) {
	runner := &fakeRunner{}
	e, st := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	job, _ := e.CreateJob(ctx, dailySpec())
	job.MaxPages = 0
	if err := st.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	if _, err := e.RunNow(ctx, job.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if runner.count() != 1 || runner.budgets[0] != DefaultMaxPages {
		t.Errorf("expected budget %d, got %v", DefaultMaxPages, runner.budgets)
	}
}

func TestRunNow_Completed(t *testing.T) {
	runner := &fakeRunner{stats: model.SessionStats{SessionID: 7, Total: 10, New: 3, PriceChanges: 1}}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	spec := dailySpec()
	spec.MaxPages = 4
	job, _ := e.CreateJob(ctx, spec)

	run, err := e.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if run.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s (%s)", run.Status, run.Error)
	}
	if run.SessionID == nil || *run.SessionID != 7 {
		t.Errorf("expected session 7, got %v", run.SessionID)
	}
	if run.Total != 10 || run.New != 3 || run.PriceChanges != 1 {
		t.Errorf("unexpected counts: %+v", run)
	}
	if runner.count() != 1 || runner.budgets[0] != 4 || runner.calls[0].ModelID != "51" {
		t.Errorf("expected one acquisition with the job's filters and budget, got %v %v", runner.calls, runner.budgets)
	}

	runs, err := e.JobRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("JobRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != model.StatusCompleted || runs[0].FinishedAt == nil {
		t.Errorf("expected one finished run, got %+v", runs)
	}

	updated, _ := e.GetJob(ctx, job.ID)
	if updated.LastRun == nil || !updated.LastRun.Equal(wednesday10) {
		t.Errorf("expected last run %s, got %v", wednesday10, updated.LastRun)
	}
	want := time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)
	if !updated.NextRun.Equal(want) {
		t.Errorf("expected next run %s, got %s", want, updated.NextRun)
	}
}

func TestRunNow_Failed(t *testing.T) {
	runner := &fakeRunner{err: errors.New("all backends blocked")}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	job, _ := e.CreateJob(ctx, dailySpec())
	run, err := e.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if run.Status != model.StatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if run.Error != "all backends blocked" {
		t.Errorf("expected error message to be recorded, got %q", run.Error)
	}

	updated, _ := e.GetJob(ctx, job.ID)
	if updated.LastRun == nil {
		t.Error("failed runs still advance the schedule")
	}
}

func TestRunNow_PanicRecovered(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{panics: true}, wednesday10)
	ctx := context.Background()

	job, _ := e.CreateJob(ctx, dailySpec())
	run, err := e.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if run.Status != model.StatusFailed || run.Error != "panic: boom" {
		t.Errorf("expected failed run with panic message, got %s %q", run.Status, run.Error)
	}

	runs, _ := e.JobRuns(ctx, job.ID, 10)
	if len(runs) != 1 || runs[0].Status != model.StatusFailed {
		t.Errorf("expected one failed run recorded, got %+v", runs)
	}
}

// --- Loop Tests ---

func TestPoll_RunsDueJobs(t *testing.T) {
	runner := &fakeRunner{}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	due, _ := e.CreateJob(ctx, dailySpec())
	later := dailySpec()
	later.TimeOfDay = "09:45"
	notDue, _ := e.CreateJob(ctx, later)

	// 09:30 the next day: the first job is due, the second is not
	e.now = func() time.Time { return time.Date(2025, 1, 16, 9, 30, 0, 0, time.UTC) }
	e.poll(ctx)

	if runner.count() != 1 {
		t.Fatalf("expected 1 acquisition, got %d", runner.count())
	}
	if runs, _ := e.JobRuns(ctx, due.ID, 10); len(runs) != 1 {
		t.Errorf("expected due job to run once, got %d runs", len(runs))
	}
	if runs, _ := e.JobRuns(ctx, notDue.ID, 10); len(runs) != 0 {
		t.Errorf("expected job not yet due to be skipped, got %d runs", len(runs))
	}

	// the schedule moved past now, so polling again does nothing
	e.poll(ctx)
	if runner.count() != 1 {
		t.Errorf("expected no second acquisition, got %d", runner.count())
	}
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{ran: make(chan struct{}, 1)}
	e, _ := newTestEngine(t, runner, wednesday10)
	ctx := context.Background()

	spec := dailySpec()
	spec.Kind = model.KindHourly
	if _, err := e.CreateJob(ctx, spec); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	e.now = func() time.Time { return wednesday10.Add(2 * time.Hour) }

	e.Start(ctx)
	e.Start(ctx)
	if !e.Running() {
		t.Fatal("expected engine to be running")
	}

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the first poll to run the due job")
	}

	e.Stop()
	e.Stop()
	if e.Running() {
		t.Error("expected engine to be stopped")
	}
	if runner.count() != 1 {
		t.Errorf("expected exactly one acquisition, got %d", runner.count())
	}
}

func TestStop_CancelsParentContext(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{}, wednesday10)
	ctx, cancel := context.WithCancel(context.Background())

	e.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the parent context ended")
	}
}

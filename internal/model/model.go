// Package model holds the records shared by the acquisition pipeline,
// the change-tracking store and the scheduler.
package model

import (
	"encoding/json"
	"time"
)

// Listing is one tracked marketplace vehicle, keyed by the site-assigned id.
// Nil pointer fields mean the value is unknown.
type Listing struct {
	ID        string          `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Brand     string          `json:"brand" yaml:"brand"`
	Model     string          `json:"model" yaml:"model"`
	Price     *int64          `json:"price,omitempty" yaml:"price,omitempty"`
	Currency  string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	Year      *int            `json:"year,omitempty" yaml:"year,omitempty"`
	Engine    string          `json:"engine,omitempty" yaml:"engine,omitempty"`
	Mileage   *int64          `json:"mileage,omitempty" yaml:"mileage,omitempty"`
	City      string          `json:"city,omitempty" yaml:"city,omitempty"`
	Views     *int64          `json:"views,omitempty" yaml:"views,omitempty"`
	IsNew     bool            `json:"is_new" yaml:"is_new"`
	IsVIP     bool            `json:"is_vip" yaml:"is_vip"`
	IsPremium bool            `json:"is_premium" yaml:"is_premium"`
	URL       string          `json:"url" yaml:"url"`
	Raw       json.RawMessage `json:"raw,omitempty" yaml:"-"`
	CreatedAt time.Time       `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// PriceChange is an immutable price history entry.
type PriceChange struct {
	ID         int64     `json:"id" yaml:"id"`
	ListingID  string    `json:"listing_id" yaml:"listing_id"`
	OldPrice   *int64    `json:"old_price" yaml:"old_price"`
	NewPrice   int64     `json:"new_price" yaml:"new_price"`
	Currency   string    `json:"currency" yaml:"currency"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
	SessionID  int64     `json:"session_id" yaml:"session_id"`
}

// Status is the lifecycle state of sessions and job runs.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Filters narrows a listing search. All fields are optional.
type Filters struct {
	MakeID    string `json:"make_id,omitempty" yaml:"make_id,omitempty" mapstructure:"make_id"`
	ModelID   string `json:"model_id,omitempty" yaml:"model_id,omitempty" mapstructure:"model_id"`
	PriceFrom *int64 `json:"price_from,omitempty" yaml:"price_from,omitempty" mapstructure:"price_from" validate:"omitempty,gte=0"`
	PriceTo   *int64 `json:"price_to,omitempty" yaml:"price_to,omitempty" mapstructure:"price_to" validate:"omitempty,gte=0"`
	YearFrom  *int   `json:"year_from,omitempty" yaml:"year_from,omitempty" mapstructure:"year_from" validate:"omitempty,gte=1900,lte=2100"`
	YearTo    *int   `json:"year_to,omitempty" yaml:"year_to,omitempty" mapstructure:"year_to" validate:"omitempty,gte=1900,lte=2100"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.MakeID == "" && f.ModelID == "" &&
		f.PriceFrom == nil && f.PriceTo == nil &&
		f.YearFrom == nil && f.YearTo == nil
}

// Session is one acquisition run as recorded by the store.
type Session struct {
	ID           int64      `json:"id" yaml:"id"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status       Status     `json:"status" yaml:"status"`
	Filters      Filters    `json:"filters" yaml:"filters"`
	Total        int        `json:"total" yaml:"total"`
	New          int        `json:"new" yaml:"new"`
	Updated      int        `json:"updated" yaml:"updated"`
	PriceChanges int        `json:"price_changes" yaml:"price_changes"`
	Failed       int        `json:"failed" yaml:"failed"`
}

// SessionListing is the per-record outcome of one session.
type SessionListing struct {
	SessionID    int64   `json:"session_id" yaml:"session_id"`
	ListingID    string  `json:"listing_id" yaml:"listing_id"`
	WasNew       bool    `json:"was_new" yaml:"was_new"`
	PriceChanged bool    `json:"price_changed" yaml:"price_changed"`
	Listing      Listing `json:"listing" yaml:"listing"`
}

// RecordFailure names a record that could not be persisted.
type RecordFailure struct {
	ListingID string `json:"listing_id" yaml:"listing_id"`
	Error     string `json:"error" yaml:"error"`
}

// SessionStats summarizes one commit.
type SessionStats struct {
	SessionID    int64           `json:"session_id" yaml:"session_id"`
	Status       Status          `json:"status" yaml:"status"`
	Total        int             `json:"total" yaml:"total"`
	New          int             `json:"new" yaml:"new"`
	Updated      int             `json:"updated" yaml:"updated"`
	PriceChanges int             `json:"price_changes" yaml:"price_changes"`
	Failed       []RecordFailure `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// RunResult is the output of one acquisition run, before persistence.
type RunResult struct {
	Listings     []Listing     `json:"listings" yaml:"listings"`
	PagesPlanned int           `json:"pages_planned" yaml:"pages_planned"`
	PagesFetched int           `json:"pages_fetched" yaml:"pages_fetched"`
	DetailsFetch int           `json:"details_fetched" yaml:"details_fetched"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	Errors       int           `json:"errors" yaml:"errors"`
	Backend      string        `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// JobKind is the recurrence of a scheduled job.
type JobKind string

const (
	KindHourly JobKind = "hourly"
	KindDaily  JobKind = "daily"
	KindWeekly JobKind = "weekly"
)

// Job is a recurring acquisition definition.
type Job struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name" validate:"required"`
	Kind        JobKind    `json:"kind" yaml:"kind" validate:"required,oneof=hourly daily weekly"`
	TimeOfDay   string     `json:"time_of_day" yaml:"time_of_day"`
	Days        []int      `json:"days,omitempty" yaml:"days,omitempty" validate:"dive,gte=1,lte=7"`
	Filters     Filters    `json:"filters" yaml:"filters"`
	MaxPages    int        `json:"max_pages" yaml:"max_pages" validate:"gte=0"`
	WithDetails bool       `json:"with_details" yaml:"with_details"`
	Active      bool       `json:"active" yaml:"active"`
	LastRun     *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	NextRun     time.Time  `json:"next_run" yaml:"next_run"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// JobRun records one execution of a job. Append-only.
type JobRun struct {
	ID           int64      `json:"id" yaml:"id"`
	JobID        string     `json:"job_id" yaml:"job_id"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status       Status     `json:"status" yaml:"status"`
	SessionID    *int64     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Total        int        `json:"total" yaml:"total"`
	New          int        `json:"new" yaml:"new"`
	PriceChanges int        `json:"price_changes" yaml:"price_changes"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Make is a vehicle make option from the site's search form.
type Make struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// ModelOption is a vehicle model option belonging to a make.
type ModelOption struct {
	ID     string `json:"id" yaml:"id"`
	MakeID string `json:"make_id" yaml:"make_id"`
	Name   string `json:"name" yaml:"name"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jmylchreest/carwatch/internal/model"
)

var sessionColumns = []string{
	"id", "started_at", "finished_at", "status", "filters",
	"total", "new_count", "updated_count", "price_changes", "failed",
}

func scanSession(r rowScanner) (model.Session, error) {
	var (
		sess     model.Session
		started  int64
		finished sql.NullInt64
		status   string
		filters  string
	)
	err := r.Scan(&sess.ID, &started, &finished, &status, &filters,
		&sess.Total, &sess.New, &sess.Updated, &sess.PriceChanges, &sess.Failed)
	if err != nil {
		return model.Session{}, err
	}
	sess.StartedAt = fromMillis(started)
	sess.FinishedAt = timePtr(finished)
	sess.Status = model.Status(status)
	if filters != "" {
		if err := json.Unmarshal([]byte(filters), &sess.Filters); err != nil {
			return model.Session{}, fmt.Errorf("decode session filters: %w", err)
		}
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := s.sb.Select(sessionColumns...).From("sessions").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id int64) (model.Session, error) {
	query, args, err := s.sb.Select(sessionColumns...).From("sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Session{}, err
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return sess, err
}

// SessionListings returns the records a session processed, joined with
// their current listing state.
func (s *Store) SessionListings(ctx context.Context, sessionID int64, limit int) ([]model.SessionListing, error) {
	if limit <= 0 {
		limit = 100
	}
	cols := []string{"sl.session_id", "sl.was_new", "sl.price_changed"}
	for _, c := range listingColumns {
		cols = append(cols, "l."+c)
	}
	query, args, err := s.sb.Select(cols...).
		From("session_listings sl").
		Join("listings l ON l.id = sl.listing_id").
		Where(sq.Eq{"sl.session_id": sessionID}).
		OrderBy("l.views DESC", "l.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session listings: %w", err)
	}
	defer rows.Close()

	var out []model.SessionListing
	for rows.Next() {
		var sl model.SessionListing
		l, err := scanListing(prefixScanner{rows, []any{&sl.SessionID, &sl.WasNew, &sl.PriceChanged}})
		if err != nil {
			return nil, fmt.Errorf("scan session listing: %w", err)
		}
		sl.ListingID = l.ID
		sl.Listing = l
		out = append(out, sl)
	}
	return out, rows.Err()
}

// prefixScanner scans leading columns into fixed destinations before the
// destinations supplied by the caller.
type prefixScanner struct {
	r      rowScanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.r.Scan(append(p.prefix[:len(p.prefix):len(p.prefix)], dest...)...)
}

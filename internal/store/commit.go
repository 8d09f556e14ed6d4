package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/metrics"
	"github.com/jmylchreest/carwatch/internal/model"
)

// Class is the outcome of committing one listing.
type Class string

const (
	ClassNew          Class = "new"
	ClassUpdated      Class = "updated"
	ClassPriceChanged Class = "price_changed"
)

// Commit persists one batch of listings as a new session. Each listing is
// written in its own transaction; a failure is recorded in the returned
// stats and the batch continues. The session always reaches a terminal
// status, including when ctx ends or a write panics, in which case it is
// marked failed. The error is non-nil only when the session itself could
// not be opened or the commit was interrupted.
func (s *Store) Commit(ctx context.Context, listings []model.Listing, filters model.Filters) (stats model.SessionStats, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sessionID, err := s.openSession(ctx, filters)
	if err != nil {
		return model.SessionStats{}, fmt.Errorf("open session: %w", err)
	}
	stats = model.SessionStats{SessionID: sessionID, Status: model.StatusRunning}

	done := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("commit panicked", "session", sessionID, "panic", r)
			err = fmt.Errorf("commit panicked: %v", r)
			done = false
		}
		stats.Status = model.StatusCompleted
		if !done {
			stats.Status = model.StatusFailed
		}
		// finalize even when ctx is already cancelled
		if cerr := s.closeSession(context.WithoutCancel(ctx), stats); cerr != nil {
			logger.Error("failed to finalize session", "session", sessionID, "error", cerr)
			if err == nil {
				err = fmt.Errorf("finalize session: %w", cerr)
			}
		}
		metrics.SessionsTotal.WithLabelValues(string(stats.Status)).Inc()
	}()

	for _, l := range listings {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		class, err := s.commitListing(ctx, sessionID, l)
		if err != nil {
			logger.Warn("listing commit failed", "session", sessionID, "listing", l.ID, "error", err)
			stats.Failed = append(stats.Failed, model.RecordFailure{ListingID: l.ID, Error: err.Error()})
			continue
		}
		stats.Total++
		switch class {
		case ClassNew:
			stats.New++
		case ClassPriceChanged:
			stats.PriceChanges++
		default:
			stats.Updated++
		}
		metrics.ListingsCommittedTotal.WithLabelValues(string(class)).Inc()
	}
	done = true

	logger.Info("session committed",
		"session", sessionID,
		"total", stats.Total,
		"new", stats.New,
		"updated", stats.Updated,
		"price_changes", stats.PriceChanges,
		"failed", len(stats.Failed))
	return stats, nil
}

func (s *Store) commitListing(ctx context.Context, sessionID int64, incoming model.Listing) (Class, error) {
	if incoming.ID == "" {
		return "", errors.New("listing has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := s.now()
	existing, err := s.getListing(ctx, tx, incoming.ID)
	var class Class
	switch {
	case errors.Is(err, ErrNotFound):
		class = ClassNew
		incoming.CreatedAt, incoming.UpdatedAt = now, now
		if _, err := exec(ctx, tx, s.sb.Insert("listings").Columns(listingColumns...).Values(listingValues(incoming)...)); err != nil {
			return "", fmt.Errorf("insert listing: %w", err)
		}

	case err != nil:
		return "", fmt.Errorf("read listing: %w", err)

	default:
		class = ClassUpdated
		if priceChanged(existing.Price, incoming.Price) {
			class = ClassPriceChanged
			_, err := exec(ctx, tx, s.sb.Insert("price_history").
				Columns("listing_id", "old_price", "new_price", "currency", "recorded_at", "session_id").
				Values(incoming.ID, nullInt64(existing.Price), *incoming.Price, incoming.Currency, toMillis(now), sessionID))
			if err != nil {
				return "", fmt.Errorf("insert price change: %w", err)
			}
		}
		merged := mergeListing(existing, incoming, now)
		if _, err := exec(ctx, tx, s.sb.Update("listings").SetMap(listingSetMap(merged)).Where(sq.Eq{"id": merged.ID})); err != nil {
			return "", fmt.Errorf("update listing: %w", err)
		}
	}

	_, err = exec(ctx, tx, s.sb.Insert("session_listings").
		Columns("session_id", "listing_id", "was_new", "price_changed").
		Values(sessionID, incoming.ID, class == ClassNew, class == ClassPriceChanged))
	if err != nil {
		return "", fmt.Errorf("link listing: %w", err)
	}
	return class, tx.Commit()
}

// priceChanged reports a change when a known incoming price differs from
// the stored one. A first known price after an unknown one counts, with no
// old price. An unknown incoming price never counts.
func priceChanged(stored, incoming *int64) bool {
	if incoming == nil {
		return false
	}
	return stored == nil || *stored != *incoming
}

// mergeListing applies incoming values over stored ones. Unknown incoming
// values never erase known stored values.
func mergeListing(stored, incoming model.Listing, now time.Time) model.Listing {
	out := incoming
	out.CreatedAt = stored.CreatedAt
	out.UpdatedAt = now
	if out.Price == nil {
		out.Price = stored.Price
		out.Currency = stored.Currency
	}
	if out.Year == nil {
		out.Year = stored.Year
	}
	if out.Mileage == nil {
		out.Mileage = stored.Mileage
	}
	if out.Views == nil {
		out.Views = stored.Views
	}
	if len(out.Raw) == 0 {
		out.Raw = stored.Raw
	}
	keep(&out.Name, stored.Name)
	keep(&out.Brand, stored.Brand)
	keep(&out.Model, stored.Model)
	keep(&out.Engine, stored.Engine)
	keep(&out.City, stored.City)
	keep(&out.URL, stored.URL)
	keep(&out.Currency, stored.Currency)
	return out
}

func keep(dst *string, stored string) {
	if *dst == "" {
		*dst = stored
	}
}

func listingSetMap(l model.Listing) map[string]any {
	values := listingValues(l)
	m := make(map[string]any, len(listingColumns)-1)
	for i, col := range listingColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		m[col] = values[i]
	}
	return m
}

func (s *Store) openSession(ctx context.Context, filters model.Filters) (int64, error) {
	raw, err := json.Marshal(filters)
	if err != nil {
		return 0, err
	}
	return insertReturningID(ctx, s.db, s.sb.Insert("sessions").
		Columns("started_at", "status", "filters").
		Values(toMillis(s.now()), string(model.StatusRunning), string(raw)))
}

func (s *Store) closeSession(ctx context.Context, stats model.SessionStats) error {
	_, err := exec(ctx, s.db, s.sb.Update("sessions").SetMap(map[string]any{
		"finished_at":   toMillis(s.now()),
		"status":        string(stats.Status),
		"total":         stats.Total,
		"new_count":     stats.New,
		"updated_count": stats.Updated,
		"price_changes": stats.PriceChanges,
		"failed":        len(stats.Failed),
	}).Where(sq.Eq{"id": stats.SessionID}))
	return err
}

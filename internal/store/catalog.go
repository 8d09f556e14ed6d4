package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jmylchreest/carwatch/internal/model"
)

const (
	catalogMake  = "make"
	catalogModel = "model"
)

// CachedMakes returns the cached makes and the oldest cached-at time. The
// time is zero when nothing is cached.
func (s *Store) CachedMakes(ctx context.Context) ([]model.Make, time.Time, error) {
	entries, cachedAt, err := s.catalogEntries(ctx, catalogMake, "")
	if err != nil {
		return nil, time.Time{}, err
	}
	makes := make([]model.Make, 0, len(entries))
	for _, e := range entries {
		makes = append(makes, model.Make{ID: e.id, Name: e.name})
	}
	return makes, cachedAt, nil
}

// CachedModels returns the cached models of a make.
func (s *Store) CachedModels(ctx context.Context, makeID string) ([]model.ModelOption, time.Time, error) {
	entries, cachedAt, err := s.catalogEntries(ctx, catalogModel, makeID)
	if err != nil {
		return nil, time.Time{}, err
	}
	models := make([]model.ModelOption, 0, len(entries))
	for _, e := range entries {
		models = append(models, model.ModelOption{ID: e.id, MakeID: makeID, Name: e.name})
	}
	return models, cachedAt, nil
}

// ReplaceMakes replaces the cached make list.
func (s *Store) ReplaceMakes(ctx context.Context, makes []model.Make, at time.Time) error {
	entries := make([]catalogEntry, 0, len(makes))
	for _, m := range makes {
		entries = append(entries, catalogEntry{id: m.ID, name: m.Name})
	}
	return s.replaceCatalog(ctx, catalogMake, "", entries, at)
}

// ReplaceModels replaces the cached models of every make present in
// models, grouped by make.
func (s *Store) ReplaceModels(ctx context.Context, models []model.ModelOption, at time.Time) error {
	byMake := make(map[string][]catalogEntry)
	for _, m := range models {
		byMake[m.MakeID] = append(byMake[m.MakeID], catalogEntry{id: m.ID, name: m.Name})
	}
	for makeID, entries := range byMake {
		if err := s.replaceCatalog(ctx, catalogModel, makeID, entries, at); err != nil {
			return err
		}
	}
	return nil
}

type catalogEntry struct {
	id, name string
}

func (s *Store) catalogEntries(ctx context.Context, kind, parent string) ([]catalogEntry, time.Time, error) {
	query, args, err := s.sb.Select("id", "name", "cached_at").From("catalog").
		Where(sq.Eq{"kind": kind, "parent_id": parent}).
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, time.Time{}, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var (
		out    []catalogEntry
		oldest int64
	)
	for rows.Next() {
		var e catalogEntry
		var at int64
		if err := rows.Scan(&e.id, &e.name, &at); err != nil {
			return nil, time.Time{}, fmt.Errorf("scan catalog: %w", err)
		}
		if oldest == 0 || at < oldest {
			oldest = at
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if oldest == 0 {
		return out, time.Time{}, nil
	}
	return out, fromMillis(oldest), nil
}

func (s *Store) replaceCatalog(ctx context.Context, kind, parent string, entries []catalogEntry, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := exec(ctx, tx, s.sb.Delete("catalog").Where(sq.Eq{"kind": kind, "parent_id": parent})); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	if len(entries) > 0 {
		b := s.sb.Insert("catalog").Columns("kind", "parent_id", "id", "name", "cached_at")
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			if seen[e.id] {
				continue
			}
			seen[e.id] = true
			b = b.Values(kind, parent, e.id, e.name, toMillis(at))
		}
		if _, err := exec(ctx, tx, b); err != nil {
			return fmt.Errorf("insert catalog: %w", err)
		}
	}
	return tx.Commit()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jmylchreest/carwatch/internal/model"
)

var listingColumns = []string{
	"id", "name", "brand", "model", "price", "currency", "year", "engine",
	"mileage", "city", "views", "is_new", "is_vip", "is_premium", "url", "raw",
	"created_at", "updated_at",
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(r rowScanner) (model.Listing, error) {
	var (
		l                     model.Listing
		price, mileage, views sql.NullInt64
		year                  sql.NullInt64
		raw                   sql.NullString
		created, updated      int64
	)
	err := r.Scan(&l.ID, &l.Name, &l.Brand, &l.Model, &price, &l.Currency, &year, &l.Engine,
		&mileage, &l.City, &views, &l.IsNew, &l.IsVIP, &l.IsPremium, &l.URL, &raw,
		&created, &updated)
	if err != nil {
		return model.Listing{}, err
	}
	l.Price = int64Ptr(price)
	l.Year = intPtr(year)
	l.Mileage = int64Ptr(mileage)
	l.Views = int64Ptr(views)
	if raw.Valid && raw.String != "" {
		l.Raw = json.RawMessage(raw.String)
	}
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return l, nil
}

func listingValues(l model.Listing) []any {
	var raw sql.NullString
	if len(l.Raw) > 0 {
		raw = sql.NullString{String: string(l.Raw), Valid: true}
	}
	return []any{
		l.ID, l.Name, l.Brand, l.Model, nullInt64(l.Price), l.Currency, nullInt(l.Year), l.Engine,
		nullInt64(l.Mileage), l.City, nullInt64(l.Views), l.IsNew, l.IsVIP, l.IsPremium, l.URL, raw,
		toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
	}
}

func (s *Store) getListing(ctx context.Context, q querier, id string) (model.Listing, error) {
	query, args, err := s.sb.Select(listingColumns...).From("listings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Listing{}, err
	}
	l, err := scanListing(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Listing{}, ErrNotFound
	}
	return l, err
}

// GetListing returns the stored listing with id.
func (s *Store) GetListing(ctx context.Context, id string) (model.Listing, error) {
	return s.getListing(ctx, s.db, id)
}

// Sort orders for SearchListings.
const (
	SortViews     = "views"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortYear      = "year"
	SortNewest    = "newest"
)

var sortOrders = map[string]string{
	SortViews:     "views DESC",
	SortPriceAsc:  "price ASC",
	SortPriceDesc: "price DESC",
	SortYear:      "year DESC",
	SortNewest:    "created_at DESC",
}

// ListingQuery filters stored listings.
type ListingQuery struct {
	Brand    string
	MinPrice *int64
	MaxPrice *int64
	MinYear  *int
	Sort     string
	Limit    int
}

// SearchListings returns stored listings matching q. Unknown sort orders
// fall back to most viewed first.
func (s *Store) SearchListings(ctx context.Context, q ListingQuery) ([]model.Listing, error) {
	b := s.sb.Select(listingColumns...).From("listings")
	if q.Brand != "" {
		b = b.Where(sq.Like{"LOWER(brand)": "%" + strings.ToLower(q.Brand) + "%"})
	}
	if q.MinPrice != nil {
		b = b.Where(sq.GtOrEq{"price": *q.MinPrice})
	}
	if q.MaxPrice != nil {
		b = b.Where(sq.LtOrEq{"price": *q.MaxPrice})
	}
	if q.MinYear != nil {
		b = b.Where(sq.GtOrEq{"year": *q.MinYear})
	}
	order, ok := sortOrders[q.Sort]
	if !ok {
		order = sortOrders[SortViews]
	}
	b = b.OrderBy(order, "id")
	if q.Limit <= 0 {
		q.Limit = 50
	}
	b = b.Limit(uint64(q.Limit))

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// PriceHistory returns the price changes of a listing, oldest first.
func (s *Store) PriceHistory(ctx context.Context, listingID string) ([]model.PriceChange, error) {
	query, args, err := s.sb.
		Select("id", "listing_id", "old_price", "new_price", "currency", "recorded_at", "session_id").
		From("price_history").
		Where(sq.Eq{"listing_id": listingID}).
		OrderBy("recorded_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []model.PriceChange
	for rows.Next() {
		var (
			pc       model.PriceChange
			oldPrice sql.NullInt64
			recorded int64
		)
		if err := rows.Scan(&pc.ID, &pc.ListingID, &oldPrice, &pc.NewPrice, &pc.Currency, &recorded, &pc.SessionID); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		pc.OldPrice = int64Ptr(oldPrice)
		pc.RecordedAt = fromMillis(recorded)
		out = append(out, pc)
	}
	return out, rows.Err()
}

// PruneHistory deletes price history recorded before the cutoff and
// returns the number of rows removed.
func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := exec(ctx, s.db, s.sb.Delete("price_history").Where(sq.Lt{"recorded_at": toMillis(before)}))
	if err != nil {
		return 0, fmt.Errorf("prune price history: %w", err)
	}
	return res.RowsAffected()
}

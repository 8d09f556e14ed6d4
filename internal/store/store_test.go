package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/carwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "carwatch.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func listing(id string, price int64) model.Listing {
	return model.Listing{
		ID:       id,
		Name:     "Toyota Camry",
		Brand:    "Toyota",
		Model:    "Camry",
		Price:    model.Int64(price),
		Currency: "AZN",
		Year:     model.Int(2019),
		URL:      "https://turbo.az/autos/" + id + "-toyota-camry",
	}
}

// --- Open Tests ---

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carwatch.db")
	for i := range 2 {
		s, err := Open(context.Background(), DriverSQLite, path)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
		var version int
		if err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
			t.Fatalf("read version: %v", err)
		}
		if version != len(migrations) {
			t.Errorf("expected version %d, got %d", len(migrations), version)
		}
		s.Close()
	}
}

func TestDialect(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	if got := s.dialect("id {{serial}}"); got != "id BIGSERIAL PRIMARY KEY" {
		t.Errorf("unexpected postgres dialect: %q", got)
	}
	s.driver = DriverSQLite
	if got := s.dialect("id {{serial}}"); got != "id INTEGER PRIMARY KEY AUTOINCREMENT" {
		t.Errorf("unexpected sqlite dialect: %q", got)
	}
}

// --- Commit Tests ---

func TestCommit_Scenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var seed []model.Listing
	for i := 1; i <= 45; i++ {
		seed = append(seed, listing(fmt.Sprint(i), int64(10000+i)))
	}
	if _, err := s.Commit(ctx, seed, model.Filters{}); err != nil {
		t.Fatalf("seed commit error = %v", err)
	}

	var batch []model.Listing
	for i := 1; i <= 50; i++ {
		price := int64(10000 + i)
		if i <= 10 {
			price += 500
		}
		batch = append(batch, listing(fmt.Sprint(i), price))
	}
	stats, err := s.Commit(ctx, batch, model.Filters{MakeID: "1"})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if stats.Total != 50 || stats.New != 5 || stats.Updated != 35 || stats.PriceChanges != 10 {
		t.Errorf("expected {50 5 35 10}, got {%d %d %d %d}", stats.Total, stats.New, stats.Updated, stats.PriceChanges)
	}
	if stats.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", stats.Status)
	}
	if len(stats.Failed) != 0 {
		t.Errorf("expected no failures, got %v", stats.Failed)
	}

	sess, err := s.GetSession(ctx, stats.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Total != 50 || sess.New != 5 || sess.Updated != 35 || sess.PriceChanges != 10 {
		t.Errorf("stored session counters mismatch: %+v", sess)
	}
	if sess.FinishedAt == nil || sess.Status != model.StatusCompleted {
		t.Errorf("expected finished completed session, got %+v", sess)
	}
	if sess.Filters.MakeID != "1" {
		t.Errorf("expected filters to round-trip, got %+v", sess.Filters)
	}
}

func TestCommit_UnchangedPriceTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Commit(ctx, []model.Listing{listing("100", 25000)}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if first.New != 1 {
		t.Errorf("expected new on first commit, got %+v", first)
	}

	second, err := s.Commit(ctx, []model.Listing{listing("100", 25000)}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Updated != 1 || second.New != 0 || second.PriceChanges != 0 {
		t.Errorf("expected updated only, got %+v", second)
	}

	history, err := s.PriceHistory(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("expected no price history, got %d entries", len(history))
	}
}

func TestCommit_PriceChangeAppendsOneEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Commit(ctx, []model.Listing{listing("7", 30000)}, model.Filters{}); err != nil {
		t.Fatal(err)
	}
	stats, err := s.Commit(ctx, []model.Listing{listing("7", 28500)}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.PriceChanges != 1 {
		t.Errorf("expected 1 price change, got %+v", stats)
	}

	history, err := s.PriceHistory(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(history))
	}
	h := history[0]
	if h.OldPrice == nil || *h.OldPrice != 30000 || h.NewPrice != 28500 {
		t.Errorf("expected 30000 -> 28500, got %v -> %d", h.OldPrice, h.NewPrice)
	}
	if h.SessionID != stats.SessionID {
		t.Errorf("expected session %d, got %d", stats.SessionID, h.SessionID)
	}

	got, err := s.GetListing(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Price == nil || *got.Price != 28500 {
		t.Errorf("expected stored price 28500, got %v", got.Price)
	}
}

func TestCommit_UnknownPriceKeepsStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Commit(ctx, []model.Listing{listing("9", 15000)}, model.Filters{}); err != nil {
		t.Fatal(err)
	}
	noPrice := listing("9", 0)
	noPrice.Price = nil
	noPrice.Views = model.Int64(321)

	stats, err := s.Commit(ctx, []model.Listing{noPrice}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 1 {
		t.Errorf("expected updated, got %+v", stats)
	}

	got, _ := s.GetListing(ctx, "9")
	if got.Price == nil || *got.Price != 15000 {
		t.Errorf("expected stored price to survive, got %v", got.Price)
	}
	if got.Views == nil || *got.Views != 321 {
		t.Errorf("expected views to update, got %v", got.Views)
	}
}

func TestCommit_FirstKnownPriceRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noPrice := listing("11", 0)
	noPrice.Price = nil
	if _, err := s.Commit(ctx, []model.Listing{noPrice}, model.Filters{}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Commit(ctx, []model.Listing{listing("11", 15000)}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.New != 0 || stats.Updated != 0 || stats.PriceChanges != 1 {
		t.Errorf("expected 1 price change, got %+v", stats)
	}

	history, err := s.PriceHistory(ctx, "11")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(history))
	}
	if history[0].OldPrice != nil {
		t.Errorf("expected no old price, got %d", *history[0].OldPrice)
	}
	if history[0].NewPrice != 15000 {
		t.Errorf("expected new price 15000, got %d", history[0].NewPrice)
	}

	records, err := s.SessionListings(ctx, stats.SessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !records[0].PriceChanged || records[0].WasNew {
		t.Errorf("expected one price-changed record, got %+v", records)
	}
}

func TestPriceChanged(t *testing.T) {
	tests := []struct {
		name             string
		stored, incoming *int64
		want             bool
	}{
		{"both unknown", nil, nil, false},
		{"incoming unknown", model.Int64(100), nil, false},
		{"first known", nil, model.Int64(100), true},
		{"same", model.Int64(100), model.Int64(100), false},
		{"different", model.Int64(100), model.Int64(90), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := priceChanged(tt.stored, tt.incoming); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCommit_ZeroRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Commit(ctx, nil, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Status != model.StatusCompleted || stats.Total != 0 {
		t.Errorf("expected completed empty session, got %+v", stats)
	}
	sess, err := s.GetSession(ctx, stats.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.StatusCompleted || sess.FinishedAt == nil {
		t.Errorf("expected finalized session, got %+v", sess)
	}
}

func TestCommit_RecordFailureDoesNotAbort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Commit(ctx, []model.Listing{listing("1", 100), {Name: "no id"}, listing("2", 200)}, model.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.New != 2 {
		t.Errorf("expected 2 new, got %+v", stats)
	}
	if len(stats.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %v", stats.Failed)
	}
	sess, _ := s.GetSession(ctx, stats.SessionID)
	if sess.Failed != 1 || sess.Status != model.StatusCompleted {
		t.Errorf("expected completed session with 1 failure, got %+v", sess)
	}
}

func TestCommit_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Commit(ctx, []model.Listing{listing("1", 100)}, model.Filters{}); err == nil {
		t.Error("expected error for cancelled context")
	}

	sessions, err := s.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, sess := range sessions {
		if !sess.Status.Terminal() {
			t.Errorf("session %d left %s", sess.ID, sess.Status)
		}
	}
}

func TestMergeListing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := listing("1", 100)
	stored.City = "Bakı"
	stored.CreatedAt = now.Add(-time.Hour)

	incoming := model.Listing{ID: "1", Views: model.Int64(5)}
	got := mergeListing(stored, incoming, now)

	if got.City != "Bakı" || got.Name != stored.Name {
		t.Errorf("expected empty strings to keep stored values, got %+v", got)
	}
	if got.Price == nil || *got.Price != 100 {
		t.Errorf("expected stored price, got %v", got.Price)
	}
	if !got.CreatedAt.Equal(stored.CreatedAt) || !got.UpdatedAt.Equal(now) {
		t.Errorf("unexpected timestamps: %v %v", got.CreatedAt, got.UpdatedAt)
	}
}

// --- Session Tests ---

func TestSessions_ListAndRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Commit(ctx, []model.Listing{listing("1", 100), listing("2", 200)}, model.Filters{})
	second, _ := s.Commit(ctx, []model.Listing{listing("1", 150), listing("3", 300)}, model.Filters{})

	sessions, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0].ID != second.SessionID || sessions[1].ID != first.SessionID {
		t.Fatalf("expected newest first, got %+v", sessions)
	}

	records, err := s.SessionListings(ctx, second.SessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	flags := map[string]model.SessionListing{}
	for _, r := range records {
		flags[r.ListingID] = r
	}
	if !flags["1"].PriceChanged || flags["1"].WasNew {
		t.Errorf("listing 1 should be price-changed, got %+v", flags["1"])
	}
	if !flags["3"].WasNew {
		t.Errorf("listing 3 should be new, got %+v", flags["3"])
	}
	if flags["1"].Listing.Price == nil || *flags["1"].Listing.Price != 150 {
		t.Errorf("expected joined listing state, got %+v", flags["1"].Listing)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Listing Query Tests ---

func TestSearchListings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bmw := listing("1", 45000)
	bmw.Brand, bmw.Year = "BMW", model.Int(2021)
	kia := listing("2", 18000)
	kia.Brand, kia.Year = "Kia", model.Int(2015)
	camry := listing("3", 30000)
	if _, err := s.Commit(ctx, []model.Listing{bmw, kia, camry}, model.Filters{}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchListings(ctx, ListingQuery{Sort: SortPriceAsc})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != "2" || got[2].ID != "1" {
		t.Errorf("unexpected price order: %v", ids(got))
	}

	got, _ = s.SearchListings(ctx, ListingQuery{Brand: "bm"})
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected BMW only, got %v", ids(got))
	}

	got, _ = s.SearchListings(ctx, ListingQuery{MinYear: model.Int(2018), MaxPrice: model.Int64(40000)})
	if len(got) != 1 || got[0].ID != "3" {
		t.Errorf("expected Camry only, got %v", ids(got))
	}
}

func TestPruneHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.Commit(ctx, []model.Listing{listing("1", 100)}, model.Filters{})
	s.Commit(ctx, []model.Listing{listing("1", 110)}, model.Filters{})
	clock = clock.AddDate(0, 2, 0)
	s.Commit(ctx, []model.Listing{listing("1", 120)}, model.Filters{})

	n, err := s.PruneHistory(ctx, clock.AddDate(0, -1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}
	history, _ := s.PriceHistory(ctx, "1")
	if len(history) != 1 || history[0].NewPrice != 120 {
		t.Errorf("expected only the recent entry to remain, got %+v", history)
	}
}

func ids(ls []model.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ID)
	}
	return out
}

package store

// migrations are applied in order; never edit a released entry, append a
// new one. {{serial}} expands to the dialect's auto-increment primary key.
var migrations = [][]string{
	{
		`CREATE TABLE listings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			price BIGINT,
			currency TEXT NOT NULL DEFAULT '',
			year INTEGER,
			engine TEXT NOT NULL DEFAULT '',
			mileage BIGINT,
			city TEXT NOT NULL DEFAULT '',
			views BIGINT,
			is_new BOOLEAN NOT NULL DEFAULT FALSE,
			is_vip BOOLEAN NOT NULL DEFAULT FALSE,
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			url TEXT NOT NULL DEFAULT '',
			raw TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX idx_listings_views ON listings (views)`,
		`CREATE INDEX idx_listings_brand ON listings (brand)`,
		`CREATE INDEX idx_listings_price ON listings (price)`,
		`CREATE INDEX idx_listings_year ON listings (year)`,

		`CREATE TABLE sessions (
			id {{serial}},
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			status TEXT NOT NULL,
			filters TEXT NOT NULL DEFAULT '{}',
			total INTEGER NOT NULL DEFAULT 0,
			new_count INTEGER NOT NULL DEFAULT 0,
			updated_count INTEGER NOT NULL DEFAULT 0,
			price_changes INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE price_history (
			id {{serial}},
			listing_id TEXT NOT NULL,
			old_price BIGINT,
			new_price BIGINT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			recorded_at BIGINT NOT NULL,
			session_id BIGINT NOT NULL
		)`,
		`CREATE INDEX idx_price_history_listing ON price_history (listing_id, recorded_at)`,

		`CREATE TABLE session_listings (
			session_id BIGINT NOT NULL,
			listing_id TEXT NOT NULL,
			was_new BOOLEAN NOT NULL DEFAULT FALSE,
			price_changed BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (session_id, listing_id)
		)`,
	},
	{
		`CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			time_of_day TEXT NOT NULL DEFAULT '',
			days TEXT NOT NULL DEFAULT '[]',
			filters TEXT NOT NULL DEFAULT '{}',
			max_pages INTEGER NOT NULL DEFAULT 0,
			with_details BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_run BIGINT,
			next_run BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX idx_jobs_due ON jobs (active, next_run)`,

		`CREATE TABLE job_runs (
			id {{serial}},
			job_id TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			status TEXT NOT NULL,
			session_id BIGINT,
			total INTEGER NOT NULL DEFAULT 0,
			new_count INTEGER NOT NULL DEFAULT 0,
			price_changes INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_job_runs_job ON job_runs (job_id, started_at)`,
	},
	{
		`CREATE TABLE catalog (
			kind TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			cached_at BIGINT NOT NULL,
			PRIMARY KEY (kind, parent_id, id)
		)`,
	},
}

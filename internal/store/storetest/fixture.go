// Package storetest builds SQLite fixture databases shaped like the
// analytic schema.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/playintel/market-analyst/internal/store"
)

const ddl = `
CREATE TABLE fact_game_metrics (
	appid INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	developer TEXT,
	publisher TEXT,
	price_usd REAL,
	price_category TEXT,
	total_owners INTEGER,
	positive_reviews INTEGER,
	negative_reviews INTEGER,
	total_reviews INTEGER,
	rating_percentage REAL,
	review_category TEXT,
	genres TEXT,
	top_tags TEXT,
	avg_hours_played REAL,
	median_hours_played REAL,
	ccu INTEGER,
	hours_per_dollar REAL
);
CREATE TABLE agg_price_tier_stats (
	price_category TEXT PRIMARY KEY,
	sort_order INTEGER,
	game_count INTEGER,
	avg_owners INTEGER,
	median_owners INTEGER,
	avg_rating REAL,
	avg_playtime_hours REAL,
	avg_hours_per_dollar REAL,
	games_90plus_rating INTEGER,
	games_1m_plus_owners INTEGER,
	success_rate_100k REAL
);
CREATE TABLE agg_tag_stats (
	tag TEXT PRIMARY KEY,
	game_count INTEGER,
	avg_owners INTEGER,
	median_owners INTEGER,
	avg_rating REAL,
	avg_price REAL,
	games_90plus_rating INTEGER,
	games_1m_plus_owners INTEGER,
	success_rate_100k REAL
);
CREATE TABLE agg_genre_stats (
	genre TEXT PRIMARY KEY,
	game_count INTEGER,
	avg_owners INTEGER,
	median_owners INTEGER,
	avg_rating REAL,
	avg_price REAL,
	games_90plus_rating INTEGER,
	games_1m_plus_owners INTEGER,
	success_rate_100k REAL
);
CREATE TABLE summary_stats (
	total_games INTEGER,
	free_games INTEGER,
	paid_games INTEGER,
	total_owners INTEGER,
	avg_playtime_hours REAL,
	avg_price_paid_games REAL,
	avg_rating REAL,
	total_reviews_submitted INTEGER,
	unique_developers INTEGER,
	unique_publishers INTEGER
);
CREATE TABLE etl_staging (raw TEXT);
CREATE VIEW v_paid_games AS SELECT appid, name, price_usd FROM fact_game_metrics WHERE price_usd > 0;
`

const seed = `
INSERT INTO fact_game_metrics VALUES
	(1, 'Hollow Path', 'Lantern Works', 'Lantern Works', 19.99, 'Medium ($10-$20)', 2000000, 9000, 500, 9500, 94.7, 'Overwhelmingly Positive', 'Action, Indie', 'Metroidvania, Souls-like', 5.2, 4.0, NULL, 0.26),
	(2, 'Tiny Farm', 'Acre Games', 'Acre Games', 20.49, 'Standard ($20-$30)', 350000, 4200, 300, 4500, 93.3, 'Very Positive', 'Simulation, Indie', 'Farming Sim, Cozy', 6.9, 5.5, NULL, 0.34),
	(3, 'Deck of Ruin', 'Cardhouse', 'Cardhouse', 20.00, 'Standard ($20-$30)', 800000, 7000, 900, 7900, 88.6, 'Very Positive', 'Strategy, Indie', 'Roguelike Deckbuilder, Rogue-lite', 8.0, 7.0, NULL, 0.40),
	(4, 'Space Courier', 'Orbit Nine', 'Orbit Nine', 14.99, 'Medium ($10-$20)', 90000, 800, 200, 1000, 80.0, 'Very Positive', 'Casual', 'Space, Cozy', 3.1, 2.5, NULL, 0.21),
	(5, 'Night Shift', 'Lantern Works', 'Lantern Works', 24.99, 'Standard ($20-$30)', 40000, 300, 100, 400, 75.0, 'Mostly Positive', 'Horror, Indie', 'Horror, Survival Horror', 12.4, 9.0, NULL, 0.50),
	(6, 'Free Arena', 'Brawl Co', 'Brawl Co', 0, 'Free', 12000000, 50000, 20000, 70000, 71.4, 'Mostly Positive', 'Action, Free to Play', 'PvP, Shooter', 40.0, 12.0, NULL, NULL);

INSERT INTO agg_price_tier_stats VALUES
	('Free', 0, 1, 12000000, 12000000, 71.4, 40.0, NULL, 0, 1, 100.0),
	('Medium ($10-$20)', 3, 2, 1045000, 1045000, 87.35, 4.15, 0.24, 1, 1, 50.0),
	('Standard ($20-$30)', 4, 3, 396666, 350000, 85.63, 9.1, 0.41, 1, 0, 66.67);

INSERT INTO agg_tag_stats VALUES
	('Cozy', 2, 220000, 220000, 86.65, 17.74, 1, 0, 50.0),
	('Farming Sim', 1, 350000, 350000, 93.3, 20.49, 1, 0, 100.0),
	('Horror', 1, 40000, 40000, 75.0, 24.99, 0, 0, 0.0),
	('Roguelike Deckbuilder', 1, 800000, 800000, 88.6, 20.0, 0, 0, 100.0);

INSERT INTO agg_genre_stats VALUES
	('Indie', 4, 797500, 575000, 87.9, 21.37, 2, 1, 75.0),
	('Action', 2, 7000000, 7000000, 83.05, 9.99, 1, 2, 100.0);

INSERT INTO summary_stats VALUES (6, 1, 5, 15280000, 12.6, 20.09, 83.8, 93300, 5, 5);
`

// PricedAt20MeanHours is the true mean of avg_hours_played for games priced
// within one dollar of $20 in the seeded data.
const PricedAt20MeanHours = 6.7

// Path creates a seeded fixture database and returns its file path.
func Path(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analytics.db")

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{ddl, seed} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed fixture: %v", err)
		}
	}
	return path
}

// Open creates a seeded fixture and opens it through the read-only store.
func Open(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(Path(t), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

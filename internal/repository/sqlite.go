package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection: writes are serialized anyway and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS shelters (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			address TEXT,
			capacity INTEGER NOT NULL,
			occupancy INTEGER NOT NULL,
			is_open INTEGER NOT NULL,
			contact TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			last_updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS risk_zones (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			severity TEXT NOT NULL,
			code TEXT,
			polygon TEXT NOT NULL,
			last_updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS flooded_streets (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			name TEXT,
			path TEXT NOT NULL,
			last_updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_meta (
			kind TEXT PRIMARY KEY,
			last_full_fetch_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_shelters_updated ON shelters(last_updated_at);
		CREATE INDEX IF NOT EXISTS idx_risk_zones_updated ON risk_zones(last_updated_at);
		CREATE INDEX IF NOT EXISTS idx_flooded_streets_updated ON flooded_streets(last_updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

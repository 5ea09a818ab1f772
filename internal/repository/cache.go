package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/models"
)

const upsertSyncMetaSQL = `INSERT INTO sync_meta (kind, last_full_fetch_at) VALUES (?, ?)
	ON CONFLICT(kind) DO UPDATE SET last_full_fetch_at = excluded.last_full_fetch_at`

func (s *SQLiteDB) SaveShelters(ctx context.Context, items []models.Shelter, at time.Time, pruneMissing bool) error {
	return save(ctx, s.db, shelterTable, items, at, pruneMissing)
}

func (s *SQLiteDB) SaveRiskZones(ctx context.Context, items []models.RiskZone, at time.Time, pruneMissing bool) error {
	return save(ctx, s.db, riskZoneTable, items, at, pruneMissing)
}

func (s *SQLiteDB) SaveFloodedStreets(ctx context.Context, items []models.FloodedStreet, at time.Time, pruneMissing bool) error {
	return save(ctx, s.db, floodedStreetTable, items, at, pruneMissing)
}

func (s *SQLiteDB) UpsertRiskZone(ctx context.Context, zone models.RiskZone, at time.Time) error {
	args, err := rowArgs(riskZoneTable, zone, 0, at)
	if err != nil {
		return saveErr(riskZoneTable.kind, err)
	}
	// Drop the placeholder seq; the statement computes it.
	args = append(args[:1], args[2:]...)
	if _, err := s.db.ExecContext(ctx, riskZoneTable.upsertKeepSeqSQL(), args...); err != nil {
		return saveErr(riskZoneTable.kind, fmt.Errorf("upsert %s: %w", zone.ID, err))
	}
	return nil
}

func (s *SQLiteDB) Shelters(ctx context.Context) ([]models.CacheRecord[models.Shelter], error) {
	return load(ctx, s.db, shelterTable)
}

func (s *SQLiteDB) RiskZones(ctx context.Context) ([]models.CacheRecord[models.RiskZone], error) {
	return load(ctx, s.db, riskZoneTable)
}

func (s *SQLiteDB) FloodedStreets(ctx context.Context) ([]models.CacheRecord[models.FloodedStreet], error) {
	return load(ctx, s.db, floodedStreetTable)
}

// PruneOlderThan also forgets a full fetch recorded before cutoff, so a kind
// whose rows all aged out reads as never synced.
func (s *SQLiteDB) PruneOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	name, ok := tableNames[kind]
	if !ok {
		return 0, saveErr(kind, fmt.Errorf("unknown entity kind %q", kind))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, saveErr(kind, fmt.Errorf("db begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE last_updated_at < ?`, name), toMillis(cutoff))
	if err != nil {
		return 0, saveErr(kind, fmt.Errorf("prune: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, saveErr(kind, fmt.Errorf("prune: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_meta WHERE kind = ? AND last_full_fetch_at < ?`, string(kind), toMillis(cutoff)); err != nil {
		return 0, saveErr(kind, fmt.Errorf("prune sync marker: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return 0, saveErr(kind, fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

// LastFullFetch returns when the kind was last saved from a successful full
// fetch. ok is false if it never was.
func (s *SQLiteDB) LastFullFetch(ctx context.Context, kind models.EntityKind) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT last_full_fetch_at FROM sync_meta WHERE kind = ?`, string(kind)).Scan(&ms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, readErr(kind, fmt.Errorf("sync marker: %w", err))
	}
	return fromMillis(ms), true, nil
}

func (s *SQLiteDB) Count(ctx context.Context, kind models.EntityKind) (int, error) {
	name, ok := tableNames[kind]
	if !ok {
		return 0, readErr(kind, fmt.Errorf("unknown entity kind %q", kind))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, name)).Scan(&n); err != nil {
		return 0, readErr(kind, err)
	}
	return n, nil
}

func rowArgs[T any](t table[T], item T, seq int, at time.Time) ([]any, error) {
	vals, err := t.values(item)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(vals)+3)
	args = append(args, t.id(item), seq)
	args = append(args, vals...)
	return append(args, toMillis(at)), nil
}

func save[T any](ctx context.Context, db *sql.DB, t table[T], items []T, at time.Time, pruneMissing bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return saveErr(t.kind, fmt.Errorf("db begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, t.upsertSQL())
	if err != nil {
		return saveErr(t.kind, fmt.Errorf("db prepare: %w", err))
	}
	defer stmt.Close()

	ids := make([]any, 0, len(items))
	for i, item := range items {
		args, err := rowArgs(t, item, i, at)
		if err != nil {
			return saveErr(t.kind, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return saveErr(t.kind, fmt.Errorf("upsert %s: %w", t.id(item), err))
		}
		ids = append(ids, t.id(item))
	}

	if pruneMissing {
		q := fmt.Sprintf(`DELETE FROM %s`, t.name)
		if len(ids) > 0 {
			// Only the placeholder list is interpolated; ids stay parameterized.
			q += fmt.Sprintf(` WHERE id NOT IN (%s)`, strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","))
		}
		if _, err := tx.ExecContext(ctx, q, ids...); err != nil {
			return saveErr(t.kind, fmt.Errorf("prune missing: %w", err))
		}
	}

	if _, err := tx.ExecContext(ctx, upsertSyncMetaSQL, string(t.kind), toMillis(at)); err != nil {
		return saveErr(t.kind, fmt.Errorf("sync marker: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return saveErr(t.kind, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func load[T any](ctx context.Context, db *sql.DB, t table[T]) ([]models.CacheRecord[T], error) {
	rows, err := db.QueryContext(ctx, t.selectSQL())
	if err != nil {
		return nil, readErr(t.kind, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	var out []models.CacheRecord[T]
	for rows.Next() {
		item, ms, err := t.scan(rows)
		if err != nil {
			return nil, readErr(t.kind, fmt.Errorf("scan: %w", err))
		}
		out = append(out, models.CacheRecord[T]{Entity: item, LastUpdatedAt: fromMillis(ms)})
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(t.kind, fmt.Errorf("row iteration: %w", err))
	}
	return out, nil
}

func saveErr(kind models.EntityKind, err error) error {
	return &apperr.StorageError{Op: apperr.SaveFailed, Kind: kind, Err: err}
}

func readErr(kind models.EntityKind, err error) error {
	return &apperr.StorageError{Op: apperr.ReadFailed, Kind: kind, Err: err}
}

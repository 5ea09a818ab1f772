package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// table maps one entity kind onto its SQLite table. columns excludes the
// id, seq and last_updated_at bookkeeping columns.
type table[T any] struct {
	kind    models.EntityKind
	name    string
	columns []string
	id      func(T) string
	values  func(T) ([]any, error)
	scan    func(rowScanner) (T, int64, error)
}

func (t table[T]) upsertSQL() string {
	cols := append([]string{"id", "seq"}, t.columns...)
	cols = append(cols, "last_updated_at")

	ph := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		t.name, strings.Join(cols, ", "), ph, strings.Join(sets, ", "))
}

// upsertKeepSeqSQL appends new ids after the current last position and
// leaves the position of existing ids untouched.
func (t table[T]) upsertKeepSeqSQL() string {
	cols := append([]string{"id", "seq"}, t.columns...)
	cols = append(cols, "last_updated_at")

	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = "?"
	}
	ph[1] = fmt.Sprintf("(SELECT COALESCE(MAX(seq) + 1, 0) FROM %s)", t.name)

	sets := make([]string, 0, len(cols)-2)
	for _, c := range cols[2:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		t.name, strings.Join(cols, ", "), strings.Join(ph, ", "), strings.Join(sets, ", "))
}

func (t table[T]) selectSQL() string {
	cols := append([]string{"id"}, t.columns...)
	cols = append(cols, "last_updated_at")
	return fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq, id`, strings.Join(cols, ", "), t.name)
}

var shelterTable = table[models.Shelter]{
	kind:    models.KindShelter,
	name:    "shelters",
	columns: []string{"name", "address", "capacity", "occupancy", "is_open", "contact", "latitude", "longitude"},
	id:      func(s models.Shelter) string { return s.ID },
	values: func(s models.Shelter) ([]any, error) {
		return []any{s.Name, s.Address, s.Capacity, s.Occupancy, s.IsOpen, s.Contact,
			s.Coordinate.Latitude, s.Coordinate.Longitude}, nil
	},
	scan: func(r rowScanner) (models.Shelter, int64, error) {
		var (
			s        models.Shelter
			address  sql.NullString
			contact  sql.NullString
			isOpen   int64
			updateMs int64
		)
		err := r.Scan(&s.ID, &s.Name, &address, &s.Capacity, &s.Occupancy, &isOpen, &contact,
			&s.Coordinate.Latitude, &s.Coordinate.Longitude, &updateMs)
		s.Address = address.String
		s.Contact = contact.String
		s.IsOpen = isOpen != 0
		return s, updateMs, err
	},
}

var riskZoneTable = table[models.RiskZone]{
	kind:    models.KindRiskZone,
	name:    "risk_zones",
	columns: []string{"name", "severity", "code", "polygon"},
	id:      func(z models.RiskZone) string { return z.ID },
	values: func(z models.RiskZone) ([]any, error) {
		poly, err := json.Marshal(z.Polygon)
		if err != nil {
			return nil, fmt.Errorf("encode polygon %s: %w", z.ID, err)
		}
		return []any{z.Name, z.Severity.String(), z.Code, string(poly)}, nil
	},
	scan: func(r rowScanner) (models.RiskZone, int64, error) {
		var (
			z        models.RiskZone
			severity string
			code     sql.NullString
			poly     string
			updateMs int64
		)
		if err := r.Scan(&z.ID, &z.Name, &severity, &code, &poly, &updateMs); err != nil {
			return z, 0, err
		}
		_ = z.Severity.UnmarshalText([]byte(severity))
		z.Code = code.String
		if err := json.Unmarshal([]byte(poly), &z.Polygon); err != nil {
			return z, 0, fmt.Errorf("decode polygon %s: %w", z.ID, err)
		}
		return z, updateMs, nil
	},
}

var floodedStreetTable = table[models.FloodedStreet]{
	kind:    models.KindFloodedStreet,
	name:    "flooded_streets",
	columns: []string{"name", "path"},
	id:      func(f models.FloodedStreet) string { return f.ID },
	values: func(f models.FloodedStreet) ([]any, error) {
		path, err := json.Marshal(f.Path)
		if err != nil {
			return nil, fmt.Errorf("encode path %s: %w", f.ID, err)
		}
		return []any{f.Name, string(path)}, nil
	},
	scan: func(r rowScanner) (models.FloodedStreet, int64, error) {
		var (
			f        models.FloodedStreet
			name     sql.NullString
			path     string
			updateMs int64
		)
		if err := r.Scan(&f.ID, &name, &path, &updateMs); err != nil {
			return f, 0, err
		}
		f.Name = name.String
		if err := json.Unmarshal([]byte(path), &f.Path); err != nil {
			return f, 0, fmt.Errorf("decode path %s: %w", f.ID, err)
		}
		return f, updateMs, nil
	},
}

var tableNames = map[models.EntityKind]string{
	models.KindShelter:       shelterTable.name,
	models.KindRiskZone:      riskZoneTable.name,
	models.KindFloodedStreet: floodedStreetTable.name,
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

package models

import (
	"slices"
	"time"
)

// Snapshot is the immutable result of one synchronization cycle. Callers
// must not mutate the slices it holds.
type Snapshot struct {
	Shelters       []Shelter       `json:"shelters"`
	RiskZones      []RiskZone      `json:"risk_zones"`
	FloodedStreets []FloodedStreet `json:"flooded_streets"`
	RequestedAt    time.Time       `json:"requested_at"` // when the cycle started
	RetrievedAt    time.Time       `json:"retrieved_at"` // when every slice had settled
	Stale          bool            `json:"stale"`
	StaleKinds     []EntityKind    `json:"stale_kinds,omitempty"`
}

// IsStale reports whether the slice of the given kind came from the cache.
func (s Snapshot) IsStale(kind EntityKind) bool {
	return slices.Contains(s.StaleKinds, kind)
}

// CacheRecord is the latest known value of one entity.
type CacheRecord[T any] struct {
	Entity        T
	LastUpdatedAt time.Time
}

// Entities unwraps cache records in order.
func Entities[T any](records []CacheRecord[T]) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		out = append(out, r.Entity)
	}
	return out
}

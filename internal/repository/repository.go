package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

// CacheStore persists the latest known value of every entity, one table per
// kind, keyed by id. Save* upserts; with pruneMissing set it also deletes ids
// absent from items in the same transaction, which is only valid when items
// is the result of a successful full fetch. Every Save* also records the time
// of that full fetch, so an empty kind that was synced can be told apart from
// one that never was. Reads return records in the order of the most recent
// full save. All failures are *apperr.StorageError.
type CacheStore interface {
	SaveShelters(ctx context.Context, items []models.Shelter, at time.Time, pruneMissing bool) error
	SaveRiskZones(ctx context.Context, items []models.RiskZone, at time.Time, pruneMissing bool) error
	SaveFloodedStreets(ctx context.Context, items []models.FloodedStreet, at time.Time, pruneMissing bool) error
	UpsertRiskZone(ctx context.Context, zone models.RiskZone, at time.Time) error

	Shelters(ctx context.Context) ([]models.CacheRecord[models.Shelter], error)
	RiskZones(ctx context.Context) ([]models.CacheRecord[models.RiskZone], error)
	FloodedStreets(ctx context.Context) ([]models.CacheRecord[models.FloodedStreet], error)

	// LastFullFetch reports when the kind was last saved by Save*.
	LastFullFetch(ctx context.Context, kind models.EntityKind) (time.Time, bool, error)

	// PruneOlderThan deletes records last updated before cutoff.
	PruneOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error)
	Count(ctx context.Context, kind models.EntityKind) (int, error)
}

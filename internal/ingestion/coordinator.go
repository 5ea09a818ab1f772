package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/repository"
)

type CoordinatorConfig struct {
	// FetchTimeout bounds each remote fetch independently.
	FetchTimeout time.Duration
	// PruneMissing deletes cached ids absent from a successful full fetch.
	PruneMissing bool
}

// Coordinator merges the three remote fetches into one Snapshot, falling back
// to the cache per kind. It is the only writer of the cache.
type Coordinator struct {
	source  RemoteSource
	cache   repository.CacheStore
	cfg     CoordinatorConfig
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	cacheMu sync.Mutex
	wg      sync.WaitGroup
}

func NewCoordinator(source RemoteSource, cache repository.CacheStore, cfg CoordinatorConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		source:  source,
		cache:   cache,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

type slice[T any] struct {
	items []T
	stale bool
	err   error
}

// FetchAll runs the three fetches concurrently and returns once every slice
// has settled. A failing fetch never aborts the others. The returned error is
// a *apperr.DataUnavailableError when some kind has neither fresh nor cached
// data.
//
// Cancelling ctx does not interrupt the cycle: each fetch is bounded only by
// FetchTimeout and the cache fallback always runs.
func (c *Coordinator) FetchAll(ctx context.Context) (models.Snapshot, error) {
	ctx = context.WithoutCancel(ctx)
	requestedAt := c.clock.Now()

	var (
		shelters slice[models.Shelter]
		zones    slice[models.RiskZone]
		streets  slice[models.FloodedStreet]
		g        errgroup.Group
	)
	g.Go(func() error {
		shelters = settle(ctx, c, models.KindShelter, c.source.FetchShelters, c.cache.SaveShelters, c.cache.Shelters)
		return nil
	})
	g.Go(func() error {
		zones = settle(ctx, c, models.KindRiskZone, c.source.FetchRiskZones, c.cache.SaveRiskZones, c.cache.RiskZones)
		return nil
	})
	g.Go(func() error {
		streets = settle(ctx, c, models.KindFloodedStreet, c.source.FetchFloodedStreets, c.cache.SaveFloodedStreets, c.cache.FloodedStreets)
		return nil
	})
	_ = g.Wait()

	c.metrics.SyncDuration.Observe(c.clock.Since(requestedAt).Seconds())

	var unavailable apperr.DataUnavailableError
	var staleKinds []models.EntityKind
	collect := func(kind models.EntityKind, stale bool, err error) {
		if err != nil {
			unavailable.Kinds = append(unavailable.Kinds, kind)
			unavailable.Causes = append(unavailable.Causes, err)
			return
		}
		if stale {
			staleKinds = append(staleKinds, kind)
		}
	}
	collect(models.KindShelter, shelters.stale, shelters.err)
	collect(models.KindRiskZone, zones.stale, zones.err)
	collect(models.KindFloodedStreet, streets.stale, streets.err)

	if len(unavailable.Kinds) > 0 {
		c.logger.Error("sync failed", "unavailable", unavailable.Kinds)
		return models.Snapshot{}, &unavailable
	}

	snap := models.Snapshot{
		Shelters:       shelters.items,
		RiskZones:      zones.items,
		FloodedStreets: streets.items,
		RequestedAt:    requestedAt,
		RetrievedAt:    c.clock.Now(),
		Stale:          len(staleKinds) > 0,
		StaleKinds:     staleKinds,
	}
	c.logger.Info("sync complete",
		"shelters", len(snap.Shelters),
		"risk_zones", len(snap.RiskZones),
		"flooded_streets", len(snap.FloodedStreets),
		"stale_kinds", staleKinds,
	)
	return snap, nil
}

func settle[T any](
	ctx context.Context,
	c *Coordinator,
	kind models.EntityKind,
	fetch func(context.Context) ([]T, error),
	save func(context.Context, []T, time.Time, bool) error,
	load func(context.Context) ([]models.CacheRecord[T], error),
) slice[T] {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	items, fetchErr := fetch(fetchCtx)
	cancel()

	if fetchErr == nil {
		c.cacheMu.Lock()
		err := save(ctx, items, c.clock.Now(), c.cfg.PruneMissing)
		c.cacheMu.Unlock()
		if err != nil {
			// The fresh data is still good; the cache just lags behind.
			c.logger.Warn("cache write-through failed", "kind", kind, "error", err)
		}
		c.refreshCount(ctx, kind)
		c.metrics.SyncFetches.WithLabelValues(string(kind), "fresh").Inc()
		return slice[T]{items: items}
	}

	c.logger.Warn("remote fetch failed, using cache", "kind", kind, "error", fetchErr)

	items, err := fallback(ctx, c, kind, load)
	if err != nil {
		c.metrics.SyncFetches.WithLabelValues(string(kind), "unavailable").Inc()
		return slice[T]{err: fmt.Errorf("%s: no cached data: %w", kind, errors.Join(fetchErr, err))}
	}
	c.metrics.SyncFetches.WithLabelValues(string(kind), "cache").Inc()
	return slice[T]{items: items, stale: true}
}

var errNeverSynced = errors.New("never synced")

// fallback reads the cached slice of kind. Zero rows is a valid latest value
// once a full fetch has been recorded for the kind.
func fallback[T any](ctx context.Context, c *Coordinator, kind models.EntityKind, load func(context.Context) ([]models.CacheRecord[T], error)) ([]T, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	records, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return models.Entities(records), nil
	}

	syncedAt, synced, err := c.cache.LastFullFetch(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !synced {
		return nil, errNeverSynced
	}
	c.logger.Debug("cached slice is empty", "kind", kind, "synced_at", syncedAt)
	return []T{}, nil
}

func (c *Coordinator) refreshCount(ctx context.Context, kind models.EntityKind) {
	c.cacheMu.Lock()
	n, err := c.cache.Count(ctx, kind)
	c.cacheMu.Unlock()
	if err != nil {
		return
	}
	c.metrics.CacheEntries.WithLabelValues(string(kind)).Set(float64(n))
}

// RecordZoneUpdate writes a realtime risk zone through to the cache.
func (c *Coordinator) RecordZoneUpdate(ctx context.Context, zone models.RiskZone, at time.Time) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if err := c.cache.UpsertRiskZone(ctx, zone, at); err != nil {
		return fmt.Errorf("record zone %s: %w", zone.ID, err)
	}
	return nil
}

// PruneOlderThan removes cache entries of every kind last written before
// now-maxAge and returns the number removed per kind.
func (c *Coordinator) PruneOlderThan(ctx context.Context, maxAge time.Duration) (map[models.EntityKind]int64, error) {
	cutoff := c.clock.Now().Add(-maxAge)
	removed := make(map[models.EntityKind]int64, len(models.EntityKinds))

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, kind := range models.EntityKinds {
		n, err := c.cache.PruneOlderThan(ctx, kind, cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", kind, err)
		}
		removed[kind] = n
		c.metrics.CachePruned.WithLabelValues(string(kind), "age").Add(float64(n))
	}
	c.logger.Info("cache pruned", "cutoff", cutoff, "removed", removed)
	return removed, nil
}

// StartRefresh calls tick every interval until ctx is done. tick normally
// runs a FetchAll and commits the result; the initial sync is the caller's
// job.
func (c *Coordinator) StartRefresh(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.runRefresh(ctx, interval, tick)
}

func (c *Coordinator) runRefresh(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer c.wg.Done()
	c.logger.Info("starting refresh loop", "interval", interval)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("refresh loop shutting down")
			return
		case <-ticker.Chan():
			tick(ctx)
		}
	}
}

// Wait blocks until the refresh loop has exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

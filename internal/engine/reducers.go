package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/geofence"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/realtime"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

// The reducers below are pure: they never mutate cur and share untouched
// slices with it.

// applySnapshot installs a fresh snapshot. Risk zones delivered by the
// realtime channel after the snapshot's fetch started win over the fetched
// copy; older realtime deltas are superseded and forgotten.
func applySnapshot(cur state.UIState, snap models.Snapshot, eval geofence.Evaluator) (state.UIState, bool) {
	zones := snap.RiskZones
	var freshness map[string]time.Time

	for _, z := range cur.Snapshot.RiskZones {
		receivedAt, ok := cur.ZoneFreshness[z.ID]
		if !ok || !receivedAt.After(snap.RequestedAt) {
			continue
		}
		if freshness == nil {
			freshness = make(map[string]time.Time)
			zones = slices.Clone(zones)
		}
		zones = upsertZone(zones, z)
		freshness[z.ID] = receivedAt
	}

	if freshness != nil {
		snap.RiskZones = zones
	}
	cur.Snapshot = snap
	cur.HasSnapshot = true
	cur.Syncing = false
	cur.SyncError = ""
	cur.ZoneFreshness = freshness
	return recompute(cur, eval)
}

// applyZoneUpdate merges one realtime risk zone by id.
func applyZoneUpdate(cur state.UIState, u realtime.RiskZoneUpdate, eval geofence.Evaluator) (state.UIState, bool) {
	cur.Snapshot.RiskZones = upsertZone(slices.Clone(cur.Snapshot.RiskZones), u.Zone)

	freshness := make(map[string]time.Time, len(cur.ZoneFreshness)+1)
	maps.Copy(freshness, cur.ZoneFreshness)
	freshness[u.Zone.ID] = u.ReceivedAt
	cur.ZoneFreshness = freshness

	return recompute(cur, eval)
}

func applyPosition(cur state.UIState, pos models.Position, eval geofence.Evaluator) (state.UIState, bool) {
	cur.Position = &pos
	return recompute(cur, eval)
}

func applySyncFailure(cur state.UIState, err error) state.UIState {
	cur.Syncing = false
	cur.SyncError = err.Error()
	return cur
}

// recompute derives the banner and the active zone from the position and the
// current zones. changed reports whether the banner moved.
func recompute(cur state.UIState, eval geofence.Evaluator) (state.UIState, bool) {
	if cur.Position == nil {
		changed := cur.Banner != models.BannerSafe
		cur.Banner = models.BannerSafe
		cur.ActiveZone = nil
		return cur, changed
	}

	p := cur.Position.Coordinate
	banner, changed := eval.ComputeBannerState(cur.Banner, p, cur.Snapshot.RiskZones)
	cur.Banner = banner
	cur.ActiveZone = nil
	if z, ok := eval.SelectHighestRisk(p, cur.Snapshot.RiskZones); ok {
		cur.ActiveZone = &z
	}
	return cur, changed
}

// upsertZone replaces the zone with the same id in place or appends it.
// zones must already be a private copy.
func upsertZone(zones []models.RiskZone, z models.RiskZone) []models.RiskZone {
	if i := slices.IndexFunc(zones, func(o models.RiskZone) bool { return o.ID == z.ID }); i >= 0 {
		zones[i] = z
		return zones
	}
	return append(zones, z)
}

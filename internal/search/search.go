// Package search builds a throwaway index over the current snapshot. The
// index is rebuilt on every query so it can never lag behind the snapshot.
package search

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mr1hm/go-hazard-watch/internal/geo"
	"github.com/mr1hm/go-hazard-watch/internal/models"
)

type Entry struct {
	ID            string            `json:"id"`
	Kind          models.EntityKind `json:"kind"`
	Label         string            `json:"label"`
	SecondaryText string            `json:"secondary_text"`
	Coordinate    models.Coordinate `json:"coordinate"`
}

// BuildIndex lists shelters, then risk zones, then flooded streets, each in
// snapshot order.
func BuildIndex(snap models.Snapshot) []Entry {
	out := make([]Entry, 0, len(snap.Shelters)+len(snap.RiskZones)+len(snap.FloodedStreets))
	for _, s := range snap.Shelters {
		out = append(out, Entry{
			ID:            s.ID,
			Kind:          models.KindShelter,
			Label:         s.Name,
			SecondaryText: s.Address,
			Coordinate:    s.Coordinate,
		})
	}
	for _, z := range snap.RiskZones {
		out = append(out, Entry{
			ID:            z.ID,
			Kind:          models.KindRiskZone,
			Label:         z.Name,
			SecondaryText: zoneSecondary(z),
			Coordinate:    first(z.Polygon),
		})
	}
	for _, f := range snap.FloodedStreets {
		label := f.Name
		if label == "" {
			label = f.ID
		}
		out = append(out, Entry{
			ID:            f.ID,
			Kind:          models.KindFloodedStreet,
			Label:         label,
			SecondaryText: "flooded street",
			Coordinate:    first(f.Path),
		})
	}
	return out
}

func zoneSecondary(z models.RiskZone) string {
	if z.Code != "" {
		return "risk " + z.Code
	}
	return "risk " + strings.ToLower(z.Severity.String())
}

func first(cs []models.Coordinate) models.Coordinate {
	if len(cs) == 0 {
		return models.Coordinate{}
	}
	return cs[0]
}

// Filter keeps entries whose label or secondary text contains query,
// ignoring case and accents. An empty query returns entries unchanged.
func Filter(entries []Entry, query string) []Entry {
	q := fold(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	out := make([]Entry, 0)
	for _, e := range entries {
		if strings.Contains(fold(e.Label), q) || strings.Contains(fold(e.SecondaryText), q) {
			out = append(out, e)
		}
	}
	return out
}

// fold lowercases and strips combining marks, so "Refugio" matches "REFÚGIO".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

type ShelterDistance struct {
	Shelter        models.Shelter `json:"shelter"`
	DistanceMeters float64        `json:"distance_meters"`
}

// NearestShelters returns open shelters with free space ordered by distance
// from origin. limit <= 0 returns all of them.
func NearestShelters(origin models.Coordinate, shelters []models.Shelter, limit int) []ShelterDistance {
	out := make([]ShelterDistance, 0, len(shelters))
	for _, s := range shelters {
		if !s.IsOpen || s.AvailableSpaces() <= 0 {
			continue
		}
		out = append(out, ShelterDistance{Shelter: s, DistanceMeters: geo.Distance(origin, s.Coordinate)})
	}
	slices.SortStableFunc(out, func(a, b ShelterDistance) int {
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

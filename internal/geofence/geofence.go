// Package geofence turns a position and a set of risk zones into the banner
// shown to the user.
package geofence

import (
	"strings"

	"github.com/mr1hm/go-hazard-watch/internal/geo"
	"github.com/mr1hm/go-hazard-watch/internal/models"
)

// severityCodes maps upstream risk codes (compared case-insensitively) to a
// severity. Anything else is SeverityUnknown.
var severityCodes = map[string]models.Severity{
	"ALTO":     models.SeverityHigh,
	"ALTA":     models.SeverityHigh,
	"HIGH":     models.SeverityHigh,
	"MEDIO":    models.SeverityMedium,
	"MEDIA":    models.SeverityMedium,
	"MODERADO": models.SeverityMedium,
	"MEDIUM":   models.SeverityMedium,
	"BAJO":     models.SeverityLow,
	"BAJA":     models.SeverityLow,
	"LOW":      models.SeverityLow,
}

// SeverityFromCode normalizes a raw risk code.
func SeverityFromCode(code string) models.Severity {
	return severityCodes[strings.ToUpper(strings.TrimSpace(code))]
}

// BannerForSeverity maps a zone severity to the banner it triggers. Low and
// unrecognized severities fail open to Safe.
func BannerForSeverity(s models.Severity) models.BannerState {
	switch s {
	case models.SeverityHigh:
		return models.BannerDanger
	case models.SeverityMedium:
		return models.BannerWarning
	default:
		return models.BannerSafe
	}
}

// BannerForCode is SeverityFromCode followed by BannerForSeverity.
func BannerForCode(code string) models.BannerState {
	return BannerForSeverity(SeverityFromCode(code))
}

// Evaluator applies one boundary policy consistently to every containment
// test. The zero value excludes boundary points.
type Evaluator struct {
	IncludeBoundary bool
}

func New(includeBoundary bool) Evaluator {
	return Evaluator{IncludeBoundary: includeBoundary}
}

func (e Evaluator) Contains(zone models.RiskZone, p models.Coordinate) bool {
	return geo.PointInPolygon(p, zone.Polygon, e.IncludeBoundary)
}

// SelectHighestRisk returns the highest-severity zone containing p. Ties go
// to the zone that comes first in zones.
func (e Evaluator) SelectHighestRisk(p models.Coordinate, zones []models.RiskZone) (models.RiskZone, bool) {
	var (
		best  models.RiskZone
		found bool
	)
	for _, z := range zones {
		if !e.Contains(z, p) {
			continue
		}
		if !found || z.Severity > best.Severity {
			best, found = z, true
		}
	}
	return best, found
}

// ComputeBannerState is pure: the same inputs always produce the same state,
// so a second call with previous set to the first result reports no change.
func (e Evaluator) ComputeBannerState(previous models.BannerState, p models.Coordinate, zones []models.RiskZone) (models.BannerState, bool) {
	next := models.BannerSafe
	if z, ok := e.SelectHighestRisk(p, zones); ok {
		next = BannerForSeverity(z.Severity)
	}
	return next, next != previous
}

package api

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-hazard-watch/internal/geo"
	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/state"
)

// toGeoJSON renders the map layers of a state: shelters as points, risk zones
// as polygons, flooded streets as lines and the last position, if any.
func toGeoJSON(st state.UIState) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	snap := st.Snapshot

	for _, s := range snap.Shelters {
		f := geojson.NewFeature(geo.Point(s.Coordinate))
		f.Properties["layer"] = "shelter"
		f.Properties["id"] = s.ID
		f.Properties["name"] = s.Name
		f.Properties["address"] = s.Address
		f.Properties["is_open"] = s.IsOpen
		f.Properties["available_spaces"] = s.AvailableSpaces()
		f.Properties["stale"] = snap.IsStale(models.KindShelter)
		fc.Append(f)
	}

	for _, z := range snap.RiskZones {
		f := geojson.NewFeature(orb.Polygon{ring(z.Polygon)})
		f.Properties["layer"] = "risk_zone"
		f.Properties["id"] = z.ID
		f.Properties["name"] = z.Name
		f.Properties["severity"] = z.Severity.String()
		f.Properties["active"] = st.ActiveZone != nil && st.ActiveZone.ID == z.ID
		f.Properties["stale"] = snap.IsStale(models.KindRiskZone)
		fc.Append(f)
	}

	for _, fs := range snap.FloodedStreets {
		line := make(orb.LineString, len(fs.Path))
		for i, c := range fs.Path {
			line[i] = geo.Point(c)
		}
		f := geojson.NewFeature(line)
		f.Properties["layer"] = "flooded_street"
		f.Properties["id"] = fs.ID
		f.Properties["name"] = fs.Name
		f.Properties["stale"] = snap.IsStale(models.KindFloodedStreet)
		fc.Append(f)
	}

	if st.Position != nil {
		f := geojson.NewFeature(geo.Point(st.Position.Coordinate))
		f.Properties["layer"] = "position"
		f.Properties["label"] = st.Position.Label
		f.Properties["banner"] = st.Banner.String()
		fc.Append(f)
	}

	return fc
}

// ring closes the polygon outline, which GeoJSON requires.
func ring(polygon []models.Coordinate) orb.Ring {
	r := make(orb.Ring, 0, len(polygon)+1)
	for _, c := range polygon {
		r = append(r, geo.Point(c))
	}
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

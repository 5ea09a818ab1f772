package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

func seeded() models.Snapshot {
	return models.Snapshot{
		Shelters: []models.Shelter{{ID: "s1", Name: "Refugio Centro", Address: "Calle 5"}},
		RiskZones: []models.RiskZone{{
			ID: "z1", Name: "Zona Norte", Severity: models.SeverityHigh, Code: "ALTO",
			Polygon: []models.Coordinate{{Latitude: 1, Longitude: 1}},
		}},
	}
}

func TestFilter_Refugio(t *testing.T) {
	got := Filter(BuildIndex(seeded()), "refugio")
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, models.KindShelter, got[0].Kind)
}

func TestFilter_EmptyQueryReturnsEverything(t *testing.T) {
	idx := BuildIndex(seeded())
	assert.Equal(t, idx, Filter(idx, ""))
	assert.Equal(t, idx, Filter(idx, "   "))
}

func TestFilter_MatchesSecondaryText(t *testing.T) {
	got := Filter(BuildIndex(seeded()), "calle")
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)

	got = Filter(BuildIndex(seeded()), "alto")
	require.Len(t, got, 1)
	assert.Equal(t, "z1", got[0].ID)
}

func TestFilter_IgnoresCaseAndAccents(t *testing.T) {
	idx := []Entry{
		{ID: "a", Label: "Estación Norte"},
		{ID: "b", Label: "ESTACION SUR"},
		{ID: "c", Label: "Parque"},
	}
	got := Filter(idx, "estación")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestFilter_NoMatch(t *testing.T) {
	assert.Empty(t, Filter(BuildIndex(seeded()), "hospital"))
}

func TestBuildIndex_FloodedStreetFallsBackToID(t *testing.T) {
	idx := BuildIndex(models.Snapshot{FloodedStreets: []models.FloodedStreet{{ID: "f7"}}})
	require.Len(t, idx, 1)
	assert.Equal(t, "f7", idx[0].Label)
	assert.Equal(t, models.KindFloodedStreet, idx[0].Kind)
}

func TestNearestShelters(t *testing.T) {
	origin := models.Coordinate{Latitude: 0, Longitude: 0}
	shelters := []models.Shelter{
		{ID: "far", IsOpen: true, Capacity: 10, Coordinate: models.Coordinate{Latitude: 0, Longitude: 1}},
		{ID: "closed", IsOpen: false, Capacity: 10, Coordinate: models.Coordinate{Latitude: 0, Longitude: 0.01}},
		{ID: "full", IsOpen: true, Capacity: 10, Occupancy: 10, Coordinate: models.Coordinate{Latitude: 0, Longitude: 0.01}},
		{ID: "near", IsOpen: true, Capacity: 10, Coordinate: models.Coordinate{Latitude: 0, Longitude: 0.1}},
	}

	got := NearestShelters(origin, shelters, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Shelter.ID)
	assert.Equal(t, "far", got[1].Shelter.ID)
	assert.InDelta(t, 11120, got[0].DistanceMeters, 50)

	got = NearestShelters(origin, shelters, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Shelter.ID)
}

// Package wire isolates the upstream JSON schema from the domain model. Every
// payload the remote API or the realtime channel sends is decoded here.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
	"github.com/mr1hm/go-hazard-watch/internal/geofence"
	"github.com/mr1hm/go-hazard-watch/internal/models"
)

// Envelope wraps every REST response.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Shelter struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Capacity  int     `json:"capacity"`
	Occupancy int     `json:"occupancy"`
	IsOpen    bool    `json:"isOpen"`
	Contact   string  `json:"contact"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type RiskZone struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	RiskLevel string   `json:"riskLevel"`
	Area      []LatLng `json:"area"`
}

type FloodedStreet struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Path []LatLng `json:"path"`
}

type Report struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	PhotoURLs   []string `json:"photoUrls,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

type ReportAck struct {
	ID string `json:"id"`
}

var errMissingID = errors.New("missing id")

func toCoordinates(pts []LatLng) []models.Coordinate {
	out := make([]models.Coordinate, len(pts))
	for i, p := range pts {
		out[i] = models.Coordinate{Latitude: p.Lat, Longitude: p.Lng}
	}
	return out
}

func (s Shelter) ToModel() (models.Shelter, error) {
	if strings.TrimSpace(s.ID) == "" {
		return models.Shelter{}, &apperr.ParseError{What: "shelter", Err: errMissingID}
	}
	return models.Shelter{
		ID:         s.ID,
		Name:       s.Name,
		Address:    s.Address,
		Capacity:   s.Capacity,
		Occupancy:  s.Occupancy,
		IsOpen:     s.IsOpen,
		Contact:    s.Contact,
		Coordinate: models.Coordinate{Latitude: s.Lat, Longitude: s.Lng},
	}, nil
}

// ToModel keeps zones with fewer than three vertices; the evaluator treats
// them as containing nothing.
func (z RiskZone) ToModel() (models.RiskZone, error) {
	if strings.TrimSpace(z.ID) == "" {
		return models.RiskZone{}, &apperr.ParseError{What: "risk zone", Err: errMissingID}
	}
	return models.RiskZone{
		ID:       z.ID,
		Name:     z.Name,
		Severity: geofence.SeverityFromCode(z.RiskLevel),
		Code:     z.RiskLevel,
		Polygon:  toCoordinates(z.Area),
	}, nil
}

func (f FloodedStreet) ToModel() (models.FloodedStreet, error) {
	if strings.TrimSpace(f.ID) == "" {
		return models.FloodedStreet{}, &apperr.ParseError{What: "flooded street", Err: errMissingID}
	}
	if len(f.Path) < 2 {
		return models.FloodedStreet{}, &apperr.ParseError{
			What: "flooded street " + f.ID,
			Err:  fmt.Errorf("path has %d points, need at least 2", len(f.Path)),
		}
	}
	return models.FloodedStreet{ID: f.ID, Name: f.Name, Path: toCoordinates(f.Path)}, nil
}

// FromReport builds the submission body for a report.
func FromReport(r models.Report) Report {
	return Report{
		ID:          r.ID,
		Category:    r.Category,
		Description: r.Description,
		Lat:         r.Coordinate.Latitude,
		Lng:         r.Coordinate.Longitude,
		PhotoURLs:   r.PhotoURLs,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// MapAll converts a list of wire entities, failing on the first bad item.
func MapAll[W interface{ ToModel() (M, error) }, M any](items []W) ([]M, error) {
	out := make([]M, 0, len(items))
	for _, it := range items {
		m, err := it.ToModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeRiskZone parses one realtime frame.
func DecodeRiskZone(data []byte) (models.RiskZone, error) {
	var z RiskZone
	if err := json.Unmarshal(data, &z); err != nil {
		return models.RiskZone{}, &apperr.ParseError{What: "risk zone frame", Err: err}
	}
	return z.ToModel()
}

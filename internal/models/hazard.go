package models

import "strings"

type EntityKind string

const (
	KindShelter       EntityKind = "shelter"
	KindRiskZone      EntityKind = "risk_zone"
	KindFloodedStreet EntityKind = "flooded_street"
)

// EntityKinds lists every cached kind in snapshot order.
var EntityKinds = []EntityKind{KindShelter, KindRiskZone, KindFloodedStreet}

type Shelter struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Capacity   int        `json:"capacity"`
	Occupancy  int        `json:"occupancy"`
	IsOpen     bool       `json:"is_open"`
	Contact    string     `json:"contact"`
	Coordinate Coordinate `json:"coordinate"`
}

// AvailableSpaces is derived, never stored.
func (s Shelter) AvailableSpaces() int {
	return s.Capacity - s.Occupancy
}

// Severity ranks risk zones. The zero value is an unrecognized upstream code
// and ranks below Low.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	default:
		*s = SeverityUnknown
	}
	return nil
}

type RiskZone struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Severity Severity     `json:"severity"`
	Code     string       `json:"code"` // raw upstream risk code, e.g. "ALTO"
	Polygon  []Coordinate `json:"polygon"`
}

type FloodedStreet struct {
	ID   string       `json:"id"`
	Name string       `json:"name,omitempty"`
	Path []Coordinate `json:"path"`
}

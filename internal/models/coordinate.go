package models

import "time"

// PlaceholderLabel is shown when a position has no resolved place name.
const PlaceholderLabel = "Unknown location"

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Position struct {
	Coordinate Coordinate `json:"coordinate"`
	Label      string     `json:"label"`
	ReportedAt time.Time  `json:"reported_at"`
}

// Valid reports whether c lies within WGS84 latitude and longitude bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

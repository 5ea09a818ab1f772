package models

import "time"

// Report is an incident report submitted by the user. Form state and photo
// compression happen upstream of this type.
type Report struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Coordinate  Coordinate `json:"coordinate"`
	PhotoURLs   []string   `json:"photo_urls,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type ReportReceipt struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	AcceptedAt time.Time `json:"accepted_at"`
}

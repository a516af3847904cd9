package messages

import "time"

// LocationUpdate is sent by devices, either through kafka or mqtt.
type LocationUpdate struct {
	TripID     string    `json:"trip_id"`
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

package messages

import (
	"time"
)

type EventType string

const (
	AlertTriggered EventType = "alert.triggered"
	AlertResolved  EventType = "alert.resolved"
	TripStarted    EventType = "trip.started"
	TripDelayed    EventType = "trip.delayed"
	TripCompleted  EventType = "trip.completed"
	TripCancelled  EventType = "trip.cancelled"
)

// SafetyEvent is published after a transition has been committed.
// Consumers must tolerate duplicates: a publish can be retried by the
// caller but the transition itself never is.
type SafetyEvent struct {
	Type       EventType `json:"type"`
	EntityID   string    `json:"entity_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`

	// Dispatch summary of the notice sent with this transition, if any.
	Outcome string `json:"outcome,omitempty"`
	Sent    int    `json:"sent,omitempty"`
	Failed  int    `json:"failed,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

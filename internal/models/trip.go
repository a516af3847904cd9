package models

import "time"

type TripStatus string

const (
	TripStatusOngoing   TripStatus = "ongoing"
	TripStatusDelayed   TripStatus = "delayed"
	TripStatusCompleted TripStatus = "completed"
	// TripStatusAlerted is set when an SOS is raised during the trip.
	TripStatusAlerted   TripStatus = "alerted"
	TripStatusCancelled TripStatus = "cancelled"
)

func (s TripStatus) Terminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

func (s TripStatus) AcceptsLocation() bool {
	return s == TripStatusOngoing || s == TripStatusDelayed
}

type TripEventKind string

const (
	TripEventDelay     TripEventKind = "delay"
	TripEventDeviation TripEventKind = "deviation"
	TripEventSOS       TripEventKind = "sos"
)

type TripEvent struct {
	Kind      TripEventKind `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
}

type Trip struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	StartLocation   Location         `json:"startLocation"`
	EndLocation     Location         `json:"endLocation"`
	CurrentLocation *TrackedLocation `json:"currentLocation,omitempty"`
	StartTime       time.Time        `json:"startTime"`
	ExpectedEndTime time.Time        `json:"expectedEndTime"`
	ActualEndTime   *time.Time       `json:"actualEndTime,omitempty"`
	Status          TripStatus       `json:"status"`

	// Events is append-only and ordered by timestamp.
	Events []TripEvent `json:"events"`
	// Notifications collects the records of every notice sent for this trip.
	Notifications []NotificationRecord `json:"notifications,omitempty"`

	Version int64 `json:"version"`
}

func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	out := *t
	if t.CurrentLocation != nil {
		cl := *t.CurrentLocation
		out.CurrentLocation = &cl
	}
	if t.ActualEndTime != nil {
		at := *t.ActualEndTime
		out.ActualEndTime = &at
	}
	out.Events = append([]TripEvent(nil), t.Events...)
	out.Notifications = append([]NotificationRecord(nil), t.Notifications...)
	return &out
}

func (t *Trip) CountEvents(kind TripEventKind) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

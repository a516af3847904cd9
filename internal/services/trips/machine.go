package trips

import (
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

type EventKind int

const (
	EventLocation EventKind = iota + 1
	EventOverdueCheck
	EventComplete
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventLocation:
		return "location"
	case EventOverdueCheck:
		return "overdue_check"
	case EventComplete:
		return "complete"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one input to the trip state machine. At is the wall clock of the
// caller; Location is only read for EventLocation.
type Event struct {
	Kind     EventKind
	At       time.Time
	Location models.Location
}

// Effect names the notice a committed transition asks for.
type Effect int

const (
	EffectNone Effect = iota
	EffectDelayed
	EffectCompleted
)

const delayMessage = "Trip has exceeded expected duration"

// NewTrip validates the start request and builds the initial ongoing trip.
func NewTrip(id, userID string, start, end models.Location, startTime, expectedEnd time.Time) (models.Trip, error) {
	switch {
	case !start.Valid():
		return models.Trip{}, errors.Wrap(models.ErrInvalidInput, "startLocation is invalid")
	case !end.Valid():
		return models.Trip{}, errors.Wrap(models.ErrInvalidInput, "endLocation is invalid")
	case expectedEnd.IsZero():
		return models.Trip{}, errors.Wrap(models.ErrInvalidInput, "expectedEndTime is required")
	case !expectedEnd.After(startTime):
		return models.Trip{}, errors.Wrap(models.ErrInvalidInput, "expectedEndTime must be after the start time")
	}
	return models.Trip{
		ID:              id,
		UserID:          userID,
		StartLocation:   start,
		EndLocation:     end,
		StartTime:       startTime,
		ExpectedEndTime: expectedEnd,
		Status:          models.TripStatusOngoing,
		Events:          []models.TripEvent{},
	}, nil
}

// Apply computes the next trip state. It does no I/O and never mutates t.
// On error the returned trip is the unchanged input.
func Apply(t models.Trip, ev Event) (models.Trip, Effect, error) {
	next := *t.Clone()

	switch ev.Kind {
	case EventLocation:
		if !ev.Location.Valid() {
			return t, EffectNone, errors.Wrap(models.ErrInvalidInput, "location is invalid")
		}
		if !t.Status.AcceptsLocation() {
			return t, EffectNone, errors.Wrapf(models.ErrInvalidState, "trip %s is %s", t.ID, t.Status)
		}
		next.CurrentLocation = &models.TrackedLocation{Location: ev.Location, UpdatedAt: ev.At}
		eff := markOverdue(&next, ev.At)
		return next, eff, nil

	case EventOverdueCheck:
		// Not an error: the sweeper may race with a completion.
		eff := markOverdue(&next, ev.At)
		return next, eff, nil

	case EventComplete:
		if t.Status.Terminal() {
			return t, EffectNone, errors.Wrapf(models.ErrInvalidState, "trip %s is already %s", t.ID, t.Status)
		}
		at := ev.At
		next.Status = models.TripStatusCompleted
		next.ActualEndTime = &at
		return next, EffectCompleted, nil

	case EventCancel:
		if t.Status.Terminal() {
			return t, EffectNone, errors.Wrapf(models.ErrInvalidState, "trip %s is already %s", t.ID, t.Status)
		}
		next.Status = models.TripStatusCancelled
		return next, EffectNone, nil
	}
	return t, EffectNone, errors.Wrapf(models.ErrInvalidInput, "unknown trip event %d", ev.Kind)
}

// markOverdue moves an ongoing trip past its deadline to delayed. A trip
// that is already delayed stays untouched, which keeps the delay event and
// its notice to one per trip.
func markOverdue(t *models.Trip, at time.Time) Effect {
	if t.Status != models.TripStatusOngoing || !at.After(t.ExpectedEndTime) {
		return EffectNone
	}
	ts := at
	if n := len(t.Events); n > 0 && ts.Before(t.Events[n-1].Timestamp) {
		ts = t.Events[n-1].Timestamp
	}
	t.Status = models.TripStatusDelayed
	t.Events = append(t.Events, models.TripEvent{
		Kind:      models.TripEventDelay,
		Timestamp: ts,
		Message:   delayMessage,
	})
	return EffectDelayed
}

package mongosafety

import (
	"time"

	"github.com/BearBump/SafeZone/internal/models"
)

type locationDoc struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
}

type trackedLocationDoc struct {
	Latitude    float64   `bson:"latitude"`
	Longitude   float64   `bson:"longitude"`
	LastUpdated time.Time `bson:"lastUpdated"`
}

type recordDoc struct {
	ContactID     string    `bson:"contactId"`
	Channel       string    `bson:"channel"`
	Notice        string    `bson:"notice"`
	Address       string    `bson:"address,omitempty"`
	AttemptedAt   time.Time `bson:"attemptedAt"`
	Outcome       string    `bson:"outcome"`
	FailureReason string    `bson:"failureReason,omitempty"`
	MessageID     string    `bson:"messageId,omitempty"`
	Transient     bool      `bson:"transient,omitempty"`
}

type alertDoc struct {
	ID                string      `bson:"_id"`
	UserID            string      `bson:"userId"`
	Location          locationDoc `bson:"location"`
	Status            string      `bson:"status"`
	CreatedAt         time.Time   `bson:"createdAt"`
	ResolvedAt        *time.Time  `bson:"resolvedAt,omitempty"`
	Notifications     []recordDoc `bson:"notifications"`
	ResolutionNotices []recordDoc `bson:"resolutionNotices,omitempty"`
	Version           int64       `bson:"version"`
}

type eventDoc struct {
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	Message   string    `bson:"message"`
}

type tripDoc struct {
	ID              string              `bson:"_id"`
	UserID          string              `bson:"userId"`
	StartLocation   locationDoc         `bson:"startLocation"`
	EndLocation     locationDoc         `bson:"endLocation"`
	CurrentLocation *trackedLocationDoc `bson:"currentLocation,omitempty"`
	StartTime       time.Time           `bson:"startTime"`
	ExpectedEndTime time.Time           `bson:"expectedEndTime"`
	ActualEndTime   *time.Time          `bson:"actualEndTime,omitempty"`
	Status          string              `bson:"status"`
	Alerts          []eventDoc          `bson:"alerts"`
	Notifications   []recordDoc         `bson:"notifications,omitempty"`
	Version         int64               `bson:"version"`
}

type contactDoc struct {
	ID    string `bson:"id"`
	Name  string `bson:"name"`
	Phone string `bson:"phone"`
	Email string `bson:"email"`
}

type userDoc struct {
	ID                string       `bson:"_id"`
	Name              string       `bson:"name"`
	EmergencyContacts []contactDoc `bson:"emergencyContacts"`
}

func toLocation(l models.Location) locationDoc {
	return locationDoc{Latitude: l.Lat, Longitude: l.Lon}
}

func (d locationDoc) model() models.Location {
	return models.Location{Lat: d.Latitude, Lon: d.Longitude}
}

func toRecords(rs []models.NotificationRecord) []recordDoc {
	out := make([]recordDoc, 0, len(rs))
	for _, r := range rs {
		out = append(out, recordDoc{
			ContactID:     r.ContactID,
			Channel:       string(r.Channel),
			Notice:        string(r.Notice),
			Address:       r.Address,
			AttemptedAt:   r.AttemptedAt,
			Outcome:       string(r.Outcome),
			FailureReason: r.FailureReason,
			MessageID:     r.MessageID,
			Transient:     r.Transient,
		})
	}
	return out
}

func fromRecords(ds []recordDoc) []models.NotificationRecord {
	if len(ds) == 0 {
		return nil
	}
	out := make([]models.NotificationRecord, 0, len(ds))
	for _, d := range ds {
		out = append(out, models.NotificationRecord{
			ContactID:     d.ContactID,
			Channel:       models.Channel(d.Channel),
			Notice:        models.NoticeKind(d.Notice),
			Address:       d.Address,
			AttemptedAt:   d.AttemptedAt.UTC(),
			Outcome:       models.NotificationOutcome(d.Outcome),
			FailureReason: d.FailureReason,
			MessageID:     d.MessageID,
			Transient:     d.Transient,
		})
	}
	return out
}

func toAlertDoc(a *models.Alert) alertDoc {
	return alertDoc{
		ID:                a.ID,
		UserID:            a.UserID,
		Location:          toLocation(a.Location),
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt,
		ResolvedAt:        a.ResolvedAt,
		Notifications:     toRecords(a.Notifications),
		ResolutionNotices: toRecords(a.ResolutionNotices),
		Version:           a.Version,
	}
}

func (d alertDoc) model() *models.Alert {
	a := &models.Alert{
		ID:                d.ID,
		UserID:            d.UserID,
		Location:          d.Location.model(),
		Status:            models.AlertStatus(d.Status),
		CreatedAt:         d.CreatedAt.UTC(),
		Notifications:     fromRecords(d.Notifications),
		ResolutionNotices: fromRecords(d.ResolutionNotices),
		Version:           d.Version,
	}
	if a.Notifications == nil {
		a.Notifications = []models.NotificationRecord{}
	}
	if d.ResolvedAt != nil {
		t := d.ResolvedAt.UTC()
		a.ResolvedAt = &t
	}
	return a
}

func toTripDoc(t *models.Trip) tripDoc {
	d := tripDoc{
		ID:              t.ID,
		UserID:          t.UserID,
		StartLocation:   toLocation(t.StartLocation),
		EndLocation:     toLocation(t.EndLocation),
		StartTime:       t.StartTime,
		ExpectedEndTime: t.ExpectedEndTime,
		ActualEndTime:   t.ActualEndTime,
		Status:          string(t.Status),
		Alerts:          make([]eventDoc, 0, len(t.Events)),
		Notifications:   toRecords(t.Notifications),
		Version:         t.Version,
	}
	if t.CurrentLocation != nil {
		d.CurrentLocation = &trackedLocationDoc{
			Latitude:    t.CurrentLocation.Lat,
			Longitude:   t.CurrentLocation.Lon,
			LastUpdated: t.CurrentLocation.UpdatedAt,
		}
	}
	for _, e := range t.Events {
		d.Alerts = append(d.Alerts, eventDoc{Type: string(e.Kind), Timestamp: e.Timestamp, Message: e.Message})
	}
	return d
}

func (d tripDoc) model() *models.Trip {
	t := &models.Trip{
		ID:              d.ID,
		UserID:          d.UserID,
		StartLocation:   d.StartLocation.model(),
		EndLocation:     d.EndLocation.model(),
		StartTime:       d.StartTime.UTC(),
		ExpectedEndTime: d.ExpectedEndTime.UTC(),
		Status:          models.TripStatus(d.Status),
		Events:          make([]models.TripEvent, 0, len(d.Alerts)),
		Notifications:   fromRecords(d.Notifications),
		Version:         d.Version,
	}
	if d.CurrentLocation != nil {
		t.CurrentLocation = &models.TrackedLocation{
			Location:  models.Location{Lat: d.CurrentLocation.Latitude, Lon: d.CurrentLocation.Longitude},
			UpdatedAt: d.CurrentLocation.LastUpdated.UTC(),
		}
	}
	if d.ActualEndTime != nil {
		at := d.ActualEndTime.UTC()
		t.ActualEndTime = &at
	}
	for _, e := range d.Alerts {
		t.Events = append(t.Events, models.TripEvent{Kind: models.TripEventKind(e.Type), Timestamp: e.Timestamp.UTC(), Message: e.Message})
	}
	return t
}

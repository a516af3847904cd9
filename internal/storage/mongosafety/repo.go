package mongosafety

import (
	"context"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Storage) CreateAlert(ctx context.Context, a *models.Alert) error {
	d := toAlertDoc(a)
	d.Version = 1
	if _, err := s.alerts.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Wrapf(models.ErrInvalidInput, "alert %s already exists", a.ID)
		}
		return errors.Wrap(err, "insert alert")
	}
	a.Version = 1
	return nil
}

func (s *Storage) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var d alertDoc
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(models.ErrNotFound, "alert %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find alert")
	}
	return d.model(), nil
}

func (s *Storage) UpdateAlert(ctx context.Context, a *models.Alert) error {
	d := toAlertDoc(a)
	d.Version = a.Version + 1
	res, err := s.alerts.ReplaceOne(ctx, bson.M{"_id": a.ID, "version": a.Version}, d)
	if err != nil {
		return errors.Wrap(err, "replace alert")
	}
	if res.MatchedCount == 0 {
		return s.versionMiss(ctx, s.alerts, "alert", a.ID)
	}
	a.Version++
	return nil
}

func (s *Storage) ListActiveAlerts(ctx context.Context, userID string) ([]*models.Alert, error) {
	cur, err := s.alerts.Find(ctx,
		bson.M{"userId": userID, "status": string(models.AlertStatusActive)},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find active alerts")
	}
	var docs []alertDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode alerts")
	}
	out := make([]*models.Alert, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Storage) CreateTrip(ctx context.Context, t *models.Trip) error {
	d := toTripDoc(t)
	d.Version = 1
	if _, err := s.trips.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Wrapf(models.ErrInvalidInput, "trip %s already exists", t.ID)
		}
		return errors.Wrap(err, "insert trip")
	}
	t.Version = 1
	return nil
}

func (s *Storage) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	var d tripDoc
	err := s.trips.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(models.ErrNotFound, "trip %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find trip")
	}
	return d.model(), nil
}

func (s *Storage) UpdateTrip(ctx context.Context, t *models.Trip) error {
	d := toTripDoc(t)
	d.Version = t.Version + 1
	res, err := s.trips.ReplaceOne(ctx, bson.M{"_id": t.ID, "version": t.Version}, d)
	if err != nil {
		return errors.Wrap(err, "replace trip")
	}
	if res.MatchedCount == 0 {
		return s.versionMiss(ctx, s.trips, "trip", t.ID)
	}
	t.Version++
	return nil
}

func (s *Storage) FindActiveTrip(ctx context.Context, userID string) (*models.Trip, error) {
	var d tripDoc
	err := s.trips.FindOne(ctx,
		bson.M{"userId": userID, "status": bson.M{"$in": bson.A{string(models.TripStatusOngoing), string(models.TripStatusDelayed)}}},
		options.FindOne().SetSort(bson.D{{Key: "startTime", Value: -1}}),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(models.ErrNotFound, "active trip for user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find active trip")
	}
	return d.model(), nil
}

func (s *Storage) ListOverdueTrips(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := s.trips.Find(ctx,
		bson.M{"status": string(models.TripStatusOngoing), "expectedEndTime": bson.M{"$lt": now}},
		options.Find().SetSort(bson.D{{Key: "expectedEndTime", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find overdue trips")
	}
	var docs []tripDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode trips")
	}
	out := make([]*models.Trip, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// UpsertUser replaces the user's profile document.
func (s *Storage) UpsertUser(ctx context.Context, userID, name string, contacts []models.Contact) error {
	d := userDoc{ID: userID, Name: name, EmergencyContacts: make([]contactDoc, 0, len(contacts))}
	for _, c := range contacts {
		d.EmergencyContacts = append(d.EmergencyContacts, contactDoc{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email})
	}
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": userID}, d, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "upsert user")
}

func (s *Storage) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Contact, 0, len(u.EmergencyContacts))
	for _, c := range u.EmergencyContacts {
		out = append(out, models.Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email})
	}
	return out, nil
}

func (s *Storage) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

func (s *Storage) user(ctx context.Context, userID string) (*userDoc, error) {
	var d userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return &d, nil
}

func (s *Storage) versionMiss(ctx context.Context, coll *mongo.Collection, kind, id string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "count "+kind)
	}
	if n == 0 {
		return errors.Wrapf(models.ErrNotFound, "%s %s", kind, id)
	}
	return errors.Wrapf(models.ErrConflict, "%s %s", kind, id)
}

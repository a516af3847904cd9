package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
	"github.com/pkg/errors"
)

// Store keeps alerts, trips and contacts in process memory. Every read and
// write copies the entity, so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	alerts   map[string]*models.Alert
	trips    map[string]*models.Trip
	contacts map[string][]models.Contact
	names    map[string]string
}

func New() *Store {
	return &Store{
		alerts:   make(map[string]*models.Alert),
		trips:    make(map[string]*models.Trip),
		contacts: make(map[string][]models.Contact),
		names:    make(map[string]string),
	}
}

func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return errors.Wrapf(models.ErrInvalidInput, "alert %s already exists", a.ID)
	}
	a.Version = 1
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "alert %s", id)
	}
	return a.Clone(), nil
}

// UpdateAlert replaces the stored alert if a.Version matches and bumps the version.
func (s *Store) UpdateAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "alert %s", a.ID)
	}
	if cur.Version != a.Version {
		return errors.Wrapf(models.ErrConflict, "alert %s: have v%d, stored v%d", a.ID, a.Version, cur.Version)
	}
	a.Version++
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *Store) ListActiveAlerts(ctx context.Context, userID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for _, a := range s.alerts {
		if a.UserID == userID && a.Status == models.AlertStatusActive {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateTrip(ctx context.Context, t *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[t.ID]; ok {
		return errors.Wrapf(models.ErrInvalidInput, "trip %s already exists", t.ID)
	}
	t.Version = 1
	s.trips[t.ID] = t.Clone()
	return nil
}

func (s *Store) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "trip %s", id)
	}
	return t.Clone(), nil
}

func (s *Store) UpdateTrip(ctx context.Context, t *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trips[t.ID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "trip %s", t.ID)
	}
	if cur.Version != t.Version {
		return errors.Wrapf(models.ErrConflict, "trip %s: have v%d, stored v%d", t.ID, t.Version, cur.Version)
	}
	t.Version++
	s.trips[t.ID] = t.Clone()
	return nil
}

// FindActiveTrip returns the user's most recent ongoing or delayed trip.
func (s *Store) FindActiveTrip(ctx context.Context, userID string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Trip
	for _, t := range s.trips {
		if t.UserID != userID || !t.Status.AcceptsLocation() {
			continue
		}
		if best == nil || t.StartTime.After(best.StartTime) {
			best = t
		}
	}
	if best == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "active trip for user %s", userID)
	}
	return best.Clone(), nil
}

// ListOverdueTrips returns ongoing trips whose expected end is before now,
// oldest deadline first.
func (s *Store) ListOverdueTrips(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Trip, 0)
	for _, t := range s.trips {
		if t.Status == models.TripStatusOngoing && now.After(t.ExpectedEndTime) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpectedEndTime.Before(out[j].ExpectedEndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetContacts replaces the user's emergency contacts.
func (s *Store) SetContacts(userID, name string, contacts []models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = append([]models.Contact(nil), contacts...)
	s.names[userID] = name
}

func (s *Store) UpsertUser(ctx context.Context, userID, name string, contacts []models.Contact) error {
	s.SetContacts(userID, name, contacts)
	return nil
}

func (s *Store) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.contacts[userID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	return append([]models.Contact(nil), cs...), nil
}

func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.names[userID]
	if !ok {
		return "", errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

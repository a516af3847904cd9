package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	"github.com/BearBump/SafeZone/internal/services/keylock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maxSaveAttempts bounds the reload-and-retry loop used when a concurrent
// writer bumped the version between our read and our write.
const maxSaveAttempts = 3

type Store interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	UpdateAlert(ctx context.Context, a *models.Alert) error
	ListActiveAlerts(ctx context.Context, userID string) ([]*models.Alert, error)
}

type ContactRegistry interface {
	ListContacts(ctx context.Context, userID string) ([]models.Contact, error)
}

type Dispatcher interface {
	FanOut(ctx context.Context, n dispatch.Notice, contacts []models.Contact) dispatch.Result
}

type Publisher interface {
	PublishSafetyEvent(ctx context.Context, ev messages.SafetyEvent) error
}

type TriggerResult struct {
	Alert    *models.Alert   `json:"alert"`
	Dispatch dispatch.Result `json:"dispatch"`
}

type ResolveResult struct {
	Alert    *models.Alert   `json:"alert"`
	Dispatch dispatch.Result `json:"dispatch"`
}

type Service struct {
	store    Store
	contacts ContactRegistry
	disp     Dispatcher
	pub      Publisher
	metrics  *metrics.Metrics
	locks    *keylock.Map

	now   func() time.Time
	newID func() string
}

func New(store Store, contacts ContactRegistry, disp Dispatcher) *Service {
	return &Service{
		store:    store,
		contacts: contacts,
		disp:     disp,
		locks:    keylock.New(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) WithPublisher(p Publisher) *Service {
	s.pub = p
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Trigger records an active alert and notifies every emergency contact.
// The alert is persisted before the first send. A batch where nobody was
// reached still returns the alert, with Outcome total_failure.
func (s *Service) Trigger(ctx context.Context, userID string, loc models.Location) (*TriggerResult, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	if !loc.Valid() {
		return nil, errors.Wrapf(models.ErrInvalidInput, "location %v,%v is out of range", loc.Lat, loc.Lon)
	}

	contacts, err := s.contacts.ListContacts(ctx, userID)
	if err != nil {
		return nil, models.StoreError(err, "list contacts")
	}
	if len(contacts) == 0 {
		return nil, errors.Wrapf(models.ErrNoContacts, "user %s", userID)
	}

	a := &models.Alert{
		ID:        s.newID(),
		UserID:    userID,
		Location:  loc,
		Status:    models.AlertStatusActive,
		CreatedAt: s.now(),
	}

	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, models.StoreError(err, "create alert")
	}
	s.transition(models.AlertStatusActive)
	slog.Info("sos alert created", "alert_id", a.ID, "user_id", userID, "contacts", len(contacts))

	// Committed: nothing below may be cut short by the caller.
	ctx = context.WithoutCancel(ctx)

	who := dispatch.DisplayName(ctx, s.contacts, userID)
	res := s.disp.FanOut(ctx, dispatch.SOSNotice(who, loc, a.CreatedAt), contacts)

	saved, err := s.save(ctx, a, func(cur *models.Alert) {
		cur.Notifications = res.Records
	})
	if err != nil {
		// The alert itself is durable; only the delivery records are missing.
		slog.Error("failed to persist sos notification records", "alert_id", a.ID, "error", err.Error())
		a.Notifications = res.Records
		saved = a
	}
	if res.Outcome == dispatch.OutcomeTotalFailure {
		slog.Warn("sos alert reached no contact", "alert_id", a.ID, "failed", res.Failed)
	}

	s.publish(ctx, alertEvent(messages.AlertTriggered, saved, res, s.now()))
	return &TriggerResult{Alert: saved, Dispatch: res}, nil
}

// Resolve marks an active alert resolved and sends a best-effort notice.
// Missing, foreign and already resolved alerts all report ErrNotFound.
func (s *Service) Resolve(ctx context.Context, alertID, userID string) (*ResolveResult, error) {
	if alertID == "" || userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "alertId and userId are required")
	}

	unlock := s.locks.Lock(alertID)
	defer unlock()

	var a *models.Alert
	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetAlert(ctx, alertID)
		if err != nil {
			return nil, models.StoreError(err, "get alert")
		}
		if cur.UserID != userID || cur.Status != models.AlertStatusActive {
			return nil, errors.Wrapf(models.ErrNotFound, "active alert %s", alertID)
		}
		at := s.now()
		cur.Status = models.AlertStatusResolved
		cur.ResolvedAt = &at
		err = s.store.UpdateAlert(ctx, cur)
		if err == nil {
			a = cur
			break
		}
		if !errors.Is(err, models.ErrConflict) || attempt+1 >= maxSaveAttempts {
			return nil, models.StoreError(err, "resolve alert")
		}
		s.conflict()
	}
	s.transition(models.AlertStatusResolved)
	slog.Info("sos alert resolved", "alert_id", alertID, "user_id", userID)

	ctx = context.WithoutCancel(ctx)

	res := dispatch.Summarize(nil)
	contacts, err := s.contacts.ListContacts(ctx, userID)
	if err != nil {
		slog.Warn("resolution notice skipped: contacts unavailable", "alert_id", alertID, "error", err.Error())
	} else {
		who := dispatch.DisplayName(ctx, s.contacts, userID)
		res = s.disp.FanOut(ctx, dispatch.SOSResolvedNotice(who, *a.ResolvedAt), contacts)
	}

	if len(res.Records) > 0 {
		saved, err := s.save(ctx, a, func(cur *models.Alert) {
			cur.ResolutionNotices = append(cur.ResolutionNotices, res.Records...)
		})
		if err != nil {
			slog.Error("failed to persist resolution notice records", "alert_id", alertID, "error", err.Error())
			a.ResolutionNotices = append(a.ResolutionNotices, res.Records...)
		} else {
			a = saved
		}
	}

	s.publish(ctx, alertEvent(messages.AlertResolved, a, res, s.now()))
	return &ResolveResult{Alert: a, Dispatch: res}, nil
}

// ListActive returns the user's active alerts, newest first.
func (s *Service) ListActive(ctx context.Context, userID string) ([]*models.Alert, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	out, err := s.store.ListActiveAlerts(ctx, userID)
	if err != nil {
		return nil, models.StoreError(err, "list active alerts")
	}
	return out, nil
}

// save applies mutate and writes the alert, reloading on version conflicts.
func (s *Service) save(ctx context.Context, a *models.Alert, mutate func(*models.Alert)) (*models.Alert, error) {
	cur := a.Clone()
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		mutate(cur)
		err := s.store.UpdateAlert(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, models.StoreError(err, "update alert")
		}
		s.conflict()
		if cur, err = s.store.GetAlert(ctx, a.ID); err != nil {
			return nil, models.StoreError(err, "reload alert")
		}
	}
	return nil, errors.Wrapf(models.ErrConflict, "alert %s: gave up after %d attempts", a.ID, maxSaveAttempts)
}

func (s *Service) publish(ctx context.Context, ev messages.SafetyEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishSafetyEvent(ctx, ev); err != nil {
		slog.Warn("failed to publish safety event", "type", ev.Type, "entity_id", ev.EntityID, "error", err.Error())
	}
}

func (s *Service) transition(to models.AlertStatus) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues("alert", string(to)).Inc()
	}
}

func (s *Service) conflict() {
	if s.metrics != nil {
		s.metrics.StoreConflicts.Inc()
	}
}

func alertEvent(typ messages.EventType, a *models.Alert, res dispatch.Result, at time.Time) messages.SafetyEvent {
	lat, lon := a.Location.Lat, a.Location.Lon
	return messages.SafetyEvent{
		Type:       typ,
		EntityID:   a.ID,
		UserID:     a.UserID,
		Status:     string(a.Status),
		OccurredAt: at,
		Outcome:    string(res.Outcome),
		Sent:       res.Sent,
		Failed:     res.Failed,
		Lat:        &lat,
		Lon:        &lon,
	}
}

package trips

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	"github.com/BearBump/SafeZone/internal/cache"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	"github.com/BearBump/SafeZone/internal/services/keylock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const maxSaveAttempts = 3

type Store interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	UpdateTrip(ctx context.Context, t *models.Trip) error
	FindActiveTrip(ctx context.Context, userID string) (*models.Trip, error)
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

type StartInput struct {
	StartLocation   models.Location
	EndLocation     models.Location
	ExpectedEndTime time.Time
}

type Result struct {
	Trip     *models.Trip    `json:"trip"`
	Dispatch dispatch.Result `json:"dispatch"`
	// Effect is what this call committed; EffectNone when it changed nothing.
	Effect Effect `json:"-"`
}

type Service struct {
	store    Store
	contacts ContactRegistry
	disp     Dispatcher
	pub      Publisher
	cache    cache.BytesCache
	cacheTTL time.Duration
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

func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
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

// Start creates an ongoing trip and tells the user's contacts about it.
// Missing contacts only skip the notice; the trip is created regardless.
func (s *Service) Start(ctx context.Context, userID string, in StartInput) (*Result, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	t, err := NewTrip(s.newID(), userID, in.StartLocation, in.EndLocation, s.now(), in.ExpectedEndTime)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()

	if err := s.store.CreateTrip(ctx, &t); err != nil {
		return nil, models.StoreError(err, "create trip")
	}
	s.transition(t.Status)
	slog.Info("trip started", "trip_id", t.ID, "user_id", userID, "expected_end", t.ExpectedEndTime)

	ctx = context.WithoutCancel(ctx)
	res := s.notify(ctx, &t, models.NoticeTripStarted)
	saved := s.persistRecords(ctx, &t, res.Records)

	s.refreshCache(ctx, saved)
	s.publish(ctx, tripEvent(messages.TripStarted, saved, res, s.now()))
	return &Result{Trip: saved, Dispatch: res}, nil
}

func (s *Service) UpdateLocation(ctx context.Context, userID, tripID string, loc models.Location) (*Result, error) {
	if userID == "" || tripID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId and tripId are required")
	}
	return s.apply(ctx, userID, tripID, Event{Kind: EventLocation, Location: loc})
}

func (s *Service) Complete(ctx context.Context, userID, tripID string) (*Result, error) {
	if userID == "" || tripID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId and tripId are required")
	}
	return s.apply(ctx, userID, tripID, Event{Kind: EventComplete})
}

// Cancel ends the trip without notifying anyone.
func (s *Service) Cancel(ctx context.Context, userID, tripID string) (*Result, error) {
	if userID == "" || tripID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId and tripId are required")
	}
	return s.apply(ctx, userID, tripID, Event{Kind: EventCancel})
}

// CheckOverdue runs the delay transition without a location. It is a no-op
// for trips that are not ongoing or not yet past their deadline.
func (s *Service) CheckOverdue(ctx context.Context, tripID string) (*Result, error) {
	if tripID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "tripId is required")
	}
	return s.apply(ctx, "", tripID, Event{Kind: EventOverdueCheck})
}

// GetActive returns the user's ongoing or delayed trip, or nil if there is none.
func (s *Service) GetActive(ctx context.Context, userID string) (*models.Trip, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	t, err := s.store.FindActiveTrip(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.StoreError(err, "find active trip")
	}
	return t, nil
}

// Get reads one trip, going through the cache when one is configured.
func (s *Service) Get(ctx context.Context, userID, tripID string) (*models.Trip, error) {
	if userID == "" || tripID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId and tripId are required")
	}

	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, currentKey(tripID)); err == nil && ok {
			var t models.Trip
			if json.Unmarshal(b, &t) == nil {
				if t.UserID != userID {
					return nil, errors.Wrapf(models.ErrNotFound, "trip %s", tripID)
				}
				return &t, nil
			}
		}
	}

	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, models.StoreError(err, "get trip")
	}
	s.refreshCache(ctx, t)
	if t.UserID != userID {
		return nil, errors.Wrapf(models.ErrNotFound, "trip %s", tripID)
	}
	return t, nil
}

// apply runs one event through the state machine under the trip lock and
// commits it with a version check. On a conflict the trip is re-read and the
// event re-applied, so a transition committed by another writer is seen
// instead of repeated. An empty userID skips the ownership check.
func (s *Service) apply(ctx context.Context, userID, tripID string, ev Event) (*Result, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	ev.At = s.now()

	var (
		next models.Trip
		eff  Effect
		prev models.TripStatus
	)
	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetTrip(ctx, tripID)
		if err != nil {
			return nil, models.StoreError(err, "get trip")
		}
		if userID != "" && cur.UserID != userID {
			return nil, errors.Wrapf(models.ErrNotFound, "trip %s", tripID)
		}
		prev = cur.Status

		next, eff, err = Apply(*cur, ev)
		if err != nil {
			return nil, err
		}
		if ev.Kind == EventOverdueCheck && eff == EffectNone {
			return &Result{Trip: cur, Dispatch: dispatch.Summarize(nil)}, nil
		}

		err = s.store.UpdateTrip(ctx, &next)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrConflict) || attempt+1 >= maxSaveAttempts {
			return nil, models.StoreError(err, "update trip")
		}
		s.conflict()
		slog.Warn("trip version conflict, retrying", "trip_id", tripID, "event", ev.Kind.String(), "attempt", attempt+1)
	}

	if next.Status != prev {
		s.transition(next.Status)
		slog.Info("trip transition committed", "trip_id", tripID, "from", prev, "to", next.Status, "event", ev.Kind.String())
	}

	ctx = context.WithoutCancel(ctx)
	s.refreshCache(ctx, &next)

	res := dispatch.Summarize(nil)
	var evType messages.EventType
	switch eff {
	case EffectDelayed:
		res = s.notify(ctx, &next, models.NoticeTripDelayed)
		evType = messages.TripDelayed
	case EffectCompleted:
		res = s.notify(ctx, &next, models.NoticeTripCompleted)
		evType = messages.TripCompleted
	default:
		if ev.Kind == EventCancel {
			evType = messages.TripCancelled
		}
	}

	saved := &next
	if len(res.Records) > 0 {
		saved = s.persistRecords(ctx, &next, res.Records)
		s.refreshCache(ctx, saved)
	}
	if evType != "" {
		s.publish(ctx, tripEvent(evType, saved, res, ev.At))
	}
	return &Result{Trip: saved, Dispatch: res, Effect: eff}, nil
}

// notify sends the notice for kind to the trip owner's contacts. A failing
// or empty registry yields a skipped result.
func (s *Service) notify(ctx context.Context, t *models.Trip, kind models.NoticeKind) dispatch.Result {
	contacts, err := s.contacts.ListContacts(ctx, t.UserID)
	if err != nil {
		slog.Warn("trip notice skipped: contacts unavailable", "trip_id", t.ID, "notice", kind, "error", err.Error())
		return dispatch.Summarize(nil)
	}
	if len(contacts) == 0 {
		slog.Info("trip notice skipped: no contacts", "trip_id", t.ID, "notice", kind)
		return dispatch.Summarize(nil)
	}

	who := dispatch.DisplayName(ctx, s.contacts, t.UserID)
	var n dispatch.Notice
	switch kind {
	case models.NoticeTripStarted:
		n = dispatch.TripStartedNotice(who, t)
	case models.NoticeTripDelayed:
		n = dispatch.TripDelayedNotice(who, t)
	case models.NoticeTripCompleted:
		n = dispatch.TripCompletedNotice(who, t)
	default:
		return dispatch.Summarize(nil)
	}
	return s.disp.FanOut(ctx, n, contacts)
}

// persistRecords appends notice records to the stored trip, reloading on
// conflicts. Failures are logged: the transition itself is already durable.
func (s *Service) persistRecords(ctx context.Context, t *models.Trip, records []models.NotificationRecord) *models.Trip {
	if len(records) == 0 {
		return t
	}
	cur := t.Clone()
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		cur.Notifications = append(cur.Notifications, records...)
		err := s.store.UpdateTrip(ctx, cur)
		if err == nil {
			return cur
		}
		if !errors.Is(err, models.ErrConflict) {
			slog.Error("failed to persist trip notice records", "trip_id", t.ID, "error", err.Error())
			break
		}
		s.conflict()
		if cur, err = s.store.GetTrip(ctx, t.ID); err != nil {
			slog.Error("failed to reload trip for notice records", "trip_id", t.ID, "error", err.Error())
			break
		}
	}
	out := t.Clone()
	out.Notifications = append(out.Notifications, records...)
	return out
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func (s *Service) refreshCache(ctx context.Context, t *models.Trip) {
	if !s.cacheEnabled() || t == nil {
		return
	}
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, currentKey(t.ID), b, s.cacheTTL); err != nil {
		slog.Debug("trip cache set failed", "trip_id", t.ID, "error", err.Error())
	}
}

func (s *Service) publish(ctx context.Context, ev messages.SafetyEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishSafetyEvent(ctx, ev); err != nil {
		slog.Warn("failed to publish safety event", "type", ev.Type, "entity_id", ev.EntityID, "error", err.Error())
	}
}

func (s *Service) transition(to models.TripStatus) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues("trip", string(to)).Inc()
	}
}

func (s *Service) conflict() {
	if s.metrics != nil {
		s.metrics.StoreConflicts.Inc()
	}
}

func tripEvent(typ messages.EventType, t *models.Trip, res dispatch.Result, at time.Time) messages.SafetyEvent {
	ev := messages.SafetyEvent{
		Type:       typ,
		EntityID:   t.ID,
		UserID:     t.UserID,
		Status:     string(t.Status),
		OccurredAt: at,
		Outcome:    string(res.Outcome),
		Sent:       res.Sent,
		Failed:     res.Failed,
	}
	if t.CurrentLocation != nil {
		lat, lon := t.CurrentLocation.Lat, t.CurrentLocation.Lon
		ev.Lat, ev.Lon = &lat, &lon
	}
	return ev
}

func currentKey(id string) string {
	return "trip:" + id + ":current"
}

package trips

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	cachemocks "github.com/BearBump/SafeZone/internal/cache/mocks"
	"github.com/BearBump/SafeZone/internal/cache/rediscache"
	"github.com/BearBump/SafeZone/internal/integrations/notify/fake"
	notifymocks "github.com/BearBump/SafeZone/internal/integrations/notify/mocks"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	tripsmocks "github.com/BearBump/SafeZone/internal/services/trips/mocks"
	"github.com/BearBump/SafeZone/internal/storage/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type eventLog struct {
	mu     sync.Mutex
	events []messages.SafetyEvent
}

func (l *eventLog) PublishSafetyEvent(ctx context.Context, ev messages.SafetyEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []messages.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []messages.EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type ServiceSuite struct {
	suite.Suite

	store *memstore.Store
	gw    *fake.Gateway
	pub   *eventLog
	clock *clock
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = memstore.New()
	s.store.SetContacts("u1", "Jane", []models.Contact{
		{ID: "A", Email: "alice@example.org"},
		{ID: "B", Email: "bob-fail@example.org"},
	})
	s.gw = fake.New(models.ChannelEmail)
	s.pub = &eventLog{}
	s.clock = &clock{now: t0}
	s.svc = New(s.store, s.store, dispatch.New(s.gw)).
		WithPublisher(s.pub).
		WithClock(s.clock.Now)
}

func (s *ServiceSuite) start(user string) *models.Trip {
	res, err := s.svc.Start(context.Background(), user, StartInput{
		StartLocation:   models.Location{Lat: 12.9, Lon: 77.6},
		EndLocation:     models.Location{Lat: 13.0, Lon: 77.7},
		ExpectedEndTime: t0.Add(time.Hour),
	})
	s.Require().NoError(err)
	return res.Trip
}

func (s *ServiceSuite) sentWithSubject(prefix string) int {
	n := 0
	for _, m := range s.gw.Sent() {
		if strings.HasPrefix(m.Subject, prefix) {
			n++
		}
	}
	return n
}

func (s *ServiceSuite) TestStart_NotifiesContacts() {
	tr := s.start("u1")

	s.Require().Equal(models.TripStatusOngoing, tr.Status)
	s.Require().Equal(t0, tr.StartTime)
	s.Require().Equal(1, s.sentWithSubject("Trip Started"))

	stored, err := s.store.GetTrip(context.Background(), tr.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Notifications, 2)
	s.Require().Equal(models.NoticeTripStarted, stored.Notifications[0].Notice)
	s.Require().Equal([]messages.EventType{messages.TripStarted}, s.pub.types())
}

func (s *ServiceSuite) TestStart_WithoutContactsStillCreates() {
	s.store.SetContacts("u2", "", nil)
	res, err := s.svc.Start(context.Background(), "u2", StartInput{
		StartLocation:   models.Location{Lat: 1, Lon: 1},
		EndLocation:     models.Location{Lat: 2, Lon: 2},
		ExpectedEndTime: t0.Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Equal(dispatch.OutcomeSkipped, res.Dispatch.Outcome)

	_, err = s.store.GetTrip(context.Background(), res.Trip.ID)
	s.Require().NoError(err)

	// Unknown user: registry says not found, still only a skipped notice.
	res, err = s.svc.Start(context.Background(), "ghost", StartInput{
		StartLocation:   models.Location{Lat: 1, Lon: 1},
		EndLocation:     models.Location{Lat: 2, Lon: 2},
		ExpectedEndTime: t0.Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Equal(dispatch.OutcomeSkipped, res.Dispatch.Outcome)
}

func (s *ServiceSuite) TestStart_InvalidInput() {
	_, err := s.svc.Start(context.Background(), "u1", StartInput{
		StartLocation: models.Location{Lat: 1, Lon: 1},
		EndLocation:   models.Location{Lat: 2, Lon: 2},
	})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
	s.Require().Empty(s.gw.Sent())

	_, err = s.svc.Start(context.Background(), "", StartInput{})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
}

func (s *ServiceSuite) TestUpdateLocation_DelayFiresOnce() {
	ctx := context.Background()
	tr := s.start("u1")

	s.clock.Set(t0.Add(30 * time.Minute))
	res, err := s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 12.95, Lon: 77.65})
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusOngoing, res.Trip.Status)
	s.Require().Empty(res.Trip.Events)
	s.Require().Equal(dispatch.OutcomeSkipped, res.Dispatch.Outcome)
	s.Require().Equal(0, s.sentWithSubject("Trip Delay"))

	s.clock.Set(t0.Add(90 * time.Minute))
	res, err = s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 12.97, Lon: 77.66})
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusDelayed, res.Trip.Status)
	s.Require().Equal(1, res.Trip.CountEvents(models.TripEventDelay))
	s.Require().Equal(dispatch.OutcomeSuccess, res.Dispatch.Outcome)
	s.Require().Equal(1, s.sentWithSubject("Trip Delay"))

	s.clock.Set(t0.Add(100 * time.Minute))
	res, err = s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 12.98, Lon: 77.67})
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusDelayed, res.Trip.Status)
	s.Require().Equal(1, s.sentWithSubject("Trip Delay"))

	stored, _ := s.store.GetTrip(ctx, tr.ID)
	s.Require().Len(stored.Events, 1)
	s.Require().Equal(12.98, stored.CurrentLocation.Lat)
	s.Require().Equal(t0.Add(100*time.Minute), stored.CurrentLocation.UpdatedAt)

	delayed := 0
	for _, r := range stored.Notifications {
		if r.Notice == models.NoticeTripDelayed {
			delayed++
		}
	}
	s.Require().Equal(2, delayed)
	s.Require().Equal([]messages.EventType{messages.TripStarted, messages.TripDelayed}, s.pub.types())
}

func (s *ServiceSuite) TestUpdateLocation_Rejected() {
	ctx := context.Background()
	tr := s.start("u1")

	_, err := s.svc.UpdateLocation(ctx, "intruder", tr.ID, models.Location{Lat: 1, Lon: 1})
	s.Require().ErrorIs(err, models.ErrNotFound)

	_, err = s.svc.UpdateLocation(ctx, "u1", "missing", models.Location{Lat: 1, Lon: 1})
	s.Require().ErrorIs(err, models.ErrNotFound)

	_, err = s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 200, Lon: 1})
	s.Require().ErrorIs(err, models.ErrInvalidInput)

	_, err = s.svc.Cancel(ctx, "u1", tr.ID)
	s.Require().NoError(err)
	_, err = s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 1, Lon: 1})
	s.Require().ErrorIs(err, models.ErrInvalidState)
}

func (s *ServiceSuite) TestComplete() {
	ctx := context.Background()
	tr := s.start("u1")

	s.clock.Set(t0.Add(50 * time.Minute))
	res, err := s.svc.Complete(ctx, "u1", tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCompleted, res.Trip.Status)
	s.Require().Equal(t0.Add(50*time.Minute), *res.Trip.ActualEndTime)
	s.Require().Equal(1, s.sentWithSubject("Trip Completed"))

	s.clock.Set(t0.Add(70 * time.Minute))
	_, err = s.svc.Complete(ctx, "u1", tr.ID)
	s.Require().ErrorIs(err, models.ErrInvalidState)

	stored, _ := s.store.GetTrip(ctx, tr.ID)
	s.Require().Equal(t0.Add(50*time.Minute), *stored.ActualEndTime)
	s.Require().Equal(1, s.sentWithSubject("Trip Completed"))
}

func (s *ServiceSuite) TestCancel_NoNoticeAndTerminal() {
	ctx := context.Background()
	tr := s.start("u1")
	sent := len(s.gw.Sent())

	res, err := s.svc.Cancel(ctx, "u1", tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCancelled, res.Trip.Status)
	s.Require().Equal(sent, len(s.gw.Sent()))

	_, err = s.svc.Complete(ctx, "u1", tr.ID)
	s.Require().ErrorIs(err, models.ErrInvalidState)
	stored, _ := s.store.GetTrip(ctx, tr.ID)
	s.Require().Nil(stored.ActualEndTime)

	_, err = s.svc.Cancel(ctx, "u1", tr.ID)
	s.Require().ErrorIs(err, models.ErrInvalidState)
	s.Require().Equal([]messages.EventType{messages.TripStarted, messages.TripCancelled}, s.pub.types())
}

func (s *ServiceSuite) TestCheckOverdue() {
	ctx := context.Background()
	tr := s.start("u1")

	res, err := s.svc.CheckOverdue(ctx, tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusOngoing, res.Trip.Status)

	s.clock.Set(t0.Add(2 * time.Hour))
	res, err = s.svc.CheckOverdue(ctx, tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusDelayed, res.Trip.Status)
	s.Require().Equal(EffectDelayed, res.Effect)
	s.Require().Contains(s.gw.Sent()[len(s.gw.Sent())-1].Body, "Current Location: unknown")

	res, err = s.svc.CheckOverdue(ctx, tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusDelayed, res.Trip.Status)
	s.Require().Equal(EffectNone, res.Effect)
	s.Require().Equal(dispatch.OutcomeSkipped, res.Dispatch.Outcome)
	s.Require().Equal(1, s.sentWithSubject("Trip Delay"))
}

func (s *ServiceSuite) TestConcurrentOverdueUpdatesNotifyOnce() {
	ctx := context.Background()
	tr := s.start("u1")
	s.clock.Set(t0.Add(2 * time.Hour))

	// A second service over the same store stands in for another replica:
	// it does not share the in-process lock, only the version check.
	other := New(s.store, s.store, dispatch.New(s.gw)).WithClock(s.clock.Now)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.svc.UpdateLocation(ctx, "u1", tr.ID, models.Location{Lat: 1, Lon: 1})
		}()
		go func() {
			defer wg.Done()
			_, _ = other.CheckOverdue(ctx, tr.ID)
		}()
	}
	wg.Wait()

	stored, err := s.store.GetTrip(ctx, tr.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusDelayed, stored.Status)
	s.Require().Equal(1, stored.CountEvents(models.TripEventDelay))
	s.Require().Equal(1, s.sentWithSubject("Trip Delay"))
}

func (s *ServiceSuite) TestGetActive() {
	ctx := context.Background()
	got, err := s.svc.GetActive(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Nil(got)

	tr := s.start("u1")
	got, err = s.svc.GetActive(ctx, "u1")
	s.Require().NoError(err)
	s.Require().Equal(tr.ID, got.ID)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestGet_CacheHitSkipsStore(t *testing.T) {
	store := tripsmocks.NewMockStore(t)
	c := cachemocks.NewMockBytesCache(t)
	svc := New(store, memstore.New(), dispatch.New(fake.New(""))).WithCache(c, time.Minute)

	b, _ := json.Marshal(&models.Trip{ID: "t1", UserID: "u1", Status: models.TripStatusOngoing})
	c.On("Get", mock.Anything, "trip:t1:current").Return(b, true, nil).Twice()

	got, err := svc.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)

	_, err = svc.Get(context.Background(), "u2", "t1")
	require.ErrorIs(t, err, models.ErrNotFound)

	store.AssertNotCalled(t, "GetTrip", mock.Anything, mock.Anything)
}

func TestGet_CacheMissFillsCache(t *testing.T) {
	store := tripsmocks.NewMockStore(t)
	c := cachemocks.NewMockBytesCache(t)
	svc := New(store, memstore.New(), dispatch.New(fake.New(""))).WithCache(c, time.Minute)

	c.On("Get", mock.Anything, "trip:t1:current").Return(nil, false, nil).Once()
	store.On("GetTrip", mock.Anything, "t1").Return(&models.Trip{ID: "t1", UserID: "u1"}, nil).Once()
	c.On("Set", mock.Anything, "trip:t1:current", mock.Anything, time.Minute).Return(nil).Once()

	got, err := svc.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
}

func TestGet_CacheDisabledGoesToStore(t *testing.T) {
	store := tripsmocks.NewMockStore(t)
	svc := New(store, memstore.New(), dispatch.New(fake.New("")))

	store.On("GetTrip", mock.Anything, "t1").Return(nil, errors.Wrap(models.ErrNotFound, "trip t1")).Once()
	_, err := svc.Get(context.Background(), "u1", "t1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestComplete_StoreUnavailableSendsNothing(t *testing.T) {
	store := tripsmocks.NewMockStore(t)
	gw := notifymocks.NewMockGateway(t)
	svc := New(store, memstore.New(), dispatch.New(gw))

	store.On("GetTrip", mock.Anything, "t1").
		Return(&models.Trip{ID: "t1", UserID: "u1", Status: models.TripStatusOngoing, Version: 3}, nil).Once()
	store.On("UpdateTrip", mock.Anything, mock.Anything).Return(errors.New("pool closed")).Once()

	_, err := svc.Complete(context.Background(), "u1", "t1")
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateLocation_ConflictReappliesOnFreshState(t *testing.T) {
	store := tripsmocks.NewMockStore(t)
	gw := notifymocks.NewMockGateway(t)
	svc := New(store, memstore.New(), dispatch.New(gw)).
		WithClock(func() time.Time { return t0.Add(2 * time.Hour) })

	ongoing := &models.Trip{ID: "t1", UserID: "u1", Status: models.TripStatusOngoing, ExpectedEndTime: t0.Add(time.Hour), Version: 1}
	delayed := ongoing.Clone()
	delayed.Status = models.TripStatusDelayed
	delayed.Events = []models.TripEvent{{Kind: models.TripEventDelay, Timestamp: t0.Add(90 * time.Minute)}}
	delayed.Version = 2

	store.On("GetTrip", mock.Anything, "t1").Return(ongoing, nil).Once()
	store.On("UpdateTrip", mock.Anything, mock.MatchedBy(func(tr *models.Trip) bool { return tr.Version == 1 })).
		Return(errors.Wrap(models.ErrConflict, "stale")).Once()
	store.On("GetTrip", mock.Anything, "t1").Return(delayed, nil).Once()
	store.On("UpdateTrip", mock.Anything, mock.MatchedBy(func(tr *models.Trip) bool {
		return tr.Version == 2 && tr.CountEvents(models.TripEventDelay) == 1
	})).Return(nil).Once()

	res, err := svc.UpdateLocation(context.Background(), "u1", "t1", models.Location{Lat: 1, Lon: 1})
	require.NoError(t, err)
	require.Equal(t, models.TripStatusDelayed, res.Trip.Status)
	require.Equal(t, dispatch.OutcomeSkipped, res.Dispatch.Outcome)
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGet_SharedCacheSeesOtherProcessTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	store := memstore.New()
	store.SetContacts("u1", "Jane", []models.Contact{{ID: "A", Email: "alice@example.org"}})
	clk := &clock{now: t0}
	gw := fake.New(models.ChannelEmail)

	apiCache := rediscache.New(mr.Addr())
	workerCache := rediscache.New(mr.Addr())
	t.Cleanup(func() {
		_ = apiCache.Close()
		_ = workerCache.Close()
	})
	api := New(store, store, dispatch.New(gw)).WithClock(clk.Now).WithCache(apiCache, 10*time.Minute)
	worker := New(store, store, dispatch.New(gw)).WithClock(clk.Now).WithCache(workerCache, 10*time.Minute)

	ctx := context.Background()
	res, err := api.Start(ctx, "u1", StartInput{
		StartLocation:   models.Location{Lat: 1, Lon: 1},
		EndLocation:     models.Location{Lat: 2, Lon: 2},
		ExpectedEndTime: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := api.Get(ctx, "u1", res.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.TripStatusOngoing, got.Status)

	clk.Set(t0.Add(90 * time.Minute))
	_, err = worker.CheckOverdue(ctx, res.Trip.ID)
	require.NoError(t, err)

	got, err = api.Get(ctx, "u1", res.Trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.TripStatusDelayed, got.Status)
	require.Equal(t, 1, got.CountEvents(models.TripEventDelay))
}

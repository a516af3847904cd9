package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	notifymocks "github.com/BearBump/SafeZone/internal/integrations/notify/mocks"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type DispatcherSuite struct {
	suite.Suite

	gw *notifymocks.MockGateway
	d  *Dispatcher
}

func (s *DispatcherSuite) SetupTest() {
	s.gw = &notifymocks.MockGateway{}
	s.gw.On("Channel").Return(models.ChannelEmail).Maybe()
	s.d = New(s.gw).WithSettings(4, time.Second)
}

func contactsAB() []models.Contact {
	return []models.Contact{
		{ID: "A", Name: "Alice", Email: "alice@example.org"},
		{ID: "B", Name: "Bob", Email: "bob@example.org"},
	}
}

func (s *DispatcherSuite) TestFanOut_PartialFailureIsSuccess() {
	s.gw.On("Send", mock.Anything, "alice@example.org", "subj", "body").Return("m-a", nil).Once()
	s.gw.On("Send", mock.Anything, "bob@example.org", "subj", "body").
		Return("", notify.Permanent(errors.New("550 no such user"))).Once()

	res := s.d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS, Subject: "subj", Body: "body"}, contactsAB())

	s.Require().Equal(OutcomeSuccess, res.Outcome)
	s.Require().Equal(1, res.Sent)
	s.Require().Equal(1, res.Failed)
	s.Require().Len(res.Records, 2)

	s.Require().Equal("A", res.Records[0].ContactID)
	s.Require().Equal(models.OutcomeSent, res.Records[0].Outcome)
	s.Require().Equal("m-a", res.Records[0].MessageID)
	s.Require().Equal(models.NoticeSOS, res.Records[0].Notice)

	s.Require().Equal("B", res.Records[1].ContactID)
	s.Require().Equal(models.OutcomeFailed, res.Records[1].Outcome)
	s.Require().Contains(res.Records[1].FailureReason, "550")
	s.Require().False(res.Records[1].Transient)
	s.gw.AssertExpectations(s.T())
}

func (s *DispatcherSuite) TestFanOut_AllFailedIsTotalFailure() {
	s.gw.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("connection refused")).Twice()

	res := s.d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, contactsAB())
	s.Require().Equal(OutcomeTotalFailure, res.Outcome)
	s.Require().Equal(0, res.Sent)
	s.Require().Equal(2, res.Failed)
	for _, r := range res.Records {
		s.Require().True(r.Transient)
	}
}

func (s *DispatcherSuite) TestFanOut_NoAddressSkipsGateway() {
	s.gw.On("Send", mock.Anything, "alice@example.org", mock.Anything, mock.Anything).Return("m", nil).Once()

	res := s.d.FanOut(context.Background(), Notice{Kind: models.NoticeTripStarted}, []models.Contact{
		{ID: "A", Email: "alice@example.org"},
		{ID: "C", Phone: "+1555"},
	})
	s.Require().Equal(1, res.Sent)
	s.Require().Equal(models.FailureNoAddress, res.Records[1].FailureReason)
	s.gw.AssertNumberOfCalls(s.T(), "Send", 1)
}

func (s *DispatcherSuite) TestFanOut_TimeoutDoesNotBlockBarrier() {
	d := New(s.gw).WithSettings(2, 20*time.Millisecond)
	s.gw.On("Send", mock.Anything, "alice@example.org", mock.Anything, mock.Anything).Return("m", nil).Once()
	s.gw.On("Send", mock.Anything, "bob@example.org", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return("late", nil).Once()

	started := time.Now()
	res := d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, contactsAB())
	s.Require().Less(time.Since(started), 250*time.Millisecond)

	s.Require().Equal(OutcomeSuccess, res.Outcome)
	s.Require().Equal(models.OutcomeFailed, res.Records[1].Outcome)
	s.Require().Equal(models.FailureTimeout, res.Records[1].FailureReason)
	s.Require().True(res.Records[1].Transient)
}

func (s *DispatcherSuite) TestFanOut_EmptyContactsSkipped() {
	res := s.d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, nil)
	s.Require().Equal(OutcomeSkipped, res.Outcome)
	s.Require().Empty(res.Records)
	s.gw.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *DispatcherSuite) TestFanOut_CallerCancellationDoesNotAbort() {
	s.gw.On("Send", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		mock.Anything, mock.Anything, mock.Anything).Return("m", nil).Twice()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.d.FanOut(ctx, Notice{Kind: models.NoticeSOS}, contactsAB())
	s.Require().Equal(2, res.Sent)
}

func (s *DispatcherSuite) TestFanOut_RecordsMetrics() {
	m := metrics.New(nil)
	d := New(s.gw).WithMetrics(m)
	s.gw.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("m", nil).Twice()

	d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, contactsAB())
	s.Require().Equal(2.0, testutil.ToFloat64(m.NotificationAttempts.WithLabelValues("email", "sos", "sent")))
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

type slowGateway struct {
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	calls    atomic.Int64
}

func (g *slowGateway) Channel() models.Channel { return models.ChannelSMS }

func (g *slowGateway) Send(ctx context.Context, address, subject, body string) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	g.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return "ok", nil
}

func TestFanOut_BoundedConcurrency(t *testing.T) {
	g := &slowGateway{}
	d := New(g).WithSettings(3, time.Second)

	contacts := make([]models.Contact, 12)
	for i := range contacts {
		contacts[i] = models.Contact{ID: string(rune('a' + i)), Phone: "+1"}
	}
	res := d.FanOut(context.Background(), Notice{Kind: models.NoticeTripDelayed}, contacts)

	require.Equal(t, 12, res.Sent)
	require.Equal(t, int64(12), g.calls.Load())
	require.LessOrEqual(t, g.maxSeen.Load(), int64(3))

	seen := map[string]bool{}
	for i, r := range res.Records {
		require.Equal(t, contacts[i].ID, r.ContactID)
		require.False(t, seen[r.ContactID])
		seen[r.ContactID] = true
	}
}

type fakeRL struct {
	mu      sync.Mutex
	allowed bool
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return r.allowed, int64(len(r.keys)), r.err
}

func TestFanOut_RateLimitedStillSends(t *testing.T) {
	g := &slowGateway{}
	rl := &fakeRL{allowed: false}
	d := New(g).WithRateLimit(rl, 1)
	d.throttleDelay = time.Millisecond

	res := d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, []models.Contact{{ID: "a", Phone: "+1"}, {ID: "b", Phone: "+2"}})
	require.Equal(t, 2, res.Sent)
	require.Len(t, rl.keys, 2)
	require.Contains(t, rl.keys[0], "rl:notify:sms:")
}

func TestFanOut_RateLimitWaitCountsAgainstTimeout(t *testing.T) {
	g := &slowGateway{}
	d := New(g).WithSettings(2, 30*time.Millisecond).WithRateLimit(&fakeRL{allowed: false}, 1)
	d.throttleDelay = time.Hour

	started := time.Now()
	res := d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, []models.Contact{{ID: "a", Phone: "+1"}})

	require.Less(t, time.Since(started), time.Second)
	require.Equal(t, OutcomeTotalFailure, res.Outcome)
	require.Equal(t, models.FailureTimeout, res.Records[0].FailureReason)
	require.True(t, res.Records[0].Transient)
	require.Zero(t, g.calls.Load())
}

func TestFanOut_RateLimiterErrorIgnored(t *testing.T) {
	g := &slowGateway{}
	d := New(g).WithRateLimit(&fakeRL{err: errors.New("redis down")}, 10)
	res := d.FanOut(context.Background(), Notice{Kind: models.NoticeSOS}, []models.Contact{{ID: "a", Phone: "+1"}})
	require.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, OutcomeSkipped, Summarize(nil).Outcome)
	res := Summarize([]models.NotificationRecord{{Outcome: models.OutcomeFailed}})
	require.Equal(t, OutcomeTotalFailure, res.Outcome)
	require.Equal(t, 1, res.Failed)
}

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Notice struct {
	Kind    models.NoticeKind
	Subject string
	Body    string
}

type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeTotalFailure Outcome = "total_failure"
	// OutcomeSkipped means there was nobody to notify.
	OutcomeSkipped Outcome = "skipped"
)

type Result struct {
	Outcome Outcome                     `json:"outcome"`
	Sent    int                         `json:"sent"`
	Failed  int                         `json:"failed"`
	Records []models.NotificationRecord `json:"records"`
}

// Summarize derives the aggregate outcome from per-contact records.
func Summarize(records []models.NotificationRecord) Result {
	res := Result{Records: records}
	for _, r := range records {
		if r.Outcome == models.OutcomeSent {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	switch {
	case len(records) == 0:
		res.Outcome = OutcomeSkipped
	case res.Sent > 0:
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeTotalFailure
	}
	return res
}

// Dispatcher fans one notice out to a contact set with bounded concurrency.
// Every contact gets exactly one attempt; the call returns once all attempts
// have either finished or timed out.
type Dispatcher struct {
	gw      notify.Gateway
	rl      RateLimiter
	metrics *metrics.Metrics

	maxInFlight        int
	sendTimeout        time.Duration
	rateLimitPerMinute int64
	throttleDelay      time.Duration

	now func() time.Time
}

func New(gw notify.Gateway) *Dispatcher {
	return &Dispatcher{
		gw:            gw,
		maxInFlight:   10,
		sendTimeout:   10 * time.Second,
		throttleDelay: 500 * time.Millisecond,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithSettings(maxInFlight int, sendTimeout time.Duration) *Dispatcher {
	if maxInFlight > 0 {
		d.maxInFlight = maxInFlight
	}
	if sendTimeout > 0 {
		d.sendTimeout = sendTimeout
	}
	return d
}

func (d *Dispatcher) WithRateLimit(rl RateLimiter, perMinute int64) *Dispatcher {
	d.rl = rl
	d.rateLimitPerMinute = perMinute
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *Dispatcher) Channel() models.Channel { return d.gw.Channel() }

func (d *Dispatcher) FanOut(ctx context.Context, n Notice, contacts []models.Contact) Result {
	if len(contacts) == 0 {
		return Summarize(nil)
	}
	// Caller cancellation must not cut the batch short: a partial record set
	// would misstate who was actually notified.
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	records := make([]models.NotificationRecord, len(contacts))
	sem := make(chan struct{}, d.maxInFlight)
	var wg sync.WaitGroup
	for i, c := range contacts {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			records[i] = d.attempt(ctx, n, c)
		}()
	}
	wg.Wait()

	res := Summarize(records)
	if d.metrics != nil {
		d.metrics.FanOutDuration.WithLabelValues(string(n.Kind)).Observe(time.Since(started).Seconds())
	}
	slog.Info("notice fan-out finished",
		"notice", n.Kind, "contacts", len(contacts), "sent", res.Sent, "failed", res.Failed, "outcome", res.Outcome)
	return res
}

type sendResult struct {
	id  string
	err error
}

func (d *Dispatcher) attempt(ctx context.Context, n Notice, c models.Contact) models.NotificationRecord {
	ch := d.gw.Channel()
	rec := models.NotificationRecord{
		ContactID:   c.ID,
		Channel:     ch,
		Notice:      n.Kind,
		Address:     c.Address(ch),
		AttemptedAt: d.now(),
	}
	defer d.observe(rec.Channel, n.Kind, &rec)

	if rec.Address == "" {
		rec.Outcome = models.OutcomeFailed
		rec.FailureReason = models.FailureNoAddress
		slog.Warn("contact has no address for channel", "contact_id", c.ID, "channel", ch)
		return rec
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	// A rate-limit wait spends the attempt's own timeout.
	d.throttle(sendCtx, ch)
	if sendCtx.Err() != nil {
		rec.Outcome = models.OutcomeFailed
		rec.FailureReason = models.FailureTimeout
		rec.Transient = true
		slog.Warn("notification timed out while rate limited", "contact_id", c.ID, "notice", n.Kind)
		return rec
	}

	done := make(chan sendResult, 1)
	go func() {
		id, err := d.gw.Send(sendCtx, rec.Address, n.Subject, n.Body)
		done <- sendResult{id: id, err: err}
	}()

	var r sendResult
	select {
	case r = <-done:
	case <-sendCtx.Done():
		select {
		case r = <-done:
		default:
			rec.Outcome = models.OutcomeFailed
			rec.FailureReason = models.FailureTimeout
			rec.Transient = true
			slog.Warn("notification timed out", "contact_id", c.ID, "notice", n.Kind, "timeout", d.sendTimeout)
			return rec
		}
	}

	if r.err != nil {
		rec.Outcome = models.OutcomeFailed
		rec.FailureReason = r.err.Error()
		rec.Transient = notify.IsTransient(r.err)
		if sendCtx.Err() == context.DeadlineExceeded {
			rec.FailureReason = models.FailureTimeout
		}
		slog.Warn("notification failed",
			"contact_id", c.ID, "notice", n.Kind, "transient", rec.Transient, "error", r.err.Error())
		return rec
	}

	rec.Outcome = models.OutcomeSent
	rec.MessageID = r.id
	return rec
}

// throttle slows the batch down when the provider budget for the current
// minute is exhausted. It never fails the attempt.
func (d *Dispatcher) throttle(ctx context.Context, ch models.Channel) {
	if d.rl == nil || d.rateLimitPerMinute <= 0 {
		return
	}
	key := "rl:notify:" + string(ch) + ":" + d.now().Format("200601021504")
	allowed, count, err := d.rl.Allow(ctx, key, d.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("notify rate limiter unavailable", "error", err.Error())
		return
	}
	if !allowed {
		slog.Warn("notify rate limit exceeded", "channel", ch, "count", count)
		t := time.NewTimer(d.throttleDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

func (d *Dispatcher) observe(ch models.Channel, kind models.NoticeKind, rec *models.NotificationRecord) {
	if d.metrics == nil {
		return
	}
	d.metrics.NotificationAttempts.WithLabelValues(string(ch), string(kind), string(rec.Outcome)).Inc()
}

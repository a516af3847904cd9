package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/trips"
)

type Repository interface {
	ListOverdueTrips(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error)
}

// Checker runs the delay transition for one trip.
type Checker interface {
	CheckOverdue(ctx context.Context, tripID string) (*trips.Result, error)
}

// Sweeper finds ongoing trips past their expected end and moves them to
// delayed. Trips that never send a location update would otherwise stay
// ongoing forever.
type Sweeper struct {
	repo    Repository
	checker Checker
	metrics *metrics.Metrics

	interval    time.Duration
	batchSize   int
	concurrency int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalFound          atomic.Int64
	totalDelayed        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string

	now func() time.Time
}

func New(repo Repository, checker Checker) *Sweeper {
	return &Sweeper{
		repo:              repo,
		checker:           checker,
		interval:          30 * time.Second,
		batchSize:         100,
		concurrency:       4,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithSettings(interval time.Duration, batchSize, concurrency int) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalFound    int64      `json:"totalFound"`
	TotalDelayed  int64      `json:"totalDelayed"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalFound:   s.totalFound.Load(),
		TotalDelayed: s.totalDelayed.Load(),
		TotalErrors:  s.totalErrors.Load(),
		InFlight:     s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := s.now()
	s.lastCycleUnixNano.Store(now.UnixNano())
	if s.metrics != nil {
		defer s.metrics.OverdueSweeps.Inc()
	}

	items, err := s.repo.ListOverdueTrips(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("list overdue trips", "error", err.Error())
		s.setLastError(err)
		return
	}
	s.totalFound.Add(int64(len(items)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, tr := range items {
		sem <- struct{}{}
		wg.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			res, err := s.checker.CheckOverdue(ctx, tr.ID)
			if err != nil {
				s.totalErrors.Add(1)
				s.setLastError(err)
				slog.Error("check overdue trip", "trip_id", tr.ID, "error", err.Error())
				return
			}
			if res.Effect == trips.EffectDelayed {
				s.totalDelayed.Add(1)
			}
		}()
	}
	wg.Wait()
}

func (s *Sweeper) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

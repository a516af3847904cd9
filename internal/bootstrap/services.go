package bootstrap

import (
	"time"

	"github.com/BearBump/SafeZone/config"
	"github.com/BearBump/SafeZone/internal/cache"
	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	"github.com/BearBump/SafeZone/internal/services/trips"
)

// Deps are the infrastructure pieces the core services are built from.
// Cache, Limiter and Publisher are optional.
type Deps struct {
	Backend   Backend
	Contacts  alerts.ContactRegistry
	Gateway   notify.Gateway
	Cache     cache.BytesCache
	Limiter   cache.RateLimiter
	Publisher alerts.Publisher
	Metrics   *metrics.Metrics
}

type Services struct {
	Dispatcher *dispatch.Dispatcher
	Alerts     *alerts.Service
	Trips      *trips.Service
}

func BuildServices(cfg *config.Config, d Deps) *Services {
	disp := dispatch.New(d.Gateway).
		WithSettings(cfg.SafeZone.DispatchMaxInFlight, time.Duration(cfg.SafeZone.DispatchSendTimeoutSeconds)*time.Second).
		WithMetrics(d.Metrics)
	if d.Limiter != nil && cfg.SafeZone.DispatchRateLimitPerMinute > 0 {
		disp = disp.WithRateLimit(d.Limiter, int64(cfg.SafeZone.DispatchRateLimitPerMinute))
	}

	as := alerts.New(d.Backend, d.Contacts, disp).WithMetrics(d.Metrics)
	ts := trips.New(d.Backend, d.Contacts, disp).WithMetrics(d.Metrics)

	if d.Cache != nil {
		ttl := time.Duration(cfg.SafeZone.TripCacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ts = ts.WithCache(d.Cache, ttl)
	}
	if d.Publisher != nil {
		as = as.WithPublisher(d.Publisher)
		ts = ts.WithPublisher(d.Publisher)
	}
	return &Services{Dispatcher: disp, Alerts: as, Trips: ts}
}

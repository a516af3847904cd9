package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/SafeZone/config"
	"github.com/BearBump/SafeZone/internal/bootstrap"
	"github.com/BearBump/SafeZone/internal/broker/kafka"
	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/BearBump/SafeZone/internal/services/sweeper"
)

type workerFactories struct {
	newBackend  func(ctx context.Context, cfg *config.Config) (b bootstrap.Backend, closeFn func(), err error)
	newProducer func(cfg *config.Config) alerts.Publisher
	newGateway  func(cfg *config.Config) (notify.Gateway, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newBackend: func(ctx context.Context, cfg *config.Config) (bootstrap.Backend, func(), error) {
			return bootstrap.OpenBackend(ctx, cfg, 60*time.Second)
		},
		newProducer: func(cfg *config.Config) alerts.Publisher {
			if !cfg.SafeZone.PublishEvents {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers).WithTopic(cfg.Kafka.SafetyEventsTopic)
		},
		newGateway: bootstrap.Gateway,
	}
}

type tripWorker struct {
	sweeper *sweeper.Sweeper
	backend bootstrap.Backend
	closers []func()
}

func (w *tripWorker) ping(ctx context.Context) error {
	return w.backend.Ping(ctx)
}

func (w *tripWorker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

// buildTripWorker wires the sweeper on top of the trip service. Delay
// notices go through the same dispatcher the API uses.
func buildTripWorker(ctx context.Context, cfg *config.Config, m *metrics.Metrics, f workerFactories) (*tripWorker, error) {
	interval := time.Duration(cfg.SafeZone.WorkerSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batchSize := cfg.SafeZone.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.SafeZone.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	w := &tripWorker{}
	backend, closeFn, err := f.newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	w.backend = backend
	if closeFn != nil {
		w.closers = append(w.closers, closeFn)
	}

	contacts, err := bootstrap.Contacts(cfg, backend)
	if err != nil {
		w.Close()
		return nil, err
	}
	gw, err := f.newGateway(cfg)
	if err != nil {
		w.Close()
		return nil, err
	}
	bc, closeCache, err := bootstrap.Cache(cfg)
	if err != nil {
		w.Close()
		return nil, err
	}
	rl, closeRL := bootstrap.RateLimiter(cfg)
	w.closers = append(w.closers, closeCache, closeRL)

	deps := bootstrap.Deps{Backend: backend, Contacts: contacts, Gateway: gw, Cache: bc, Limiter: rl, Metrics: m}
	if p := f.newProducer(cfg); p != nil {
		deps.Publisher = p
		if c, ok := p.(interface{ Close() error }); ok {
			w.closers = append(w.closers, func() { _ = c.Close() })
		}
	}
	svcs := bootstrap.BuildServices(cfg, deps)

	w.sweeper = sweeper.New(backend, svcs.Trips).
		WithSettings(interval, batchSize, concurrency).
		WithMetrics(m)
	return w, nil
}

func RunTripWorker(ctx context.Context, cfg *config.Config, m *metrics.Metrics, f workerFactories) error {
	w, err := buildTripWorker(ctx, cfg, m, f)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.sweeper.Run(ctx)
}

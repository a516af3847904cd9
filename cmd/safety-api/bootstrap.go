package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BearBump/SafeZone/config"
	safetyapi "github.com/BearBump/SafeZone/internal/api/safety_api"
	"github.com/BearBump/SafeZone/internal/bootstrap"
	"github.com/BearBump/SafeZone/internal/broker/kafka"
	"github.com/BearBump/SafeZone/internal/broker/mqtt"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/services/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type safetyAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    safetyAPIOpts
	deps    safetyAPIDeps
	closers []func()
	once    sync.Once
}

func mustBootstrapSafetyAPI() *safetyAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	bootstrap.SetupLogger(cfg.Log, os.Stdout)
	if cfg.SafeZone.JWTSecret == "" {
		panic("jwt secret is required (safezone.jwt_secret or SAFEZONE_JWT_SECRET)")
	}

	httpAddr := cfg.SafeZone.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.SafeZone.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "safety-api"
	}
	locationsTopic := cfg.Kafka.TripLocationsTopic
	if locationsTopic == "" {
		locationsTopic = kafka.DefaultLocationTopic
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &safetyAPIApp{ctx: ctx, cancel: cancel}

	backend, closeDB, err := bootstrap.OpenBackend(ctx, cfg, 60*time.Second)
	if err != nil {
		panic(err)
	}
	app.closers = append(app.closers, closeDB)
	if cfg.Contacts.Mode == "" || cfg.Contacts.Mode == "store" {
		if err := bootstrap.SeedUsers(ctx, backend, cfg.Contacts.Users); err != nil {
			panic(err)
		}
	}

	contacts, err := bootstrap.Contacts(cfg, backend)
	if err != nil {
		panic(err)
	}
	gw, err := bootstrap.Gateway(cfg)
	if err != nil {
		panic(err)
	}
	bc, closeCache, err := bootstrap.Cache(cfg)
	if err != nil {
		panic(err)
	}
	rl, closeRL := bootstrap.RateLimiter(cfg)
	app.closers = append(app.closers, closeCache, closeRL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	deps := bootstrap.Deps{Backend: backend, Contacts: contacts, Gateway: gw, Cache: bc, Limiter: rl, Metrics: m}
	if cfg.SafeZone.PublishEvents {
		producer := kafka.NewProducer(brokers).WithTopic(cfg.Kafka.SafetyEventsTopic)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		deps.Publisher = producer
	}
	svcs := bootstrap.BuildServices(cfg, deps)

	api := safetyapi.New(svcs.Alerts, svcs.Trips, safetyapi.NewAuthenticator(cfg.SafeZone.JWTSecret)).
		WithHealthChecks(backend).
		WithMetrics(m)

	app.opts = safetyAPIOpts{
		httpAddr:       httpAddr,
		swaggerPath:    swaggerPath,
		locationsTopic: locationsTopic,
		consumerGroup:  consumerGroup,
	}
	app.deps = safetyAPIDeps{
		api:     api,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	if cfg.SafeZone.ConsumeLocations {
		consumer := kafka.NewConsumer(brokers, locationsTopic, consumerGroup)
		app.closers = append(app.closers, func() { _ = consumer.Close() })
		lc := newLocationConsumer(consumer, ingest.New(svcs.Trips, "kafka").WithMetrics(m).Handle, locationsTopic)
		app.deps.locations = lc
		api.WithHealthChecks(lc)
	}
	if cfg.MQTT.BrokerURL != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "safety-api"
		}
		app.deps.mqtt = mqtt.NewSubscriber(cfg.MQTT.BrokerURL, clientID, ingest.New(svcs.Trips, "mqtt").WithMetrics(m)).
			WithCredentials(cfg.MQTT.Username, cfg.MQTT.Password).
			WithTopic(cfg.MQTT.Topic, byte(cfg.MQTT.QoS))
	}

	return app
}

// Close releases resources in reverse order of acquisition.
func (a *safetyAPIApp) Close() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

func (a *safetyAPIApp) Run() error {
	return runSafetyAPI(a.ctx, a.opts, a.deps)
}

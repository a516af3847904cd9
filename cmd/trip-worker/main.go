package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/SafeZone/config"
	"github.com/BearBump/SafeZone/internal/bootstrap"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	bootstrap.SetupLogger(cfg.Log, os.Stdout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildTripWorker(ctx, cfg, m, defaultWorkerFactories())
	if err != nil {
		panic(err)
	}
	defer w.Close()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.SafeZone.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			sweeper:     w.sweeper,
			cfg:         cfg,
			metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ready:       w.ping,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- w.sweeper.Run(ctx) }()

	select {
	case err = <-runErr:
	case err = <-httpErr:
		cancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("trip-worker stopped", "error", err.Error())
	}
}

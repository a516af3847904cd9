package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	safetyapi "github.com/BearBump/SafeZone/internal/api/safety_api"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type safetyAPIOpts struct {
	httpAddr    string
	swaggerPath string

	locationsTopic string
	consumerGroup  string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
}

type mqttSubscriber interface {
	Run(ctx context.Context) error
}

// safetyAPIDeps carries what runSafetyAPI serves. locations and mqtt are
// optional location sources.
type safetyAPIDeps struct {
	api       *safetyapi.SafetyAPI
	metrics   http.Handler
	locations *locationConsumer
	mqtt      mqttSubscriber
}

func runSafetyAPI(ctx context.Context, opts safetyAPIOpts, deps safetyAPIDeps) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(deps, opts.swaggerPath))
	}()

	if deps.locations != nil {
		slog.Info("kafka consumer started", "topic", opts.locationsTopic, "group", opts.consumerGroup)
		go deps.locations.run(ctx)
	}
	if deps.mqtt != nil {
		go func() {
			if err := deps.mqtt.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("mqtt subscriber stopped", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func newRouter(deps safetyAPIDeps, swaggerPath string) http.Handler {
	r := chi.NewRouter()
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics)
	}
	r.Mount("/", deps.api.Routes())
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

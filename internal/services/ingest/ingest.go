package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/SafeZone/internal/broker/messages"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/trips"
	"github.com/pkg/errors"
)

const (
	resultOK        = "ok"
	resultRejected  = "rejected"
	resultMalformed = "malformed"
	resultError     = "error"
)

type TripUpdater interface {
	UpdateLocation(ctx context.Context, userID, tripID string, loc models.Location) (*trips.Result, error)
}

// Handler turns device location messages into trip location events.
// Messages that can never succeed are dropped with a log line so a broker
// consumer can commit past them; only store outages are returned.
type Handler struct {
	trips   TripUpdater
	source  string
	metrics *metrics.Metrics
}

func New(t TripUpdater, source string) *Handler {
	return &Handler{trips: t, source: source}
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// Handle decodes a JSON LocationUpdate. It matches the kafka consumer
// handler signature.
func (h *Handler) Handle(ctx context.Context, _, value []byte) error {
	var upd messages.LocationUpdate
	if err := json.Unmarshal(value, &upd); err != nil {
		h.count(resultMalformed)
		slog.Warn("location update dropped: bad payload", "source", h.source, "error", err.Error())
		return nil
	}
	return h.HandleLocation(ctx, upd)
}

func (h *Handler) HandleLocation(ctx context.Context, upd messages.LocationUpdate) error {
	if upd.TripID == "" || upd.UserID == "" {
		h.count(resultMalformed)
		slog.Warn("location update dropped: missing ids", "source", h.source, "trip_id", upd.TripID, "user_id", upd.UserID)
		return nil
	}

	_, err := h.trips.UpdateLocation(ctx, upd.UserID, upd.TripID, models.Location{Lat: upd.Lat, Lon: upd.Lon})
	switch {
	case err == nil:
		h.count(resultOK)
		return nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrInvalidInput):
		h.count(resultRejected)
		slog.Info("location update rejected", "source", h.source, "trip_id", upd.TripID, "error", err.Error())
		return nil
	default:
		h.count(resultError)
		return errors.Wrapf(err, "update location of trip %s", upd.TripID)
	}
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.LocationUpdates.WithLabelValues(h.source, result).Inc()
	}
}

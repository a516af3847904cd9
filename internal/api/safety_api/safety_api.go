package safety_api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	"github.com/BearBump/SafeZone/internal/services/trips"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type AlertService interface {
	Trigger(ctx context.Context, userID string, loc models.Location) (*alerts.TriggerResult, error)
	Resolve(ctx context.Context, alertID, userID string) (*alerts.ResolveResult, error)
	ListActive(ctx context.Context, userID string) ([]*models.Alert, error)
}

type TripService interface {
	Start(ctx context.Context, userID string, in trips.StartInput) (*trips.Result, error)
	UpdateLocation(ctx context.Context, userID, tripID string, loc models.Location) (*trips.Result, error)
	Complete(ctx context.Context, userID, tripID string) (*trips.Result, error)
	Cancel(ctx context.Context, userID, tripID string) (*trips.Result, error)
	GetActive(ctx context.Context, userID string) (*models.Trip, error)
	Get(ctx context.Context, userID, tripID string) (*models.Trip, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type SafetyAPI struct {
	alerts   AlertService
	trips    TripService
	auth     *Authenticator
	validate *validator.Validate
	health   []Pinger
	metrics  *metrics.Metrics
}

func New(a AlertService, t TripService, auth *Authenticator) *SafetyAPI {
	return &SafetyAPI{
		alerts:   a,
		trips:    t,
		auth:     auth,
		validate: validator.New(),
	}
}

// WithHealthChecks adds dependencies pinged by /api/health.
func (a *SafetyAPI) WithHealthChecks(p ...Pinger) *SafetyAPI {
	a.health = append(a.health, p...)
	return a
}

func (a *SafetyAPI) WithMetrics(m *metrics.Metrics) *SafetyAPI {
	a.metrics = m
	return a
}

func (a *SafetyAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", a.healthCheck)

	r.Group(func(r chi.Router) {
		r.Use(a.auth.Wrap)

		r.Post("/api/sos/trigger", a.triggerAlert)
		r.Patch("/api/sos/{id}/resolve", a.resolveAlert)
		r.Get("/api/sos/active", a.activeAlerts)

		r.Post("/api/trips", a.startTrip)
		r.Get("/api/trips/active", a.activeTrip)
		r.Get("/api/trips/{id}", a.getTrip)
		r.Patch("/api/trips/{id}/location", a.updateLocation)
		r.Patch("/api/trips/{id}/complete", a.completeTrip)
		r.Patch("/api/trips/{id}/cancel", a.cancelTrip)
	})
	return r
}

func (a *SafetyAPI) triggerAlert(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.alerts.Trigger(r.Context(), callerID(r), req.location())
	if err != nil {
		writeError(w, r, err)
		return
	}

	ok := res.Dispatch.Outcome != dispatch.OutcomeTotalFailure
	msg := fmt.Sprintf("SOS alert triggered and sent to %d contacts", res.Dispatch.Sent)
	if !ok {
		msg = "SOS alert recorded but no contact could be notified"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  ok,
		"message":  msg,
		"alert":    res.Alert,
		"dispatch": res.Dispatch,
	})
}

func (a *SafetyAPI) resolveAlert(w http.ResponseWriter, r *http.Request) {
	res, err := a.alerts.Resolve(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "SOS alert resolved",
		"alert":    res.Alert,
		"dispatch": res.Dispatch,
	})
}

func (a *SafetyAPI) activeAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := a.alerts.ListActive(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (a *SafetyAPI) startTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.trips.Start(r.Context(), callerID(r), trips.StartInput{
		StartLocation:   req.StartLocation.location(),
		EndLocation:     req.EndLocation.location(),
		ExpectedEndTime: req.ExpectedEndTime.UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Trip started successfully",
		"trip":     res.Trip,
		"dispatch": res.Dispatch,
	})
}

func (a *SafetyAPI) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !a.decode(w, r, &req) {
		a.countLocation("malformed")
		return
	}
	res, err := a.trips.UpdateLocation(r.Context(), callerID(r), chi.URLParam(r, "id"), req.location())
	if err != nil {
		if statusFor(err) < http.StatusInternalServerError {
			a.countLocation("rejected")
		} else {
			a.countLocation("error")
		}
		writeError(w, r, err)
		return
	}
	a.countLocation("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Location updated",
		"trip":     res.Trip,
		"dispatch": res.Dispatch,
	})
}

func (a *SafetyAPI) completeTrip(w http.ResponseWriter, r *http.Request) {
	res, err := a.trips.Complete(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Trip completed",
		"trip":     res.Trip,
		"dispatch": res.Dispatch,
	})
}

func (a *SafetyAPI) cancelTrip(w http.ResponseWriter, r *http.Request) {
	res, err := a.trips.Cancel(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Trip cancelled",
		"trip":    res.Trip,
	})
}

// activeTrip answers null when the caller has no ongoing or delayed trip.
func (a *SafetyAPI) activeTrip(w http.ResponseWriter, r *http.Request) {
	t, err := a.trips.GetActive(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *SafetyAPI) getTrip(w http.ResponseWriter, r *http.Request) {
	t, err := a.trips.Get(r.Context(), callerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *SafetyAPI) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range a.health {
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// decode reads a JSON body and validates it, answering 400 itself on failure.
func (a *SafetyAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid field %s: failed %q", verrs[0].Namespace(), verrs[0].Tag()))
			return false
		}
		writeMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (a *SafetyAPI) countLocation(result string) {
	if a.metrics != nil {
		a.metrics.LocationUpdates.WithLabelValues("api", result).Inc()
	}
}

func callerID(r *http.Request) string {
	id, _ := UserIDFromContext(r.Context())
	return id
}

package safety_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/SafeZone/internal/integrations/notify/fake"
	"github.com/BearBump/SafeZone/internal/metrics"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/BearBump/SafeZone/internal/services/alerts"
	"github.com/BearBump/SafeZone/internal/services/dispatch"
	"github.com/BearBump/SafeZone/internal/services/trips"
	"github.com/BearBump/SafeZone/internal/storage/memstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

const secret = "test-secret"

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("db down") }

type APISuite struct {
	suite.Suite

	store   *memstore.Store
	gw      *fake.Gateway
	metrics *metrics.Metrics
	srv     *httptest.Server
}

func (s *APISuite) SetupTest() {
	s.store = memstore.New()
	s.store.SetContacts("u1", "Jane", []models.Contact{
		{ID: "A", Email: "alice@example.org"},
		{ID: "B", Email: "bob-fail@example.org"},
	})
	s.store.SetContacts("u2", "Sam", []models.Contact{{ID: "C", Email: "fail@example.org"}})
	s.store.SetContacts("u3", "Lonely", nil)

	s.gw = fake.New(models.ChannelEmail)
	disp := dispatch.New(s.gw)
	s.metrics = metrics.New(nil)

	api := New(
		alerts.New(s.store, s.store, disp),
		trips.New(s.store, s.store, disp),
		NewAuthenticator(secret),
	).WithHealthChecks(s.store).WithMetrics(s.metrics)
	s.srv = httptest.NewServer(api.Routes())
}

func (s *APISuite) TearDownTest() {
	s.srv.Close()
}

func token(claims jwt.MapClaims, key string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		panic(err)
	}
	return tok
}

func (s *APISuite) do(method, path, user string, body any) (*http.Response, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	s.Require().NoError(err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(jwt.MapClaims{"userId": user}, secret))
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *APISuite) TestHealth() {
	resp, body := s.do(http.MethodGet, "/api/health", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("ok", body["status"])
}

func (s *APISuite) TestHealth_Degraded() {
	api := New(nil, nil, NewAuthenticator(secret)).WithHealthChecks(failingPinger{})
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	s.Require().Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *APISuite) TestAuth() {
	resp, _ := s.do(http.MethodGet, "/api/sos/active", "", nil)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/sos/active", nil)
	req.Header.Set("Authorization", "Bearer "+token(jwt.MapClaims{"userId": "u1"}, "other-secret"))
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, s.srv.URL+"/api/sos/active", nil)
	req.Header.Set("Authorization", "Bearer "+token(jwt.MapClaims{"sub": "u1"}, secret))
	resp, err = http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
}

func (s *APISuite) TestTrigger_PartialFailure() {
	resp, body := s.do(http.MethodPost, "/api/sos/trigger", "u1", map[string]any{"latitude": 12.9, "longitude": 77.6})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.Require().Equal(true, body["success"])

	d := body["dispatch"].(map[string]any)
	s.Require().Equal("success", d["outcome"])
	s.Require().EqualValues(1, d["sent"])
	s.Require().EqualValues(1, d["failed"])

	_, list := s.do(http.MethodGet, "/api/sos/active", "u1", nil)
	s.Require().Len(list["alerts"], 1)
}

func (s *APISuite) TestTrigger_TotalFailureStillCreated() {
	resp, body := s.do(http.MethodPost, "/api/sos/trigger", "u2", map[string]any{"latitude": 0, "longitude": 0})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.Require().Equal(false, body["success"])
	s.Require().NotNil(body["alert"])
}

func (s *APISuite) TestTrigger_Validation() {
	resp, _ := s.do(http.MethodPost, "/api/sos/trigger", "u1", map[string]any{"latitude": 12.9})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/sos/trigger", "u1", map[string]any{"latitude": 120, "longitude": 0})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Require().Empty(s.gw.Sent())
}

func (s *APISuite) TestTrigger_NoContacts() {
	resp, _ := s.do(http.MethodPost, "/api/sos/trigger", "u3", map[string]any{"latitude": 1, "longitude": 1})
	s.Require().Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func (s *APISuite) TestResolve_OnceThenNotFound() {
	_, body := s.do(http.MethodPost, "/api/sos/trigger", "u1", map[string]any{"latitude": 1, "longitude": 1})
	id := body["alert"].(map[string]any)["id"].(string)

	resp, _ := s.do(http.MethodPatch, "/api/sos/"+id+"/resolve", "u2", nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(http.MethodPatch, "/api/sos/"+id+"/resolve", "u1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("resolved", body["alert"].(map[string]any)["status"])

	resp, _ = s.do(http.MethodPatch, "/api/sos/"+id+"/resolve", "u1", nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APISuite) TestTripLifecycle() {
	resp, body := s.do(http.MethodGet, "/api/trips/active", "u1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Nil(body)

	resp, body = s.do(http.MethodPost, "/api/trips", "u1", map[string]any{
		"startLocation":   map[string]any{"latitude": 12.9, "longitude": 77.6},
		"endLocation":     map[string]any{"latitude": 13.0, "longitude": 77.7},
		"expectedEndTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	id := body["trip"].(map[string]any)["id"].(string)

	resp, body = s.do(http.MethodPatch, "/api/trips/"+id+"/location", "u1", map[string]any{"latitude": 12.95, "longitude": 77.65})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("ongoing", body["trip"].(map[string]any)["status"])

	resp, _ = s.do(http.MethodGet, "/api/trips/"+id, "u2", nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(http.MethodGet, "/api/trips/active", "u1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal(id, body["id"])

	resp, body = s.do(http.MethodPatch, "/api/trips/"+id+"/complete", "u1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("completed", body["trip"].(map[string]any)["status"])

	resp, _ = s.do(http.MethodPatch, "/api/trips/"+id+"/location", "u1", map[string]any{"latitude": 1, "longitude": 1})
	s.Require().Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(http.MethodPatch, "/api/trips/"+id+"/cancel", "u1", nil)
	s.Require().Equal(http.StatusConflict, resp.StatusCode)

	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.LocationUpdates.WithLabelValues("api", "ok")))
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.LocationUpdates.WithLabelValues("api", "rejected")))
}

func (s *APISuite) TestStartTrip_Validation() {
	resp, _ := s.do(http.MethodPost, "/api/trips", "u1", map[string]any{
		"startLocation": map[string]any{"latitude": 12.9, "longitude": 77.6},
	})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/trips", "u1", map[string]any{
		"startLocation":   map[string]any{"latitude": 12.9, "longitude": 77.6},
		"endLocation":     map[string]any{"latitude": 13.0, "longitude": 77.7},
		"expectedEndTime": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestCancel() {
	_, body := s.do(http.MethodPost, "/api/trips", "u1", map[string]any{
		"startLocation":   map[string]any{"latitude": 1, "longitude": 1},
		"endLocation":     map[string]any{"latitude": 2, "longitude": 2},
		"expectedEndTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	id := body["trip"].(map[string]any)["id"].(string)

	resp, body := s.do(http.MethodPatch, "/api/trips/"+id+"/cancel", "u1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("cancelled", body["trip"].(map[string]any)["status"])
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		errors.Wrap(models.ErrInvalidInput, "x"):     http.StatusBadRequest,
		errors.Wrap(models.ErrNoContacts, "x"):       http.StatusUnprocessableEntity,
		errors.Wrap(models.ErrNotFound, "x"):         http.StatusNotFound,
		errors.Wrap(models.ErrInvalidState, "x"):     http.StatusConflict,
		errors.Wrap(models.ErrConflict, "x"):         http.StatusConflict,
		errors.Wrap(models.ErrStoreUnavailable, "x"): http.StatusServiceUnavailable,
		errors.New("boom"):                           http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

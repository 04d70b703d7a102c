package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/ambulance-dispatch/internal/auth"
	"github.com/ukydev/ambulance-dispatch/internal/db"
	"github.com/ukydev/ambulance-dispatch/internal/dispatch"
	"github.com/ukydev/ambulance-dispatch/internal/middleware"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"github.com/ukydev/ambulance-dispatch/internal/observability"
	"github.com/ukydev/ambulance-dispatch/internal/registry"
	"github.com/ukydev/ambulance-dispatch/internal/syncer"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) List(ctx context.Context, f db.JournalFilter) ([]models.DispatchEvent, error) {
	args := m.Called(ctx, f)
	out, _ := args.Get(0).([]models.DispatchEvent)
	return out, args.Error(1)
}

type staticSync struct{ st syncer.Status }

func (s staticSync) Status() syncer.Status { return s.st }

type testAPI struct {
	t       *testing.T
	handler http.Handler
	auth    *auth.Service
	reg     *registry.Registry
	tokens  map[models.Role]string
}

func newTestAPI(t *testing.T, journal JournalReader) *testAPI {
	t.Helper()
	log, _ := test.NewNullLogger()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seq := 0
	reg := registry.New(
		registry.WithClock(func() time.Time { return now }),
		registry.WithIDGenerator(func() models.ID {
			seq++
			return models.ID(fmt.Sprintf("id-%d", seq))
		}),
	)
	svc := dispatch.NewService(reg, auth.NewGate(log), nil,
		dispatch.WithLogger(log),
		dispatch.WithRandom(func() float64 { return 0.5 }),
	)
	authService := newAuthService(t)
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	api := &testAPI{
		t:      t,
		auth:   authService,
		reg:    reg,
		tokens: make(map[models.Role]string),
	}
	api.handler = NewRouter(RouterDeps{
		Dispatch: NewDispatchHandler(svc, journal, log),
		Health:   NewHealthHandler(staticSync{st: syncer.Status{LastSuccess: now}}),
		AuthMW:   middleware.NewAuthMiddleware(authService, log),
		Gatherer: metrics.Gatherer(),
		Log:      log,
	})
	for _, role := range []models.Role{models.RoleAdmin, models.RoleDispatcher, models.RoleFleetChief} {
		token, err := authService.GenerateToken(&models.User{ID: primitive.NewObjectID(), Role: role})
		require.NoError(t, err)
		api.tokens[role] = token
	}
	return api
}

func (a *testAPI) do(role models.Role, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func floatPtr(f float64) *float64 { return &f }

func TestDispatchFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(models.RoleFleetChief, "POST", "/api/ambulances", models.CreateAmbulanceRequest{
		Name: "AMB-001", Type: models.AmbulanceTypeA, Lat: 48.90, Lng: 2.40,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	near := decode[models.Ambulance](t, w)
	assert.Equal(t, models.AmbulanceAvailable, near.Status)

	w = api.do(models.RoleAdmin, "POST", "/api/ambulances", models.CreateAmbulanceRequest{
		Name: "AMB-002", Type: models.AmbulanceTypeB, Lat: 48.70, Lng: 2.10,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	far := decode[models.Ambulance](t, w)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents", models.CreateIncidentRequest{
		Type: "Cardiac arrest", Address: "1 Rue de Rivoli", Severity: models.SeverityCritical,
		Lat: floatPtr(48.8566), Lng: floatPtr(2.3522),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inc := decode[models.Incident](t, w)
	assert.Equal(t, models.IncidentPending, inc.Status)

	w = api.do(models.RoleDispatcher, "GET", "/api/incidents/"+inc.ID.String()+"/candidates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	candidates := decode[[]dispatch.Candidate](t, w)
	require.Len(t, candidates, 2)
	assert.Equal(t, near.ID, candidates[0].Ambulance.ID)
	assert.InDelta(t, 5.7, candidates[0].DistanceKm, 0.8)

	w = api.do(models.RoleFleetChief, "POST", "/api/incidents/"+inc.ID.String()+"/assign", models.AssignAmbulanceRequest{AmbulanceID: near.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents/"+inc.ID.String()+"/assign", models.AssignAmbulanceRequest{AmbulanceID: near.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assignment := decode[dispatch.Assignment](t, w)
	assert.Equal(t, models.IncidentInProgress, assignment.Incident.Status)
	assert.Equal(t, models.AmbulanceBusy, assignment.Ambulance.Status)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents/"+inc.ID.String()+"/assign", models.AssignAmbulanceRequest{AmbulanceID: far.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(models.RoleDispatcher, "PATCH", "/api/ambulances/"+near.ID.String()+"/status", models.UpdateAmbulanceStatusRequest{Status: models.AmbulanceAvailable})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(models.RoleFleetChief, "DELETE", "/api/ambulances/"+near.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(models.RoleDispatcher, "GET", "/api/ambulances?status=AVAILABLE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	available := decode[[]models.Ambulance](t, w)
	require.Len(t, available, 1)
	assert.Equal(t, far.ID, available[0].ID)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents/"+inc.ID.String()+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	release := decode[dispatch.Release](t, w)
	assert.Equal(t, models.IncidentResolved, release.Incident.Status)
	require.NotNil(t, release.Ambulance)
	assert.Equal(t, models.AmbulanceAvailable, release.Ambulance.Status)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents/"+inc.ID.String()+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(models.RoleDispatcher, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[dispatch.Stats](t, w)
	assert.Equal(t, 1, stats.Incidents.Resolved)
	assert.Equal(t, 2, stats.Fleet.Available)

	w = api.do(models.RoleFleetChief, "DELETE", "/api/ambulances/"+near.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestIncidentViews(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityCritical} {
		w := api.do(models.RoleDispatcher, "POST", "/api/incidents", models.CreateIncidentRequest{
			Type: "Fall", Address: "12 Avenue Hassan II", Severity: sev,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := api.do(models.RoleDispatcher, "GET", "/api/incidents?view=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	critical := decode[[]models.Incident](t, w)
	require.Len(t, critical, 1)
	assert.Equal(t, models.SeverityCritical, critical[0].Severity)
	assert.InDelta(t, dispatch.DefaultServiceArea.Lat, critical[0].Lat, 1e-9)

	w = api.do(models.RoleDispatcher, "GET", "/api/incidents", nil)
	active := decode[[]models.Incident](t, w)
	require.Len(t, active, 2)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)

	w = api.do(models.RoleFleetChief, "GET", "/api/incidents?view=resolved", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(models.RoleDispatcher, "GET", "/api/incidents?view=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(models.RoleFleetChief, "GET", "/api/ambulances?status=BUSY", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateIncident_Validation(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(models.RoleDispatcher, "POST", "/api/incidents", models.CreateIncidentRequest{
		Type: "ab", Address: "1 Main Street", Severity: models.SeverityHigh,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "type must be at least 3 characters")

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents", map[string]any{
		"type": "Fire", "address": "1 Main Street", "severity": "EXTREME",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(models.RoleFleetChief, "POST", "/api/incidents", models.CreateIncidentRequest{
		Type: "Fire", Address: "1 Main Street", Severity: models.SeverityHigh,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnknownRecordsAndAuth(t *testing.T) {
	api := newTestAPI(t, nil)

	assert.Equal(t, http.StatusNotFound, api.do(models.RoleDispatcher, "GET", "/api/incidents/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(models.RoleDispatcher, "GET", "/api/ambulances/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(models.RoleDispatcher, "POST", "/api/incidents/nope/auto-assign", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do("", "GET", "/api/incidents", nil).Code)
}

func TestAutoAssign_NoneAvailable(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(models.RoleDispatcher, "POST", "/api/incidents", models.CreateIncidentRequest{
		Type: "Stroke", Address: "3 Boulevard Zerktouni", Severity: models.SeverityHigh,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	inc := decode[models.Incident](t, w)

	w = api.do(models.RoleDispatcher, "POST", "/api/incidents/"+inc.ID.String()+"/auto-assign", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJournal(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		api := newTestAPI(t, nil)
		assert.Equal(t, http.StatusNotFound, api.do(models.RoleDispatcher, "GET", "/api/journal", nil).Code)
	})

	t.Run("filters and permission", func(t *testing.T) {
		journal := new(MockJournal)
		journal.On("List", mock.Anything, db.JournalFilter{IncidentID: "7", Limit: 10}).
			Return([]models.DispatchEvent{{Kind: models.EventIncidentCreated, IncidentID: "7"}}, nil)
		api := newTestAPI(t, journal)

		w := api.do(models.RoleDispatcher, "GET", "/api/journal?incidentId=7&limit=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		events := decode[[]models.DispatchEvent](t, w)
		require.Len(t, events, 1)

		assert.Equal(t, http.StatusForbidden, api.do(models.RoleFleetChief, "GET", "/api/journal", nil).Code)
		assert.Equal(t, http.StatusBadRequest, api.do(models.RoleDispatcher, "GET", "/api/journal?limit=-1", nil).Code)
		journal.AssertExpectations(t)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do("", "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.StoreOK)

	api.do(models.RoleDispatcher, "GET", "/api/stats", nil)
	w = api.do("", "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(staticSync{st: syncer.Status{LastError: "store unavailable"}})
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))

	health := decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.StoreOK)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Validationf("x"), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInvalidState, http.StatusConflict},
		{models.ErrInvalidTransition, http.StatusConflict},
		{models.ErrConflict, http.StatusConflict},
		{&models.PermissionDeniedError{Role: models.RoleFleetChief, Permission: models.PermAssignAmbulance}, http.StatusForbidden},
		{models.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

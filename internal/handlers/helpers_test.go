package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelguard/internal/auth"
	"github.com/stwalsh4118/parcelguard/internal/config"
	apierrors "github.com/stwalsh4118/parcelguard/internal/errors"
	"github.com/stwalsh4118/parcelguard/internal/events"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
	"github.com/stwalsh4118/parcelguard/internal/overlap"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

const reviewerRole = "reviewer"

type testServer struct {
	router   *gin.Engine
	verifier *auth.Verifier
	store    *repository.MemoryStore
}

// newTestServer wires the full route table over an in-memory store.
// submitRate enables the submission limiter when non-empty.
func newTestServer(t *testing.T, submitRate string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Nop()
	store := repository.NewMemoryStore()
	engine := geometry.NewEngine(geometry.Config{})
	grid := overlap.NewGrid(overlap.DefaultCellDegrees)
	verifier := auth.NewVerifier(config.AuthConfig{JWTSecret: "handler-test-secret"})

	reviewerRoles := []string{reviewerRole, "admin"}
	gate := services.NewSubmissionGate(store, engine, grid, events.Nop{}, log, config.SeverityScopePrimary)
	tickets := services.NewTicketService(store, engine, grid, events.Nop{}, log, config.SeverityScopePrimary)

	routes := Router{
		Health:        NewHealthHandler(store, tickets, "test", config.StoreDriverMemory),
		Parcels:       NewParcelHandler(gate, services.NewParcelService(store, log), reviewerRoles),
		Tickets:       NewTicketHandler(tickets),
		Verifier:      verifier,
		ReviewerRoles: reviewerRoles,
	}
	if submitRate != "" {
		limit, err := middleware.RateLimit(submitRate)
		require.NoError(t, err)
		routes.SubmitLimit = limit
	}

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))
	routes.RegisterRoutes(router)

	return &testServer{router: router, verifier: verifier, store: store}
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := s.verifier.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// square is a GeoJSON polygon with its south-west corner at lat, lng.
func square(lat, lng, size float64) map[string]interface{} {
	return map[string]interface{}{
		"type": "Polygon",
		"coordinates": [][][2]float64{{
			{lng, lat},
			{lng + size, lat},
			{lng + size, lat + size},
			{lng, lat + size},
			{lng, lat},
		}},
	}
}

var (
	plotA = square(5.6, -0.2, 0.001)
	// plotB covers the eastern half of plotA.
	plotB = square(5.6, -0.1995, 0.001)
)

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apierrors.ErrorResponse](t, w).Error.Code
}

// submit posts a boundary as owner and returns the decoded decision.
func (s *testServer) submit(t *testing.T, owner string, boundary interface{}, wantStatus int) SubmitResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/parcels", map[string]interface{}{"boundary": boundary}, s.token(t, owner, ""))
	require.Equal(t, wantStatus, w.Code, w.Body.String())
	return decode[SubmitResponse](t, w)
}

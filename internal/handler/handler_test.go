package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/clock"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, cfg RouterConfig) (http.Handler, *clock.Manual) {
	t.Helper()
	nop := zerolog.Nop()
	clk := clock.NewManual(now)
	engine := service.NewBookingEngine(repository.NewMemoryStore(), service.Options{
		Policy: rules.DefaultPolicy(),
		Clock:  clk,
		Logger: &nop,
		Audit:  audit.NewLogWithLogger(nop),
	})
	return NewRouter(NewBookingHandler(engine), cfg), clk
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func createSession(t *testing.T, h http.Handler, id string, capacity int) {
	t.Helper()
	start := now.Add(24 * time.Hour)
	rec := do(t, h, http.MethodPost, "/sessions", map[string]any{
		"id":         id,
		"class_id":   "pilates",
		"start_time": start,
		"end_time":   start.Add(time.Hour),
		"capacity":   capacity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateSessionValidation(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodPost, "/sessions", map[string]any{"class_id": "x", "capacity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/sessions", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	start := now.Add(time.Hour)
	rec = do(t, h, http.MethodPost, "/sessions", map[string]any{
		"class_id": "x", "start_time": start, "end_time": start.Add(-time.Minute), "capacity": 3,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	createSession(t, h, "s1", 1)

	rec := do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	alice := decode[model.BookingResult](t, rec)
	assert.Equal(t, model.BookingConfirmed, alice.Status)

	rec = do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "bob"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	bob := decode[model.BookingResult](t, rec)
	assert.Equal(t, 1, bob.WaitlistPosition)

	rec = do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "bob"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.ReasonDuplicate, decode[model.BookingResult](t, rec).Reason)

	rec = do(t, h, http.MethodGet, "/sessions/s1/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[model.Availability](t, rec)
	assert.Equal(t, 1, av.WaitlistLength)
	assert.Equal(t, 0, av.Available)

	rec = do(t, h, http.MethodPost, "/bookings/"+alice.BookingID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancel := decode[model.CancelResult](t, rec)
	assert.Equal(t, bob.BookingID, cancel.Promoted)

	rec = do(t, h, http.MethodGet, "/bookings/"+bob.BookingID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BookingConfirmed, decode[model.Booking](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/sessions/s1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.AuditLogEntry](t, rec), 5)

	rec = do(t, h, http.MethodGet, "/users/bob/bookings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Booking](t, rec), 2)

	rec = do(t, h, http.MethodPost, "/bookings/"+alice.BookingID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserBookingStats(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	createSession(t, h, "s1", 1)

	rec := do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/sessions/s1/complete", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/users/alice/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[model.BookingStats](t, rec)
	assert.Equal(t, "alice", stats.UserID)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Upcoming)
	assert.InDelta(t, 100.0, stats.CompletionRate, 0.001)

	rec = do(t, h, http.MethodGet, "/users/nobody/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[model.BookingStats](t, rec).Total)
}

func TestLateCancellationDenied(t *testing.T) {
	h, clk := newTestRouter(t, RouterConfig{})
	createSession(t, h, "s1", 1)

	rec := do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[model.BookingResult](t, rec).BookingID

	clk.Advance(22 * time.Hour)
	rec = do(t, h, http.MethodPost, "/bookings/"+id+"/cancel", model.CancelRequest{})
	require.Equal(t, http.StatusConflict, rec.Code)
	res := decode[model.CancelResult](t, rec)
	assert.Equal(t, model.CancelDenied, res.Status)
	assert.Equal(t, model.ReasonLateCancellation, res.Reason)

	rec = do(t, h, http.MethodPost, "/bookings/"+id+"/cancel", model.CancelRequest{Actor: "admin", Override: true})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/bookings/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/sessions/nope/bookings", model.BookRequest{UserID: "u"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/sessions/nope/bookings", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/sessions/nope/reconcile?repair=maybe", nil).Code)

	createSession(t, h, "s1", 2)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/sessions/s1/complete", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/sessions/s1/complete", nil).Code)
}

func TestSessionAdminEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	createSession(t, h, "s1", 1)
	do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "alice"})
	do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "bob"})

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/sessions/s1/promote", nil).Code)

	rec := do(t, h, http.MethodPost, "/sessions/s1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[service.ReconcileReport](t, rec).Consistent())

	rec = do(t, h, http.MethodPost, "/sessions/s1/cancel", model.CancelSessionRequest{Reason: "instructor ill"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bookings_cancelled":2}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]model.Session](t, rec)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.SessionCancelled, sessions[0].Status)
}

func TestBookingRateLimit(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{BookingRateLimit: 2})
	createSession(t, h, "s1", 10)

	for _, user := range []string{"a", "b"} {
		rec := do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: user})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "c"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/sessions/s1", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	rec := do(t, h, http.MethodOptions, "/sessions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, RouterConfig{})
	createSession(t, h, "s1", 1)
	do(t, h, http.MethodPost, "/sessions/s1/bookings", model.BookRequest{UserID: "alice"})

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "classbooking_booking_outcome_total")
}

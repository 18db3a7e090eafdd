// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the booking engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
)

// Engine is the subset of the booking engine the HTTP layer calls.
type Engine interface {
	CreateSession(ctx context.Context, req model.CreateSessionRequest) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	GetAvailability(ctx context.Context, sessionID string) (model.Availability, error)
	CancelSession(ctx context.Context, sessionID, actor string) (int, error)
	CompleteSession(ctx context.Context, sessionID string) error

	RequestBooking(ctx context.Context, userID, sessionID string) (model.BookingResult, error)
	CancelBookingWith(ctx context.Context, bookingID string, opts service.CancelOptions) (model.CancelResult, error)
	PromoteNext(ctx context.Context, sessionID string) (*model.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (model.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error)
	BookingStats(ctx context.Context, userID string) (model.BookingStats, error)
	ListAuditLog(ctx context.Context, sessionID string) ([]model.AuditLogEntry, error)
	Reconcile(ctx context.Context, sessionID string, repair bool) (service.ReconcileReport, error)
}

// BookingHandler holds all HTTP handlers for the class booking API.
type BookingHandler struct {
	engine   Engine
	validate *validator.Validate
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(engine Engine) *BookingHandler {
	return &BookingHandler{engine: engine, validate: validator.New()}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

// writeEngineError maps engine errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, "operation timed out, nothing was changed")
	case errors.Is(err, model.ErrStorage):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		// Invariant violations and anything unexpected stay opaque to clients.
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession handles POST /sessions
func (h *BookingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.engine.CreateSession(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /sessions
func (h *BookingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListSessions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /sessions/{id}
func (h *BookingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetAvailability handles GET /sessions/{id}/availability
func (h *BookingHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	av, err := h.engine.GetAvailability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// CancelSession handles POST /sessions/{id}/cancel
// Cancels the session and every active booking in it.
func (h *BookingHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	var req model.CancelSessionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "admin"
	}

	n, err := h.engine.CancelSession(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bookings_cancelled": n})
}

// CompleteSession handles POST /sessions/{id}/complete
func (h *BookingHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CompleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAuditLog handles GET /sessions/{id}/audit
func (h *BookingHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.ListAuditLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PromoteNext handles POST /sessions/{id}/promote
// Re-runs waitlist promotion, e.g. after a crash between cancel and promote.
func (h *BookingHandler) PromoteNext(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.PromoteNext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if b == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Reconcile handles POST /sessions/{id}/reconcile?repair=true
func (h *BookingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	repair := false
	if v := r.URL.Query().Get("repair"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "repair must be a boolean")
			return
		}
		repair = parsed
	}

	report, err := h.engine.Reconcile(r.Context(), chi.URLParam(r, "id"), repair)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ─── Bookings ─────────────────────────────────────────────────────────────────

// RequestBooking handles POST /sessions/{id}/bookings
// A rule rejection is a decided outcome, not an error: the body always
// carries the BookingResult.
func (h *BookingHandler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	var req model.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.RequestBooking(r.Context(), req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusCreated
	switch res.Status {
	case model.BookingWaitlisted:
		status = http.StatusAccepted
	case model.BookingRejected:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// GetBooking handles GET /bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /bookings/{id}/cancel
// A denied late cancellation answers 409 with the CancelResult.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.engine.CancelBookingWith(r.Context(), chi.URLParam(r, "id"), service.CancelOptions{
		Actor:    req.Actor,
		Override: req.Override,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res.Status == model.CancelDenied {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListUserBookings handles GET /users/{id}/bookings
func (h *BookingHandler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.engine.ListUserBookings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// BookingStats handles GET /users/{id}/stats
func (h *BookingHandler) BookingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.BookingStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

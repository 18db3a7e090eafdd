// Package model defines the core domain types for the class booking system.
package model

import "time"

// SessionStatus is the scheduling state of a Session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session is one scheduled occurrence of a class with a fixed seat capacity.
type Session struct {
	ID             string        `json:"id"`
	ClassID        string        `json:"class_id"`
	InstitutionID  string        `json:"institution_id,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Capacity       int           `json:"capacity"`
	ConfirmedCount int           `json:"confirmed_count"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Remaining returns the number of available seats.
func (s *Session) Remaining() int {
	return s.Capacity - s.ConfirmedCount
}

// IsFull returns true when no seats remain.
func (s *Session) IsFull() bool {
	return s.ConfirmedCount >= s.Capacity
}

// Overlaps reports whether the half-open ranges [start,end) of both sessions intersect.
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// Booking is one user's claim on one session.
type Booking struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	SessionID   string        `json:"session_id"`
	Status      BookingStatus `json:"status"`
	Reason      Reason        `json:"reason,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	DecidedAt   time.Time     `json:"decided_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// WaitlistPosition is computed on read and only set while WAITLISTED.
	WaitlistPosition int `json:"waitlist_position,omitempty"`
}

// HeldBooking is a non-terminal booking of a user together with the time range
// of its session. It is the input the rule evaluator needs about a user.
type HeldBooking struct {
	BookingID string        `json:"booking_id"`
	SessionID string        `json:"session_id"`
	Status    BookingStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

// WaitlistEntry places a WAITLISTED booking in its session's queue.
type WaitlistEntry struct {
	SessionID  string    `json:"session_id"`
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AuditLogEntry is the immutable record of a single booking state transition.
type AuditLogEntry struct {
	SessionID   string        `json:"session_id"`
	Seq         int64         `json:"seq"`
	BookingID   string        `json:"booking_id"`
	UserID      string        `json:"user_id"`
	PriorStatus BookingStatus `json:"prior_status"`
	NewStatus   BookingStatus `json:"new_status"`
	Reason      Reason        `json:"reason"`
	Actor       string        `json:"actor,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// ReserveOutcome is the result of an atomic seat reservation.
type ReserveOutcome string

const (
	ReserveGranted   ReserveOutcome = "GRANTED"
	ReserveExhausted ReserveOutcome = "EXHAUSTED"
)

// BookingResult is the tagged outcome of a booking request.
type BookingResult struct {
	Status           BookingStatus `json:"status"`
	BookingID        string        `json:"booking_id"`
	Reason           Reason        `json:"reason,omitempty"`
	WaitlistPosition int           `json:"waitlist_position,omitempty"`
}

// CancelStatus is the outcome of a cancellation attempt.
type CancelStatus string

const (
	CancelDone   CancelStatus = "CANCELLED"
	CancelDenied CancelStatus = "DENIED"
)

// CancelResult summarises a cancellation. Promoted is the booking that took
// over the freed seat, if any.
type CancelResult struct {
	Status   CancelStatus `json:"status"`
	Reason   Reason       `json:"reason,omitempty"`
	Promoted string       `json:"promoted_booking_id,omitempty"`
}

// Availability is a read-only snapshot of a session's seat and queue state.
type Availability struct {
	SessionID       string                `json:"session_id"`
	Status          SessionStatus         `json:"status"`
	Capacity        int                   `json:"capacity"`
	Confirmed       int                   `json:"confirmed"`
	Available       int                   `json:"available"`
	WaitlistLength  int                   `json:"waitlist_length"`
	BookingDeadline time.Time             `json:"booking_deadline"`
	Bookable        bool                  `json:"bookable"`
	ByStatus        map[BookingStatus]int `json:"by_status"`
}

// BookingStats summarises one user's booking history.
type BookingStats struct {
	UserID   string                `json:"user_id"`
	Total    int                   `json:"total"`
	ByStatus map[BookingStatus]int `json:"by_status"`
	// Upcoming counts CONFIRMED bookings on SCHEDULED sessions.
	Upcoming int `json:"upcoming"`
	// Completed counts CONFIRMED bookings on COMPLETED sessions.
	Completed         int     `json:"completed"`
	LateCancellations int     `json:"late_cancellations"`
	CompletionRate    float64 `json:"completion_rate"`
}

// CreateSessionRequest is the payload the class-management collaborator uses
// to seed a session.
type CreateSessionRequest struct {
	ID            string    `json:"id"`
	ClassID       string    `json:"class_id" validate:"required"`
	InstitutionID string    `json:"institution_id"`
	StartTime     time.Time `json:"start_time" validate:"required"`
	EndTime       time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Capacity      int       `json:"capacity" validate:"gte=1,lte=100000"`
}

// BookRequest is the payload for requesting a seat.
type BookRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CancelRequest is the payload for cancelling a booking.
type CancelRequest struct {
	Actor    string `json:"actor"`
	Override bool   `json:"override"`
}

// CancelSessionRequest is the payload for cancelling a whole session.
type CancelSessionRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

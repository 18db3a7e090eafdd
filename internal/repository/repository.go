// Package repository implements the transactional store behind the booking engine.
//
// A transaction is scoped to exactly one session and optionally one user.
// Implementations serialise transactions that share a session or a user and
// let everything else run in parallel. Inside a transaction the session's
// confirmed-count changes only through Reserve and Release, and every write
// (booking rows, waitlist entries, audit entries, counters) commits together
// or not at all.
package repository

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// Scope names the entities a transaction locks. SessionID is required.
// Locks are taken user first, then session.
type Scope struct {
	SessionID string
	UserID    string
}

func (s Scope) keys() []string {
	if s.UserID == "" {
		return []string{"session:" + s.SessionID}
	}
	return []string{"user:" + s.UserID, "session:" + s.SessionID}
}

// Tx is the mutation surface available inside a transaction. All session-level
// operations act on the scoped session.
type Tx interface {
	// Session returns the scoped session as currently seen by the transaction.
	Session(ctx context.Context) (model.Session, error)
	// SetSessionStatus changes the scoped session's status.
	SetSessionStatus(ctx context.Context, status model.SessionStatus) error

	// Reserve takes a seat if confirmed-count < capacity.
	Reserve(ctx context.Context) (model.ReserveOutcome, error)
	// Release gives a seat back. Releasing at zero is an invariant violation.
	Release(ctx context.Context) error
	// SetConfirmedCount overwrites the counter. Used only by reconciliation.
	SetConfirmedCount(ctx context.Context, n int) error

	// ActiveBookings returns the user's CONFIRMED and WAITLISTED bookings
	// on SCHEDULED sessions, across all sessions. It sees only committed
	// state of other transactions.
	ActiveBookings(ctx context.Context, userID string) ([]model.HeldBooking, error)
	// Booking loads one booking of the scoped session.
	Booking(ctx context.Context, id string) (model.Booking, error)
	// SessionBookings lists every booking of the scoped session.
	SessionBookings(ctx context.Context) ([]model.Booking, error)
	// InsertBooking stores a newly decided booking.
	InsertBooking(ctx context.Context, b model.Booking) error
	// TransitionBooking moves a booking from one status to another. It fails
	// with an invariant violation when the stored status is not from.
	TransitionBooking(ctx context.Context, id string, from, to model.BookingStatus, reason model.Reason, at time.Time) error

	// WaitlistEntries returns the scoped session's queue in storage order.
	WaitlistEntries(ctx context.Context) ([]model.WaitlistEntry, error)
	AddWaitlistEntry(ctx context.Context, e model.WaitlistEntry) error
	RemoveWaitlistEntry(ctx context.Context, bookingID string) error

	// AppendAudit assigns the next per-session sequence number and stores the entry.
	AppendAudit(ctx context.Context, e model.AuditLogEntry) (model.AuditLogEntry, error)
}

// Store is the engine's view of durable state.
type Store interface {
	// InTx runs fn inside a transaction covering scope. If fn returns an
	// error, panics, or ctx expires before commit, nothing fn did persists.
	InTx(ctx context.Context, scope Scope, fn func(Tx) error) error

	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)

	GetBooking(ctx context.Context, id string) (model.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error)
	ListSessionBookings(ctx context.Context, sessionID string) ([]model.Booking, error)

	ListWaitlist(ctx context.Context, sessionID string) ([]model.WaitlistEntry, error)
	ListAuditLog(ctx context.Context, sessionID string) ([]model.AuditLogEntry, error)

	Close() error
}

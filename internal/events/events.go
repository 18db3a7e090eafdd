// Package events publishes booking outcomes for external delivery.
//
// The engine publishes only after a transaction commits. Delivery to
// students (email, SMS, push) is someone else's job; this package only
// hands the event to a transport.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// Type names a booking outcome.
type Type string

const (
	BookingConfirmed  Type = "booking.confirmed"
	BookingWaitlisted Type = "booking.waitlisted"
	BookingRejected   Type = "booking.rejected"
	BookingCancelled  Type = "booking.cancelled"
	BookingPromoted   Type = "booking.promoted"
)

// Event is one booking outcome.
type Event struct {
	Type             Type                `json:"type"`
	BookingID        string              `json:"booking_id"`
	UserID           string              `json:"user_id"`
	SessionID        string              `json:"session_id"`
	Status           model.BookingStatus `json:"status"`
	Reason           model.Reason        `json:"reason,omitempty"`
	WaitlistPosition int                 `json:"waitlist_position,omitempty"`
	At               time.Time           `json:"at"`
}

// Publisher hands events to a transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends e.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

package model

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
	// BookingRequested is the engine's in-flight intent. It is never stored on
	// a booking and only appears as the prior status of a creation audit entry.
	BookingRequested  BookingStatus = "REQUESTED"
	BookingConfirmed  BookingStatus = "CONFIRMED"
	BookingWaitlisted BookingStatus = "WAITLISTED"
	BookingRejected   BookingStatus = "REJECTED"
	BookingCancelled  BookingStatus = "CANCELLED"
)

// Terminal reports whether no transition leaves the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingRejected || s == BookingCancelled
}

// Active reports whether the booking still holds a claim on its session.
func (s BookingStatus) Active() bool {
	return s == BookingConfirmed || s == BookingWaitlisted
}

var transitions = map[BookingStatus][]BookingStatus{
	BookingRequested:  {BookingConfirmed, BookingWaitlisted, BookingRejected},
	BookingConfirmed:  {BookingCancelled},
	BookingWaitlisted: {BookingConfirmed, BookingCancelled},
}

// CanTransition reports whether from -> to is an edge of the booking state machine.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason is a machine-readable code attached to outcomes and audit entries.
type Reason string

const (
	// Rule evaluator denials.
	ReasonDuplicate            Reason = "DUPLICATE"
	ReasonTimeConflict         Reason = "TIME_CONFLICT"
	ReasonLimitExceeded        Reason = "LIMIT_EXCEEDED"
	ReasonOutsideBookingWindow Reason = "OUTSIDE_BOOKING_WINDOW"
	ReasonSessionNotBookable   Reason = "SESSION_NOT_BOOKABLE"
	ReasonLateCancellation     Reason = "LATE_CANCELLATION"

	// Transition reasons.
	ReasonSeatGranted       Reason = "SEAT_GRANTED"
	ReasonCapacityExhausted Reason = "CAPACITY_EXHAUSTED"
	ReasonPromoted          Reason = "PROMOTED"
	ReasonUserCancelled     Reason = "USER_CANCELLED"
	ReasonWaitlistWithdrawn Reason = "WAITLIST_WITHDRAWN"
	ReasonSessionCancelled  Reason = "SESSION_CANCELLED"
	ReasonAdminOverride     Reason = "ADMIN_OVERRIDE"
)

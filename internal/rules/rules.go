// Package rules decides booking and cancellation eligibility.
//
// Evaluation is a pure function of the session, the user's held bookings,
// the current instant and the policy. Callers gather those facts inside their
// transaction and pass them in; nothing here performs I/O.
package rules

import (
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// CancellationMode controls what happens to a late cancellation.
type CancellationMode string

const (
	// CancellationHard denies cancellations past the deadline.
	CancellationHard CancellationMode = "hard"
	// CancellationSoft lets late cancellations through and flags them.
	CancellationSoft CancellationMode = "soft"
)

// Policy holds the configurable booking rules.
type Policy struct {
	MinLeadTime          time.Duration    `yaml:"min_lead_time" validate:"gte=0"`
	CancellationDeadline time.Duration    `yaml:"cancellation_deadline" validate:"gte=0"`
	MaxActiveBookings    int              `yaml:"max_active_bookings" validate:"gte=1"`
	CancellationMode     CancellationMode `yaml:"cancellation_mode" validate:"oneof=hard soft"`
}

// DefaultPolicy mirrors the institution defaults: book at least two hours
// ahead, cancel at least four hours ahead.
func DefaultPolicy() Policy {
	return Policy{
		MinLeadTime:          2 * time.Hour,
		CancellationDeadline: 4 * time.Hour,
		MaxActiveBookings:    5,
		CancellationMode:     CancellationHard,
	}
}

// Validate checks the policy for values the evaluator cannot work with.
func (p Policy) Validate() error {
	if p.MinLeadTime < 0 {
		return fmt.Errorf("min_lead_time must not be negative")
	}
	if p.CancellationDeadline < 0 {
		return fmt.Errorf("cancellation_deadline must not be negative")
	}
	if p.MaxActiveBookings < 1 {
		return fmt.Errorf("max_active_bookings must be at least 1")
	}
	if p.CancellationMode != CancellationHard && p.CancellationMode != CancellationSoft {
		return fmt.Errorf("cancellation_mode must be %q or %q", CancellationHard, CancellationSoft)
	}
	return nil
}

// Decision is the outcome of a booking eligibility check.
type Decision struct {
	Eligible bool
	Reason   model.Reason
}

func eligible() Decision { return Decision{Eligible: true} }

func deny(r model.Reason) Decision { return Decision{Reason: r} }

// Candidate carries the facts needed to decide one (user, session) request.
// Held must not include the booking being decided.
type Candidate struct {
	UserID  string
	Session model.Session
	Held    []model.HeldBooking
	Now     time.Time
}

// CancelDecision is the outcome of a cancellation eligibility check.
type CancelDecision struct {
	Allowed bool
	Late    bool
	Reason  model.Reason
}

// Evaluator applies a Policy.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an Evaluator for the given policy.
func NewEvaluator(p Policy) *Evaluator {
	return &Evaluator{policy: p}
}

// Policy returns the policy in effect.
func (e *Evaluator) Policy() Policy { return e.policy }

// Evaluate checks, in order and stopping at the first failure: the booking
// window, duplicates, time conflicts with confirmed bookings, and the per-user
// limit on active bookings.
func (e *Evaluator) Evaluate(c Candidate) Decision {
	s := c.Session
	if s.Status != model.SessionScheduled {
		return deny(model.ReasonSessionNotBookable)
	}
	if !s.StartTime.After(c.Now.Add(e.policy.MinLeadTime)) {
		return deny(model.ReasonOutsideBookingWindow)
	}

	for _, h := range c.Held {
		if h.SessionID == s.ID && h.Status.Active() {
			return deny(model.ReasonDuplicate)
		}
	}

	for _, h := range c.Held {
		if h.Status == model.BookingConfirmed && s.Overlaps(h.StartTime, h.EndTime) {
			return deny(model.ReasonTimeConflict)
		}
	}

	active := 0
	for _, h := range c.Held {
		if h.Status.Active() {
			active++
		}
	}
	if active >= e.policy.MaxActiveBookings {
		return deny(model.ReasonLimitExceeded)
	}

	return eligible()
}

// EvaluateCancellation checks a CONFIRMED booking's cancellation against the
// deadline. override skips the hard-mode block but still reports lateness.
func (e *Evaluator) EvaluateCancellation(s model.Session, now time.Time, override bool) CancelDecision {
	deadline := s.StartTime.Add(-e.policy.CancellationDeadline)
	if now.Before(deadline) {
		return CancelDecision{Allowed: true}
	}
	d := CancelDecision{Late: true, Reason: model.ReasonLateCancellation}
	d.Allowed = override || e.policy.CancellationMode == CancellationSoft
	return d
}

// BookingDeadline is the last instant a direct booking for s is accepted.
func (e *Evaluator) BookingDeadline(s model.Session) time.Time {
	return s.StartTime.Add(-e.policy.MinLeadTime)
}

// Package service implements the booking engine.
//
// BookingEngine admits, waitlists or rejects booking requests and drives every
// later transition (cancellation, waitlist promotion). Each operation runs as
// one store transaction scoped to the session (and the user where rule
// evaluation depends on the user's other bookings): rule evaluation, seat
// reservation, booking write, waitlist change and audit append commit
// together or not at all.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/clock"
	"github.com/Shivanand-hulikatti/class-booking/internal/events"
	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/metrics"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
	"github.com/Shivanand-hulikatti/class-booking/internal/waitlist"
)

const tracerName = "github.com/Shivanand-hulikatti/class-booking/internal/service"

// Options configures a BookingEngine. Zero values fall back to defaults.
type Options struct {
	Policy           rules.Policy
	Clock            clock.Clock
	Publisher        events.Publisher
	Logger           *zerolog.Logger
	Audit            *audit.Log
	OperationTimeout time.Duration
	NewID            func() string
}

// BookingEngine orchestrates rule evaluation, seat reservation, the waitlist
// and the audit log.
type BookingEngine struct {
	store     repository.Store
	rules     *rules.Evaluator
	waitlist  *waitlist.Scheduler
	audit     *audit.Log
	clock     clock.Clock
	publisher events.Publisher
	logger    zerolog.Logger
	timeout   time.Duration
	newID     func() string
	tracer    trace.Tracer
}

// NewBookingEngine constructs a BookingEngine over store.
func NewBookingEngine(store repository.Store, opts Options) *BookingEngine {
	policy := opts.Policy
	if policy == (rules.Policy{}) {
		policy = rules.DefaultPolicy()
	}
	e := &BookingEngine{
		store:     store,
		rules:     rules.NewEvaluator(policy),
		waitlist:  waitlist.NewScheduler(),
		audit:     opts.Audit,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		timeout:   opts.OperationTimeout,
		newID:     opts.NewID,
		tracer:    otel.Tracer(tracerName),
	}
	if opts.Logger != nil {
		e.logger = *opts.Logger
	} else {
		e.logger = log.WithComponent("engine")
	}
	if e.audit == nil {
		e.audit = audit.NewLog()
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.newID == nil {
		e.newID = newBookingID
	}
	return e
}

// newBookingID returns a time-ordered UUIDv7, so ids created later sort later.
func newBookingID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Policy returns the policy in effect.
func (e *BookingEngine) Policy() rules.Policy { return e.rules.Policy() }

// RequestBooking decides a (user, session) request. A rule denial is not an
// error: it comes back as a REJECTED result and is audited like any other
// outcome. A full session yields WAITLISTED with the queue position.
func (e *BookingEngine) RequestBooking(ctx context.Context, userID, sessionID string) (model.BookingResult, error) {
	const op = "request_booking"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldSessionID, sessionID), attribute.String(log.FieldUserID, userID))
	defer finish()

	if userID == "" || sessionID == "" {
		return model.BookingResult{}, e.fail(ctx, op, fmt.Errorf("user id and session id are required: %w", model.ErrInvalidInput))
	}

	var (
		result  model.BookingResult
		booking model.Booking
	)
	batch := e.audit.Batch()
	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID, UserID: userID}, func(tx repository.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		held, err := tx.ActiveBookings(ctx, userID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		decision := e.rules.Evaluate(rules.Candidate{UserID: userID, Session: sess, Held: held, Now: now})

		booking = model.Booking{
			ID:          e.newID(),
			UserID:      userID,
			SessionID:   sessionID,
			RequestedAt: now,
			DecidedAt:   now,
			UpdatedAt:   now,
		}

		if !decision.Eligible {
			booking.Status = model.BookingRejected
			booking.Reason = decision.Reason
		} else {
			outcome, err := tx.Reserve(ctx)
			if err != nil {
				return err
			}
			switch outcome {
			case model.ReserveGranted:
				booking.Status = model.BookingConfirmed
				booking.Reason = model.ReasonSeatGranted
			case model.ReserveExhausted:
				booking.Status = model.BookingWaitlisted
				booking.Reason = model.ReasonCapacityExhausted
			default:
				return model.NewInvariantError("reserve_outcome", "unknown reserve outcome %q", outcome)
			}
		}

		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}
		if booking.Status == model.BookingWaitlisted {
			pos, err := e.waitlist.Enqueue(ctx, tx, model.WaitlistEntry{
				SessionID:  sessionID,
				BookingID:  booking.ID,
				UserID:     userID,
				EnqueuedAt: now,
			})
			if err != nil {
				return err
			}
			booking.WaitlistPosition = pos
		}
		if _, err := batch.Append(ctx, tx, audit.Transition{
			Booking: booking,
			From:    model.BookingRequested,
			To:      booking.Status,
			Reason:  booking.Reason,
			Actor:   userID,
			At:      now,
		}); err != nil {
			return err
		}

		result = model.BookingResult{
			Status:           booking.Status,
			BookingID:        booking.ID,
			WaitlistPosition: booking.WaitlistPosition,
		}
		if booking.Status == model.BookingRejected {
			result.Reason = booking.Reason
		}
		return nil
	})
	if err != nil {
		return model.BookingResult{}, e.fail(ctx, op, err)
	}
	batch.Flush()

	metrics.ObserveBooking(string(result.Status), string(booking.Reason))
	e.logger.Info().
		Str(log.FieldBookingID, booking.ID).
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldUserID, userID).
		Str(log.FieldNewState, string(booking.Status)).
		Str(log.FieldReason, string(booking.Reason)).
		Msg("booking decided")

	e.publish(ctx, outcomeEvent(booking))
	return result, nil
}

// CancelOptions adjusts a cancellation.
type CancelOptions struct {
	// Actor is recorded on the audit entry. Defaults to the booking's user.
	Actor string
	// Override lets an administrator cancel past the deadline in hard mode.
	Override bool
}

// CancelBooking cancels a booking on behalf of its user.
func (e *BookingEngine) CancelBooking(ctx context.Context, bookingID string) (model.CancelResult, error) {
	return e.CancelBookingWith(ctx, bookingID, CancelOptions{})
}

// CancelBookingWith cancels a CONFIRMED or WAITLISTED booking. Cancelling a
// CONFIRMED booking releases its seat and then promotes the next eligible
// waitlisted booking. A late cancellation under the hard policy is denied and
// leaves the booking untouched.
func (e *BookingEngine) CancelBookingWith(ctx context.Context, bookingID string, opts CancelOptions) (model.CancelResult, error) {
	const op = "cancel_booking"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldBookingID, bookingID))
	defer finish()

	existing, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return model.CancelResult{}, e.fail(ctx, op, err)
	}
	if existing.Status.Terminal() {
		return model.CancelResult{}, e.fail(ctx, op, fmt.Errorf("booking %s is %s: %w", bookingID, existing.Status, model.ErrInvalidState))
	}

	actor := opts.Actor
	if actor == "" {
		actor = existing.UserID
	}

	var (
		result    model.CancelResult
		cancelled model.Booking
		released  bool
	)
	batch := e.audit.Batch()
	err = e.store.InTx(ctx, repository.Scope{SessionID: existing.SessionID, UserID: existing.UserID}, func(tx repository.Tx) error {
		b, err := tx.Booking(ctx, bookingID)
		if err != nil {
			return err
		}
		now := e.clock.Now()

		switch b.Status {
		case model.BookingConfirmed:
			sess, err := tx.Session(ctx)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionScheduled {
				return fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, model.ErrInvalidState)
			}
			d := e.rules.EvaluateCancellation(sess, now, opts.Override)
			if !d.Allowed {
				result = model.CancelResult{Status: model.CancelDenied, Reason: d.Reason}
				return nil
			}
			reason := model.ReasonUserCancelled
			if d.Late {
				reason = model.ReasonLateCancellation
			} else if opts.Override {
				reason = model.ReasonAdminOverride
			}
			if err := tx.TransitionBooking(ctx, b.ID, model.BookingConfirmed, model.BookingCancelled, reason, now); err != nil {
				return err
			}
			if err := tx.Release(ctx); err != nil {
				return err
			}
			if _, err := batch.Append(ctx, tx, audit.Transition{
				Booking: b, From: model.BookingConfirmed, To: model.BookingCancelled,
				Reason: reason, Actor: actor, At: now,
			}); err != nil {
				return err
			}
			released = true
			b.Reason = reason
			result = model.CancelResult{Status: model.CancelDone}
			if d.Late {
				result.Reason = d.Reason
			}

		case model.BookingWaitlisted:
			if err := e.waitlist.Withdraw(ctx, tx, b.ID); err != nil {
				return err
			}
			if err := tx.TransitionBooking(ctx, b.ID, model.BookingWaitlisted, model.BookingCancelled, model.ReasonWaitlistWithdrawn, now); err != nil {
				return err
			}
			if _, err := batch.Append(ctx, tx, audit.Transition{
				Booking: b, From: model.BookingWaitlisted, To: model.BookingCancelled,
				Reason: model.ReasonWaitlistWithdrawn, Actor: actor, At: now,
			}); err != nil {
				return err
			}
			b.Reason = model.ReasonWaitlistWithdrawn
			result = model.CancelResult{Status: model.CancelDone}

		default:
			return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, model.ErrInvalidState)
		}

		b.Status = model.BookingCancelled
		b.UpdatedAt = now
		cancelled = b
		return nil
	})
	if err != nil {
		return model.CancelResult{}, e.fail(ctx, op, err)
	}
	batch.Flush()

	metrics.ObserveCancellation(string(result.Status), string(result.Reason))
	if result.Status == model.CancelDenied {
		e.logger.Info().
			Str(log.FieldBookingID, bookingID).
			Str(log.FieldReason, string(result.Reason)).
			Msg("cancellation denied")
		return result, nil
	}

	e.logger.Info().
		Str(log.FieldBookingID, bookingID).
		Str(log.FieldSessionID, cancelled.SessionID).
		Str(log.FieldActor, actor).
		Str(log.FieldReason, string(cancelled.Reason)).
		Msg("booking cancelled")
	e.publish(ctx, outcomeEvent(cancelled))

	if released {
		promoted, err := e.PromoteNext(ctx, cancelled.SessionID)
		if err != nil {
			// The cancellation is committed. PromoteNext is idempotent and
			// the seat stays open until it is re-run.
			e.logger.Error().Err(err).
				Str(log.FieldSessionID, cancelled.SessionID).
				Msg("promotion after cancellation failed")
		} else if promoted != nil {
			result.Promoted = promoted.ID
		}
	}
	return result, nil
}

// GetBooking returns a booking with its current waitlist position.
func (e *BookingEngine) GetBooking(ctx context.Context, bookingID string) (model.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	return e.withPosition(ctx, b)
}

// ListUserBookings returns a user's bookings, newest first.
func (e *BookingEngine) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	bookings, err := e.store.ListUserBookings(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		if bookings[i], err = e.withPosition(ctx, bookings[i]); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

// BookingStats summarises a user's bookings. CompletionRate is the share of
// all the user's bookings, in percent, that were held through a completed
// session.
func (e *BookingEngine) BookingStats(ctx context.Context, userID string) (model.BookingStats, error) {
	if userID == "" {
		return model.BookingStats{}, fmt.Errorf("user id is required: %w", model.ErrInvalidInput)
	}
	bookings, err := e.store.ListUserBookings(ctx, userID)
	if err != nil {
		return model.BookingStats{}, err
	}

	stats := model.BookingStats{
		UserID:   userID,
		Total:    len(bookings),
		ByStatus: make(map[model.BookingStatus]int),
	}
	sessions := make(map[string]model.Session)
	for _, b := range bookings {
		stats.ByStatus[b.Status]++
		if b.Reason == model.ReasonLateCancellation {
			stats.LateCancellations++
		}
		if b.Status != model.BookingConfirmed {
			continue
		}
		sess, ok := sessions[b.SessionID]
		if !ok {
			if sess, err = e.store.GetSession(ctx, b.SessionID); err != nil {
				return model.BookingStats{}, err
			}
			sessions[b.SessionID] = sess
		}
		switch sess.Status {
		case model.SessionScheduled:
			stats.Upcoming++
		case model.SessionCompleted:
			stats.Completed++
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats, nil
}

// ListAuditLog returns the session's audit entries in sequence order.
func (e *BookingEngine) ListAuditLog(ctx context.Context, sessionID string) ([]model.AuditLogEntry, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListAuditLog(ctx, sessionID)
}

func (e *BookingEngine) withPosition(ctx context.Context, b model.Booking) (model.Booking, error) {
	if b.Status != model.BookingWaitlisted {
		return b, nil
	}
	entries, err := e.store.ListWaitlist(ctx, b.SessionID)
	if err != nil {
		return model.Booking{}, err
	}
	if pos, ok := waitlist.Position(entries, b.ID); ok {
		b.WaitlistPosition = pos
	}
	return b, nil
}

// begin applies the operation timeout and opens a span. The returned func
// ends the span and records latency.
func (e *BookingEngine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func()) {
	start := time.Now()
	cancel := func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	ctx, span := e.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
	return ctx, func() {
		span.End()
		cancel()
		metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// fail classifies err, logs it at the right level, and marks the span.
func (e *BookingEngine) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if !errors.Is(err, model.ErrTimeout) {
			err = fmt.Errorf("%w: %w", model.ErrTimeout, err)
		}
	}
	class := classify(err)
	metrics.ObserveOperationError(op, class)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, class)

	var inv *model.InvariantError
	switch {
	case errors.As(err, &inv):
		metrics.ObserveInvariantViolation(inv.Rule)
		e.logger.Error().Err(err).
			Bool(log.FieldCritical, true).
			Str(log.FieldRule, inv.Rule).
			Str("operation", op).
			Msg("invariant violation, operation aborted")
	case class == "storage" || class == "timeout":
		e.logger.Warn().Err(err).Str("operation", op).Msg("operation failed")
	default:
		e.logger.Debug().Err(err).Str("operation", op).Msg("operation refused")
	}
	return err
}

func classify(err error) string {
	switch {
	case errors.Is(err, model.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrStorage):
		return "storage"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

// publish hands an event to the publisher after commit. Failures are logged
// and counted; they never undo the committed operation.
func (e *BookingEngine) publish(ctx context.Context, ev events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := e.publisher.Publish(pctx, ev); err != nil {
		metrics.EventPublishFailureTotal.Inc()
		e.logger.Warn().Err(err).
			Str(log.FieldBookingID, ev.BookingID).
			Str("event_type", string(ev.Type)).
			Msg("publish booking event failed")
	}
}

func outcomeEvent(b model.Booking) events.Event {
	var t events.Type
	switch b.Status {
	case model.BookingConfirmed:
		t = events.BookingConfirmed
	case model.BookingWaitlisted:
		t = events.BookingWaitlisted
	case model.BookingRejected:
		t = events.BookingRejected
	case model.BookingCancelled:
		t = events.BookingCancelled
	}
	return events.Event{
		Type:             t,
		BookingID:        b.ID,
		UserID:           b.UserID,
		SessionID:        b.SessionID,
		Status:           b.Status,
		Reason:           b.Reason,
		WaitlistPosition: b.WaitlistPosition,
		At:               b.UpdatedAt,
	}
}

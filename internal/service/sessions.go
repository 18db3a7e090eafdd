package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

// CreateSession stores a new SCHEDULED session. It is the seeding surface
// for the class-management side and does no booking work.
func (e *BookingEngine) CreateSession(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	if strings.TrimSpace(req.ClassID) == "" {
		return model.Session{}, fmt.Errorf("class id is required: %w", model.ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		return model.Session{}, fmt.Errorf("capacity must be positive: %w", model.ErrInvalidInput)
	}
	if req.Capacity > 100_000 {
		return model.Session{}, fmt.Errorf("capacity cannot exceed 100,000: %w", model.ErrInvalidInput)
	}
	if !req.EndTime.After(req.StartTime) {
		return model.Session{}, fmt.Errorf("end time must be after start time: %w", model.ErrInvalidInput)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	sess := model.Session{
		ID:            id,
		ClassID:       req.ClassID,
		InstitutionID: req.InstitutionID,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		Capacity:      req.Capacity,
		Status:        model.SessionScheduled,
		CreatedAt:     e.clock.Now(),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}

	e.logger.Info().
		Str(log.FieldSessionID, sess.ID).
		Str("class_id", sess.ClassID).
		Int("capacity", sess.Capacity).
		Time("start_time", sess.StartTime).
		Msg("session created")
	return sess, nil
}

// GetSession returns a session by id.
func (e *BookingEngine) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// ListSessions returns every session ordered by start time.
func (e *BookingEngine) ListSessions(ctx context.Context) ([]model.Session, error) {
	return e.store.ListSessions(ctx)
}

// GetAvailability reports seat and queue state for a session.
func (e *BookingEngine) GetAvailability(ctx context.Context, sessionID string) (model.Availability, error) {
	var av model.Availability
	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID}, func(tx repository.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		bookings, err := tx.SessionBookings(ctx)
		if err != nil {
			return err
		}
		n, err := e.waitlist.Len(ctx, tx)
		if err != nil {
			return err
		}

		byStatus := make(map[model.BookingStatus]int)
		for _, b := range bookings {
			byStatus[b.Status]++
		}
		deadline := e.rules.BookingDeadline(sess)
		av = model.Availability{
			SessionID:       sess.ID,
			Status:          sess.Status,
			Capacity:        sess.Capacity,
			Confirmed:       sess.ConfirmedCount,
			Available:       max(sess.Remaining(), 0),
			WaitlistLength:  n,
			BookingDeadline: deadline,
			Bookable:        sess.Status == model.SessionScheduled && e.clock.Now().Before(deadline),
			ByStatus:        byStatus,
		}
		return nil
	})
	if err != nil {
		return model.Availability{}, err
	}
	return av, nil
}

// CancelSession cancels a SCHEDULED session and every active booking in it.
// Confirmed seats are released and waitlist entries removed; nobody is
// promoted. It returns the number of bookings cancelled.
func (e *BookingEngine) CancelSession(ctx context.Context, sessionID, actor string) (int, error) {
	const op = "cancel_session"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldSessionID, sessionID))
	defer finish()

	var cancelled []model.Booking
	batch := e.audit.Batch()
	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID}, func(tx repository.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionScheduled {
			return fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, model.ErrInvalidState)
		}
		if err := tx.SetSessionStatus(ctx, model.SessionCancelled); err != nil {
			return err
		}

		bookings, err := tx.SessionBookings(ctx)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		for _, b := range bookings {
			switch b.Status {
			case model.BookingConfirmed:
				if err := tx.Release(ctx); err != nil {
					return err
				}
			case model.BookingWaitlisted:
				if err := e.waitlist.Withdraw(ctx, tx, b.ID); err != nil {
					return err
				}
			default:
				continue
			}
			if err := tx.TransitionBooking(ctx, b.ID, b.Status, model.BookingCancelled, model.ReasonSessionCancelled, now); err != nil {
				return err
			}
			if _, err := batch.Append(ctx, tx, audit.Transition{
				Booking: b, From: b.Status, To: model.BookingCancelled,
				Reason: model.ReasonSessionCancelled, Actor: actor, At: now,
			}); err != nil {
				return err
			}
			b.Status, b.Reason, b.UpdatedAt = model.BookingCancelled, model.ReasonSessionCancelled, now
			cancelled = append(cancelled, b)
		}

		after, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if after.ConfirmedCount != 0 {
			return model.NewInvariantError("confirmed_count", "session %s has %d seats held after cancelling every booking", sessionID, after.ConfirmedCount)
		}
		return nil
	})
	if err != nil {
		return 0, e.fail(ctx, op, err)
	}
	batch.Flush()

	e.logger.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldActor, actor).
		Int("bookings_cancelled", len(cancelled)).
		Msg("session cancelled")
	for _, b := range cancelled {
		e.publish(ctx, outcomeEvent(b))
	}
	return len(cancelled), nil
}

// CompleteSession marks a SCHEDULED session COMPLETED. Bookings keep their
// status.
func (e *BookingEngine) CompleteSession(ctx context.Context, sessionID string) error {
	const op = "complete_session"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldSessionID, sessionID))
	defer finish()

	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID}, func(tx repository.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionScheduled {
			return fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, model.ErrInvalidState)
		}
		return tx.SetSessionStatus(ctx, model.SessionCompleted)
	})
	if err != nil {
		return e.fail(ctx, op, err)
	}
	e.logger.Info().Str(log.FieldSessionID, sessionID).Msg("session completed")
	return nil
}

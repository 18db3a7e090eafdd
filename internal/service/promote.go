package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/events"
	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/metrics"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
	"github.com/Shivanand-hulikatti/class-booking/internal/rules"
)

type promoteStep int

const (
	stepPromoted promoteStep = iota
	stepSkipped
	stepStale
	stepNoSeat
)

// PromoteNext moves at most one waitlisted booking of the session into a
// seat. Heads that no longer pass the booking rules are cancelled with the
// failing reason and skipped. It returns nil when there was no free seat or
// no eligible entry. Safe to call repeatedly.
func (e *BookingEngine) PromoteNext(ctx context.Context, sessionID string) (*model.Booking, error) {
	const op = "promote_next"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldSessionID, sessionID))
	defer finish()

	for {
		var (
			head  model.WaitlistEntry
			found bool
			seat  bool
		)
		err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID}, func(tx repository.Tx) error {
			sess, err := tx.Session(ctx)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionScheduled || sess.IsFull() {
				return nil
			}
			seat = true
			head, found, err = e.waitlist.Peek(ctx, tx)
			return err
		})
		if err != nil {
			return nil, e.fail(ctx, op, err)
		}
		if !seat {
			metrics.ObservePromotion("no_seat")
			return nil, nil
		}
		if !found {
			metrics.ObservePromotion("empty")
			return nil, nil
		}

		step, b, err := e.promoteHead(ctx, sessionID, head)
		if err != nil {
			return nil, e.fail(ctx, op, err)
		}
		switch step {
		case stepPromoted:
			metrics.ObservePromotion("promoted")
			e.logger.Info().
				Str(log.FieldBookingID, b.ID).
				Str(log.FieldSessionID, sessionID).
				Str(log.FieldUserID, b.UserID).
				Msg("waitlisted booking promoted")
			ev := outcomeEvent(b)
			ev.Type = events.BookingPromoted
			e.publish(ctx, ev)
			return &b, nil
		case stepSkipped:
			metrics.ObservePromotion("skipped_ineligible")
			e.logger.Info().
				Str(log.FieldBookingID, b.ID).
				Str(log.FieldSessionID, sessionID).
				Str(log.FieldReason, string(b.Reason)).
				Msg("waitlisted booking no longer eligible, cancelled")
			e.publish(ctx, outcomeEvent(b))
		case stepStale:
			// The queue changed between peek and lock; look again.
		case stepNoSeat:
			metrics.ObservePromotion("no_seat")
			return nil, nil
		}
	}
}

// promoteHead re-validates head under the user and session locks and either
// promotes it, cancels it as ineligible, or reports that nothing was done.
func (e *BookingEngine) promoteHead(ctx context.Context, sessionID string, head model.WaitlistEntry) (promoteStep, model.Booking, error) {
	var (
		step promoteStep
		out  model.Booking
	)
	batch := e.audit.Batch()
	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID, UserID: head.UserID}, func(tx repository.Tx) error {
		cur, ok, err := e.waitlist.Peek(ctx, tx)
		if err != nil {
			return err
		}
		if !ok || cur.BookingID != head.BookingID {
			step = stepStale
			return nil
		}

		b, err := tx.Booking(ctx, head.BookingID)
		if err != nil {
			return err
		}
		if b.Status != model.BookingWaitlisted {
			return model.NewInvariantError("waitlist_entry", "queued booking %s is %s", b.ID, b.Status)
		}
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		held, err := tx.ActiveBookings(ctx, b.UserID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		d := e.rules.Evaluate(rules.Candidate{
			UserID:  b.UserID,
			Session: sess,
			Held:    excludeBooking(held, b.ID),
			Now:     now,
		})

		if !d.Eligible {
			if err := e.waitlist.Withdraw(ctx, tx, b.ID); err != nil {
				return err
			}
			if err := tx.TransitionBooking(ctx, b.ID, model.BookingWaitlisted, model.BookingCancelled, d.Reason, now); err != nil {
				return err
			}
			if _, err := batch.Append(ctx, tx, audit.Transition{
				Booking: b, From: model.BookingWaitlisted, To: model.BookingCancelled,
				Reason: d.Reason, At: now,
			}); err != nil {
				return err
			}
			b.Status, b.Reason, b.UpdatedAt = model.BookingCancelled, d.Reason, now
			step, out = stepSkipped, b
			return nil
		}

		outcome, err := tx.Reserve(ctx)
		if err != nil {
			return err
		}
		if outcome != model.ReserveGranted {
			step = stepNoSeat
			return nil
		}
		if _, _, err := e.waitlist.Dequeue(ctx, tx); err != nil {
			return err
		}
		if err := tx.TransitionBooking(ctx, b.ID, model.BookingWaitlisted, model.BookingConfirmed, model.ReasonPromoted, now); err != nil {
			return err
		}
		if _, err := batch.Append(ctx, tx, audit.Transition{
			Booking: b, From: model.BookingWaitlisted, To: model.BookingConfirmed,
			Reason: model.ReasonPromoted, At: now,
		}); err != nil {
			return err
		}
		b.Status, b.Reason, b.UpdatedAt = model.BookingConfirmed, model.ReasonPromoted, now
		step, out = stepPromoted, b
		return nil
	})
	if err != nil {
		return 0, model.Booking{}, err
	}
	batch.Flush()
	return step, out, nil
}

func excludeBooking(held []model.HeldBooking, bookingID string) []model.HeldBooking {
	out := make([]model.HeldBooking, 0, len(held))
	for _, h := range held {
		if h.BookingID != bookingID {
			out = append(out, h)
		}
	}
	return out
}

package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/class-booking/internal/audit"
	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/metrics"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

// Finding is one inconsistency found by Reconcile.
type Finding struct {
	Rule      string `json:"rule"`
	BookingID string `json:"booking_id,omitempty"`
	Detail    string `json:"detail"`
}

// ReconcileReport summarises a reconciliation run.
type ReconcileReport struct {
	SessionID         string    `json:"session_id"`
	ConfirmedCount    int       `json:"confirmed_count"`
	ConfirmedBookings int       `json:"confirmed_bookings"`
	WaitlistEntries   int       `json:"waitlist_entries"`
	Findings          []Finding `json:"findings,omitempty"`
	Repaired          bool      `json:"repaired"`
	Promoted          string    `json:"promoted_booking_id,omitempty"`
}

// Consistent reports whether the run found nothing to fix.
func (r ReconcileReport) Consistent() bool { return len(r.Findings) == 0 }

// Reconcile compares a session's counter, waitlist and audit log with its
// booking records. With repair set it resets the counter to the number of
// CONFIRMED bookings, drops queue entries whose booking is not WAITLISTED,
// re-queues WAITLISTED bookings missing from the queue, and re-runs
// promotion. Audit gaps are only reported; the log is never rewritten.
func (e *BookingEngine) Reconcile(ctx context.Context, sessionID string, repair bool) (ReconcileReport, error) {
	const op = "reconcile"
	ctx, finish := e.begin(ctx, op, attribute.String(log.FieldSessionID, sessionID), attribute.Bool("repair", repair))
	defer finish()

	report := ReconcileReport{SessionID: sessionID}
	err := e.store.InTx(ctx, repository.Scope{SessionID: sessionID}, func(tx repository.Tx) error {
		sess, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		bookings, err := tx.SessionBookings(ctx)
		if err != nil {
			return err
		}
		entries, err := tx.WaitlistEntries(ctx)
		if err != nil {
			return err
		}

		report.ConfirmedCount = sess.ConfirmedCount
		report.WaitlistEntries = len(entries)

		byID := make(map[string]model.Booking, len(bookings))
		for _, b := range bookings {
			byID[b.ID] = b
			if b.Status == model.BookingConfirmed {
				report.ConfirmedBookings++
			}
		}
		if report.ConfirmedBookings != sess.ConfirmedCount {
			report.Findings = append(report.Findings, Finding{
				Rule:   "confirmed_count",
				Detail: fmt.Sprintf("counter is %d, %d bookings are CONFIRMED", sess.ConfirmedCount, report.ConfirmedBookings),
			})
		}
		if report.ConfirmedBookings > sess.Capacity {
			report.Findings = append(report.Findings, Finding{
				Rule:   "capacity",
				Detail: fmt.Sprintf("%d CONFIRMED bookings exceed capacity %d", report.ConfirmedBookings, sess.Capacity),
			})
		}

		queued := make(map[string]bool, len(entries))
		var orphaned []string
		for _, en := range entries {
			queued[en.BookingID] = true
			if b, ok := byID[en.BookingID]; !ok || b.Status != model.BookingWaitlisted {
				orphaned = append(orphaned, en.BookingID)
				report.Findings = append(report.Findings, Finding{
					Rule:      "waitlist_entry",
					BookingID: en.BookingID,
					Detail:    "queue entry without a WAITLISTED booking",
				})
			}
		}
		var missing []model.Booking
		for _, b := range bookings {
			if b.Status == model.BookingWaitlisted && !queued[b.ID] {
				missing = append(missing, b)
				report.Findings = append(report.Findings, Finding{
					Rule:      "waitlist_entry",
					BookingID: b.ID,
					Detail:    "WAITLISTED booking missing from the queue",
				})
			}
		}

		if !repair || len(report.Findings) == 0 {
			return nil
		}
		if report.ConfirmedBookings != sess.ConfirmedCount && report.ConfirmedBookings <= sess.Capacity {
			if err := tx.SetConfirmedCount(ctx, report.ConfirmedBookings); err != nil {
				return err
			}
		}
		for _, id := range orphaned {
			if err := e.waitlist.Withdraw(ctx, tx, id); err != nil {
				return err
			}
		}
		for _, b := range missing {
			if _, err := e.waitlist.Enqueue(ctx, tx, model.WaitlistEntry{
				SessionID:  sessionID,
				BookingID:  b.ID,
				UserID:     b.UserID,
				EnqueuedAt: b.RequestedAt,
			}); err != nil {
				return err
			}
		}
		report.Repaired = true
		return nil
	})
	if err != nil {
		return ReconcileReport{}, e.fail(ctx, op, err)
	}

	entries, err := e.store.ListAuditLog(ctx, sessionID)
	if err != nil {
		return ReconcileReport{}, e.fail(ctx, op, err)
	}
	if err := audit.Verify(sessionID, entries); err != nil {
		report.Findings = append(report.Findings, Finding{Rule: "audit_sequence", Detail: err.Error()})
	}

	for _, f := range report.Findings {
		metrics.ObserveInvariantViolation(f.Rule)
		e.logger.Error().
			Bool(log.FieldCritical, true).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldRule, f.Rule).
			Str(log.FieldBookingID, f.BookingID).
			Bool("repaired", report.Repaired).
			Msg(f.Detail)
	}

	if repair {
		promoted, err := e.PromoteNext(ctx, sessionID)
		if err != nil {
			return report, err
		}
		if promoted != nil {
			report.Promoted = promoted.ID
		}
	}
	return report, nil
}

// Package audit records booking state transitions.
//
// Entries are appended through the caller's store transaction, so an entry
// exists if and only if the state change it describes was committed. A Batch
// also writes each entry as a structured "audit" log line once the
// transaction has committed.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/class-booking/internal/log"
	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

// Transition describes one booking state change to record.
type Transition struct {
	Booking model.Booking
	From    model.BookingStatus
	To      model.BookingStatus
	Reason  model.Reason
	Actor   string
	At      time.Time
}

// Log appends audit entries.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a Log writing audit lines to a dedicated "audit" component.
func NewLog() *Log {
	return &Log{
		logger: log.WithComponent("audit").With().Str("log_type", "audit").Logger(),
	}
}

// NewLogWithLogger creates a Log using the given logger.
func NewLogWithLogger(l zerolog.Logger) *Log {
	return &Log{logger: l}
}

// Append stores the transition in tx. A failure here must abort the whole
// transaction; the caller returns the error from its InTx callback.
// Append writes no log line. Use a Batch to log entries after commit.
func (l *Log) Append(ctx context.Context, tx repository.Tx, t Transition) (model.AuditLogEntry, error) {
	actor := t.Actor
	if actor == "" {
		actor = "system"
	}
	entry, err := tx.AppendAudit(ctx, model.AuditLogEntry{
		SessionID:   t.Booking.SessionID,
		BookingID:   t.Booking.ID,
		UserID:      t.Booking.UserID,
		PriorStatus: t.From,
		NewStatus:   t.To,
		Reason:      t.Reason,
		Actor:       actor,
		Timestamp:   t.At,
	})
	if err != nil {
		return model.AuditLogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// Batch collects the entries appended in one transaction.
type Batch struct {
	log     *Log
	entries []model.AuditLogEntry
}

// Batch starts an empty batch. Use one batch per transaction.
func (l *Log) Batch() *Batch {
	return &Batch{log: l}
}

// Append stores the transition in tx and remembers the entry for Flush.
func (b *Batch) Append(ctx context.Context, tx repository.Tx, t Transition) (model.AuditLogEntry, error) {
	entry, err := b.log.Append(ctx, tx, t)
	if err != nil {
		return model.AuditLogEntry{}, err
	}
	b.entries = append(b.entries, entry)
	return entry, nil
}

// Entries returns the entries appended so far.
func (b *Batch) Entries() []model.AuditLogEntry { return b.entries }

// Flush writes one audit log line per entry and empties the batch. Call it
// only after the transaction committed.
func (b *Batch) Flush() {
	for _, e := range b.entries {
		b.log.emit(e)
	}
	b.entries = nil
}

func (l *Log) emit(entry model.AuditLogEntry) {
	l.logger.Info().
		Str(log.FieldSessionID, entry.SessionID).
		Int64(log.FieldSeq, entry.Seq).
		Str(log.FieldBookingID, entry.BookingID).
		Str(log.FieldUserID, entry.UserID).
		Str(log.FieldOldState, string(entry.PriorStatus)).
		Str(log.FieldNewState, string(entry.NewStatus)).
		Str(log.FieldReason, string(entry.Reason)).
		Str(log.FieldActor, entry.Actor).
		Msg("audit event")
}

// Verify checks that entries form a contiguous 1..n sequence for one session.
func Verify(sessionID string, entries []model.AuditLogEntry) error {
	for i, e := range entries {
		if e.SessionID != sessionID {
			return model.NewInvariantError("audit_sequence", "entry %d belongs to session %s, not %s", e.Seq, e.SessionID, sessionID)
		}
		if want := int64(i) + 1; e.Seq != want {
			return model.NewInvariantError("audit_sequence", "session %s: expected seq %d, found %d", sessionID, want, e.Seq)
		}
	}
	return nil
}

// Replay folds entries into the last recorded status per booking.
func Replay(entries []model.AuditLogEntry) map[string]model.BookingStatus {
	out := make(map[string]model.BookingStatus)
	for _, e := range entries {
		out[e.BookingID] = e.NewStatus
	}
	return out
}

// Package waitlist orders a session's waiting bookings.
//
// Entries are FIFO by enqueue time with the booking id as tie-break, so two
// bookings queued in the same instant always come out in the same order.
// Positions are never stored: they are recomputed from the current queue on
// every read.
package waitlist

import (
	"context"
	"fmt"
	"sort"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

// Sort orders entries in place by (EnqueuedAt, BookingID).
func Sort(entries []model.WaitlistEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
}

func less(a, b model.WaitlistEntry) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.BookingID < b.BookingID
}

// Position returns the 1-based position of bookingID among entries.
func Position(entries []model.WaitlistEntry, bookingID string) (int, bool) {
	sorted := make([]model.WaitlistEntry, len(entries))
	copy(sorted, entries)
	Sort(sorted)
	for i, e := range sorted {
		if e.BookingID == bookingID {
			return i + 1, true
		}
	}
	return 0, false
}

// Scheduler mutates a session's queue inside a store transaction.
type Scheduler struct{}

// NewScheduler creates a Scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// Enqueue adds e and returns its position in the resulting queue.
func (s *Scheduler) Enqueue(ctx context.Context, tx repository.Tx, e model.WaitlistEntry) (int, error) {
	if err := tx.AddWaitlistEntry(ctx, e); err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", e.BookingID, err)
	}
	entries, err := tx.WaitlistEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", e.BookingID, err)
	}
	pos, ok := Position(entries, e.BookingID)
	if !ok {
		return 0, model.NewInvariantError("waitlist_entry", "booking %s missing right after enqueue", e.BookingID)
	}
	return pos, nil
}

// Peek returns the head of the queue without removing it.
func (s *Scheduler) Peek(ctx context.Context, tx repository.Tx) (model.WaitlistEntry, bool, error) {
	entries, err := tx.WaitlistEntries(ctx)
	if err != nil {
		return model.WaitlistEntry{}, false, fmt.Errorf("peek waitlist: %w", err)
	}
	if len(entries) == 0 {
		return model.WaitlistEntry{}, false, nil
	}
	Sort(entries)
	return entries[0], true, nil
}

// Dequeue removes and returns the head of the queue.
func (s *Scheduler) Dequeue(ctx context.Context, tx repository.Tx) (model.WaitlistEntry, bool, error) {
	head, ok, err := s.Peek(ctx, tx)
	if err != nil || !ok {
		return head, ok, err
	}
	if err := tx.RemoveWaitlistEntry(ctx, head.BookingID); err != nil {
		return model.WaitlistEntry{}, false, fmt.Errorf("dequeue %s: %w", head.BookingID, err)
	}
	return head, true, nil
}

// Withdraw removes a specific booking from the queue.
func (s *Scheduler) Withdraw(ctx context.Context, tx repository.Tx, bookingID string) error {
	if err := tx.RemoveWaitlistEntry(ctx, bookingID); err != nil {
		return fmt.Errorf("withdraw %s: %w", bookingID, err)
	}
	return nil
}

// Len returns the number of queued entries.
func (s *Scheduler) Len(ctx context.Context, tx repository.Tx) (int, error) {
	entries, err := tx.WaitlistEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingRequested, BookingConfirmed, true},
		{BookingRequested, BookingWaitlisted, true},
		{BookingRequested, BookingRejected, true},
		{BookingConfirmed, BookingCancelled, true},
		{BookingWaitlisted, BookingConfirmed, true},
		{BookingWaitlisted, BookingCancelled, true},
		{BookingConfirmed, BookingConfirmed, false},
		{BookingConfirmed, BookingWaitlisted, false},
		{BookingRejected, BookingConfirmed, false},
		{BookingCancelled, BookingConfirmed, false},
		{BookingCancelled, BookingCancelled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalAndActive(t *testing.T) {
	assert.True(t, BookingRejected.Terminal())
	assert.True(t, BookingCancelled.Terminal())
	assert.False(t, BookingConfirmed.Terminal())
	assert.True(t, BookingConfirmed.Active())
	assert.True(t, BookingWaitlisted.Active())
	assert.False(t, BookingRejected.Active())
}

func TestSessionOverlaps(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	s := Session{StartTime: base, EndTime: base.Add(time.Hour)}

	assert.True(t, s.Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.True(t, s.Overlaps(base.Add(-time.Hour), base.Add(2*time.Hour)))
	assert.False(t, s.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)), "adjacent sessions do not overlap")
	assert.False(t, s.Overlaps(base.Add(-time.Hour), base))
}

func TestErrorMatching(t *testing.T) {
	inv := fmt.Errorf("release: %w", NewInvariantError("confirmed_count", "would go negative for %s", "s1"))
	assert.True(t, errors.Is(inv, ErrInvariantViolation))
	assert.True(t, IsInvariantViolation(inv))

	cause := errors.New("connection reset")
	st := fmt.Errorf("commit: %w", &StorageError{Op: "commit", Err: cause})
	assert.True(t, errors.Is(st, ErrStorage))
	assert.True(t, errors.Is(st, cause))
	assert.False(t, errors.Is(st, ErrInvariantViolation))
}

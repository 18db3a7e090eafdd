package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/repository"
)

var at = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *repository.MemoryStore {
	t.Helper()
	st := repository.NewMemoryStore()
	require.NoError(t, st.CreateSession(context.Background(), model.Session{
		ID: "s1", ClassID: "yoga", Capacity: 2, Status: model.SessionScheduled,
		StartTime: at.Add(48 * time.Hour), EndTime: at.Add(49 * time.Hour),
	}))
	return st
}

func TestAppendAssignsContiguousSeqAndLogsAfterFlush(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	var buf bytes.Buffer
	l := NewLogWithLogger(zerolog.New(&buf))
	batch := l.Batch()

	b := model.Booking{ID: "b1", UserID: "u1", SessionID: "s1"}
	err := st.InTx(ctx, repository.Scope{SessionID: "s1"}, func(tx repository.Tx) error {
		e1, err := batch.Append(ctx, tx, Transition{Booking: b, From: model.BookingRequested, To: model.BookingConfirmed, Reason: model.ReasonSeatGranted, At: at})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e1.Seq)
		assert.Equal(t, "system", e1.Actor)

		e2, err := batch.Append(ctx, tx, Transition{Booking: b, From: model.BookingConfirmed, To: model.BookingCancelled, Reason: model.ReasonUserCancelled, Actor: "u1", At: at})
		require.NoError(t, err)
		assert.Equal(t, int64(2), e2.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "nothing is logged before the caller flushes")
	require.Len(t, batch.Entries(), 2)
	batch.Flush()
	assert.Empty(t, batch.Entries())

	entries, err := st.ListAuditLog(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, Verify("s1", entries))
	assert.Equal(t, map[string]model.BookingStatus{"b1": model.BookingCancelled}, Replay(entries))
	assert.Contains(t, buf.String(), `"new_state":"CANCELLED"`)
}

func TestRolledBackAppendLeavesNoGap(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	l := NewLogWithLogger(zerolog.Nop())
	b := model.Booking{ID: "b1", UserID: "u1", SessionID: "s1"}

	boom := errors.New("boom")
	err := st.InTx(ctx, repository.Scope{SessionID: "s1"}, func(tx repository.Tx) error {
		_, err := l.Append(ctx, tx, Transition{Booking: b, From: model.BookingRequested, To: model.BookingConfirmed, At: at})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = st.InTx(ctx, repository.Scope{SessionID: "s1"}, func(tx repository.Tx) error {
		e, err := l.Append(ctx, tx, Transition{Booking: b, From: model.BookingRequested, To: model.BookingRejected, At: at})
		assert.Equal(t, int64(1), e.Seq)
		return err
	})
	require.NoError(t, err)

	entries, err := st.ListAuditLog(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, Verify("s1", entries))
}

func TestRolledBackBatchIsNeverLogged(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	var buf bytes.Buffer
	batch := NewLogWithLogger(zerolog.New(&buf)).Batch()
	b := model.Booking{ID: "b1", UserID: "u1", SessionID: "s1"}

	boom := errors.New("boom")
	err := st.InTx(ctx, repository.Scope{SessionID: "s1"}, func(tx repository.Tx) error {
		if _, err := batch.Append(ctx, tx, Transition{Booking: b, From: model.BookingRequested, To: model.BookingConfirmed, At: at}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, buf.String())
}

func TestVerifyDetectsGaps(t *testing.T) {
	entries := []model.AuditLogEntry{
		{SessionID: "s1", Seq: 1},
		{SessionID: "s1", Seq: 3},
	}
	err := Verify("s1", entries)
	require.Error(t, err)
	assert.True(t, model.IsInvariantViolation(err))

	err = Verify("s2", entries[:1])
	assert.True(t, model.IsInvariantViolation(err))

	assert.NoError(t, Verify("s1", nil))
}

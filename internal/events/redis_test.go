package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// setupMiniRedis creates a publisher backed by an in-process Redis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisPublisher) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := newRedisPublisher(client, RedisConfig{Stream: "test:events"}, zerolog.Nop())
	t.Cleanup(func() { _ = p.Close() })
	return mr, p
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	mr, p := setupMiniRedis(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, p.Publish(ctx, Event{
		Type:             BookingWaitlisted,
		BookingID:        "b1",
		UserID:           "u1",
		SessionID:        "s1",
		Status:           model.BookingWaitlisted,
		Reason:           model.ReasonCapacityExhausted,
		WaitlistPosition: 3,
		At:               at,
	}))
	require.NoError(t, p.Publish(ctx, Event{Type: BookingPromoted, BookingID: "b1", Status: model.BookingConfirmed, At: at}))

	entries, err := mr.Stream("test:events")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	fields := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		fields[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "booking.waitlisted", fields["type"])
	assert.Equal(t, "b1", fields["booking_id"])
	assert.Equal(t, "3", fields["position"])
	assert.Equal(t, "CAPACITY_EXHAUSTED", fields["reason"])
}

func TestRedisPublisherFailsWhenServerDown(t *testing.T) {
	mr, p := setupMiniRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, p.Publish(ctx, Event{Type: BookingConfirmed}))
}

func TestNewRedisPublisherPings(t *testing.T) {
	mr := miniredis.RunT(t)
	p, err := NewRedisPublisher(context.Background(), RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, DefaultStream, p.stream)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Type: BookingConfirmed, BookingID: "a"}))
	require.NoError(t, r.Publish(ctx, Event{Type: BookingRejected, BookingID: "b"}))

	assert.Len(t, r.Events(), 2)
	require.Len(t, r.OfType(BookingRejected), 1)
	assert.Equal(t, "b", r.OfType(BookingRejected)[0].BookingID)
	assert.NoError(t, Nop{}.Publish(ctx, Event{}))
}

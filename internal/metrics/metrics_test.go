package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBookingIncrementsLabelledCounter(t *testing.T) {
	before := testutil.ToFloat64(BookingOutcomeTotal.WithLabelValues("REJECTED", "DUPLICATE"))
	ObserveBooking("REJECTED", "DUPLICATE")
	after := testutil.ToFloat64(BookingOutcomeTotal.WithLabelValues("REJECTED", "DUPLICATE"))
	assert.Equal(t, before+1, after)
}

func TestObservePromotionAndInvariant(t *testing.T) {
	before := testutil.ToFloat64(PromotionTotal.WithLabelValues("promoted"))
	ObservePromotion("promoted")
	assert.Equal(t, before+1, testutil.ToFloat64(PromotionTotal.WithLabelValues("promoted")))

	before = testutil.ToFloat64(InvariantViolationTotal.WithLabelValues("confirmed_count"))
	ObserveInvariantViolation("confirmed_count")
	assert.Equal(t, before+1, testutil.ToFloat64(InvariantViolationTotal.WithLabelValues("confirmed_count")))
}

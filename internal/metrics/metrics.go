// Package metrics provides Prometheus metrics for the booking engine.
//
// Labels carry outcome and reason codes only. Session, booking and user ids
// never appear as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingOutcomeTotal counts booking requests by outcome and reason.
	BookingOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classbooking_booking_outcome_total",
		Help: "Total number of booking requests, by outcome status and reason.",
	}, []string{"status", "reason"})

	// CancellationTotal counts cancellation attempts by result and reason.
	CancellationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classbooking_cancellation_total",
		Help: "Total number of cancellation attempts, by result and reason.",
	}, []string{"result", "reason"})

	// PromotionTotal counts waitlist promotion attempts by result
	// (promoted, skipped_ineligible, no_seat, empty).
	PromotionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classbooking_promotion_total",
		Help: "Total number of waitlist promotion steps, by result.",
	}, []string{"result"})

	// InvariantViolationTotal counts internal consistency failures.
	InvariantViolationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classbooking_invariant_violation_total",
		Help: "Total number of invariant violations, by rule.",
	}, []string{"rule"})

	// OperationErrorTotal counts failed engine operations by error class.
	OperationErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classbooking_operation_error_total",
		Help: "Total number of failed engine operations, by operation and error class.",
	}, []string{"operation", "class"})

	// EventPublishFailureTotal counts outcome events that could not be published.
	EventPublishFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classbooking_event_publish_failure_total",
		Help: "Total number of booking outcome events that failed to publish.",
	})

	// OperationDuration observes engine operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classbooking_operation_duration_seconds",
		Help:    "Latency of booking engine operations.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})
)

// ObserveBooking records one booking outcome.
func ObserveBooking(status, reason string) {
	BookingOutcomeTotal.WithLabelValues(status, reason).Inc()
}

// ObserveCancellation records one cancellation attempt.
func ObserveCancellation(result, reason string) {
	CancellationTotal.WithLabelValues(result, reason).Inc()
}

// ObservePromotion records one promotion step.
func ObservePromotion(result string) {
	PromotionTotal.WithLabelValues(result).Inc()
}

// ObserveInvariantViolation records a violated invariant.
func ObserveInvariantViolation(rule string) {
	InvariantViolationTotal.WithLabelValues(rule).Inc()
}

// ObserveOperationError records a failed operation.
func ObserveOperationError(operation, class string) {
	OperationErrorTotal.WithLabelValues(operation, class).Inc()
}

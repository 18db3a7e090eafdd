package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"

	// Identity fields
	FieldSessionID = "session_id"
	FieldBookingID = "booking_id"
	FieldUserID    = "user_id"
	FieldActor     = "actor"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
	FieldSeq      = "seq"

	// Fault fields
	FieldCritical = "critical"
	FieldRule     = "rule"
)

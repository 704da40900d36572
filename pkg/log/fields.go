package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService    = "service"
	FieldInstanceID = "instance_id"

	// Relay
	FieldRoomID       = "room_id"
	FieldRoomInstance = "room_instance"
	FieldClientID     = "client_id"
	FieldState        = "state"
	FieldFromState    = "from_state"
	FieldAttempt      = "attempt"
	FieldSubscribers  = "subscribers"
	FieldReason       = "reason"
	FieldOwner        = "owner"
	FieldChannel      = "channel"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"
)

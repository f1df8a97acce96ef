package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldConnID    = "conn_id"
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"
	FieldChannel   = "channel"

	// Service
	FieldService = "service"
)

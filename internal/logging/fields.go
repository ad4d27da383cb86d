package logging

import "log/slog"

// Common field names for consistent logging across the service.
const (
	FieldService      = "service"
	FieldEventID      = "event_id"
	FieldEventType    = "event_type"
	FieldSenderID     = "sender_id"
	FieldGroupID      = "group_id"
	FieldPartition    = "partition"
	FieldMessageID    = "message_id"
	FieldIP           = "ip"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldCollaborator = "collaborator"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// EventID returns a slog attribute for the webhook event idempotency key.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for the event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// SenderID returns a slog attribute for the sending user.
func SenderID(id string) slog.Attr {
	return slog.String(FieldSenderID, id)
}

// Partition returns a slog attribute for a yearMonth partition key.
func Partition(key string) slog.Attr {
	return slog.String(FieldPartition, key)
}

// IP returns a slog attribute for a client address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Err returns a slog attribute for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for elapsed milliseconds.
func Duration(ms float64) slog.Attr {
	return slog.Float64(FieldDuration, ms)
}

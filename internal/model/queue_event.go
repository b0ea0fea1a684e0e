// internal/model/queue_event.go
package model

import "time"

// EventType identifies which handler processes a queue event. Kept as a
// closed set of constants so a typo cannot create an unroutable event type.
type EventType string

const (
	EventAIMessageSent       EventType = "ai_message_sent"
	EventLeadMessageReceived EventType = "lead_message_received"
	EventFollowUpSend        EventType = "follow_up_send"
	EventFollowUpExhausted   EventType = "follow_up_exhausted"
	EventLeadOptedOut        EventType = "lead_opted_out"
	EventDailyLimitReached   EventType = "daily_limit_reached"
)

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventCancelled  EventStatus = "cancelled"
)

// Payload is the opaque key/value body of a queue event, stored as JSONB.
// Values round-trip through encoding/json, so numbers come back as float64.
type Payload map[string]any

type QueueEvent struct {
	ID           string      `db:"id" json:"id"`
	TenantID     int         `db:"tenant_id" json:"tenant_id"`
	EventType    EventType   `db:"event_type" json:"event_type"`
	Payload      Payload     `db:"payload" json:"payload"`
	Priority     int         `db:"priority" json:"priority"` // lower = more urgent
	Status       EventStatus `db:"status" json:"status"`
	ScheduledAt  time.Time   `db:"scheduled_at" json:"scheduled_at"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	RetryCount   int         `db:"retry_count" json:"retry_count"`
	MaxRetries   int         `db:"max_retries" json:"max_retries"`
	ErrorMessage string      `db:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// LeadID reads the lead_id key out of the payload. JSON numbers decode as
// float64, so both int and float forms are accepted.
func (e *QueueEvent) LeadID() (int, bool) {
	return payloadInt(e.Payload, "lead_id")
}

// Step reads the follow-up step number out of the payload.
func (e *QueueEvent) Step() (int, bool) {
	return payloadInt(e.Payload, "step")
}

func payloadInt(p Payload, key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// internal/model/followup.go
package model

import "time"

// SendingSchedule maps a weekday name (domingo..sabado, Portuguese, accented
// aliases accepted) to either an "HH:MM-HH:MM" window or "closed".
type SendingSchedule map[string]string

// FollowupConfig is the per-tenant follow-up policy. Written by the admin
// surface, read-only inside the scheduling engine.
type FollowupConfig struct {
	ID              int             `db:"id" json:"id"`
	TenantID        int             `db:"tenant_id" json:"tenant_id"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	MaxAttempts     int             `db:"max_attempts" json:"max_attempts"`
	Intervals       []int           `db:"intervals" json:"intervals"` // minutes per step
	SendingSchedule SendingSchedule `db:"sending_schedule" json:"sending_schedule"`
	DailySendLimit  int             `db:"daily_send_limit" json:"daily_send_limit"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

type TrackingStatus string

const (
	TrackingWaiting    TrackingStatus = "waiting"
	TrackingInProgress TrackingStatus = "in_progress"
	TrackingResponded  TrackingStatus = "responded"
	TrackingExhausted  TrackingStatus = "exhausted"
	TrackingCancelled  TrackingStatus = "cancelled"
)

// FollowupTracking holds the follow-up cycle state for one lead. At most one
// row exists per lead; a new cycle reuses the row, bumping cycle_count.
type FollowupTracking struct {
	ID                int            `db:"id" json:"id"`
	LeadID            int            `db:"lead_id" json:"lead_id"`
	TenantID          int            `db:"tenant_id" json:"tenant_id"`
	Status            TrackingStatus `db:"status" json:"status"`
	CurrentStep       int            `db:"current_step" json:"current_step"`
	NextSendAt        *time.Time     `db:"next_send_at" json:"next_send_at,omitempty"`
	LastAIMessageAt   *time.Time     `db:"last_ai_message_at" json:"last_ai_message_at,omitempty"`
	LastLeadMessageAt *time.Time     `db:"last_lead_message_at" json:"last_lead_message_at,omitempty"`
	CycleCount        int            `db:"cycle_count" json:"cycle_count"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

type LogStatus string

const (
	LogSent      LogStatus = "sent"
	LogFailed    LogStatus = "failed"
	LogCancelled LogStatus = "cancelled"
)

// FollowupLog is the append-only record of one attempted send. Written once,
// never updated.
type FollowupLog struct {
	ID           string    `db:"id" json:"id"`
	TrackingID   int       `db:"tracking_id" json:"tracking_id"`
	LeadID       int       `db:"lead_id" json:"lead_id"`
	TenantID     int       `db:"tenant_id" json:"tenant_id"`
	Step         int       `db:"step" json:"step"`
	Status       LogStatus `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// QuotaStatus is the answer to "may this tenant still send today".
type QuotaStatus struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	SentSoFar int  `json:"sent_so_far"`
}

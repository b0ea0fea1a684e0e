package repository

import (
    "database/sql"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"

    "github.com/leadflow/leadflow-backend/internal/model"
)

type FollowupRepositoryInterface interface {
    // Config (read-only here, written by the admin surface)
    GetConfig(tenantID int) (*model.FollowupConfig, error)

    // Tracking
    GetTrackingByLeadID(leadID int) (*model.FollowupTracking, error)
    StartCycle(leadID, tenantID int, at time.Time) (*model.FollowupTracking, error)
    SetTrackingStatus(trackingID int, status model.TrackingStatus) error
    ScheduleNextStep(trackingID, currentStep int, nextSendAt time.Time) error
    MarkResponded(leadID int, at time.Time) error
    MarkExhausted(leadID int) error
    CancelTracking(leadID int) error

    // Logs (append-only)
    InsertLog(l *model.FollowupLog) error
}

type FollowupRepository struct {
    DB *sql.DB
}

// ====================== Config ======================

// GetConfig fetches a tenant's follow-up policy. Returns nil when the tenant
// has none configured.
func (r *FollowupRepository) GetConfig(tenantID int) (*model.FollowupConfig, error) {
    query := `
        SELECT id, tenant_id, is_active, max_attempts, intervals, sending_schedule, daily_send_limit, created_at, updated_at
        FROM followup_configs
        WHERE tenant_id = $1
    `
    var c model.FollowupConfig
    var intervals, schedule []byte
    err := r.DB.QueryRow(query, tenantID).Scan(
        &c.ID, &c.TenantID, &c.IsActive, &c.MaxAttempts,
        &intervals, &schedule, &c.DailySendLimit,
        &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    if err := json.Unmarshal(intervals, &c.Intervals); err != nil {
        return nil, fmt.Errorf("failed to unmarshal intervals for tenant %d: %w", tenantID, err)
    }
    if err := json.Unmarshal(schedule, &c.SendingSchedule); err != nil {
        return nil, fmt.Errorf("failed to unmarshal sending schedule for tenant %d: %w", tenantID, err)
    }
    return &c, nil
}

// ====================== Tracking ======================

func (r *FollowupRepository) GetTrackingByLeadID(leadID int) (*model.FollowupTracking, error) {
    query := `
        SELECT id, lead_id, tenant_id, status, current_step, next_send_at, last_ai_message_at, last_lead_message_at, cycle_count, created_at, updated_at
        FROM followup_trackings
        WHERE lead_id = $1
    `
    var t model.FollowupTracking
    err := r.DB.QueryRow(query, leadID).Scan(
        &t.ID, &t.LeadID, &t.TenantID, &t.Status, &t.CurrentStep,
        &t.NextSendAt, &t.LastAIMessageAt, &t.LastLeadMessageAt,
        &t.CycleCount, &t.CreatedAt, &t.UpdatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return &t, nil
}

// StartCycle upserts the lead's tracking row into a fresh waiting cycle:
// step back to 0, cycle_count incremented, last_ai_message_at stamped. One
// row per lead, so the unique index on lead_id carries the upsert.
func (r *FollowupRepository) StartCycle(leadID, tenantID int, at time.Time) (*model.FollowupTracking, error) {
    query := `
        INSERT INTO followup_trackings (lead_id, tenant_id, status, current_step, cycle_count, last_ai_message_at, created_at, updated_at)
        VALUES ($1, $2, 'waiting', 0, 1, $3, NOW(), NOW())
        ON CONFLICT (lead_id) DO UPDATE
        SET status = 'waiting',
            current_step = 0,
            next_send_at = NULL,
            cycle_count = followup_trackings.cycle_count + 1,
            last_ai_message_at = EXCLUDED.last_ai_message_at,
            updated_at = NOW()
        RETURNING id, lead_id, tenant_id, status, current_step, next_send_at, last_ai_message_at, last_lead_message_at, cycle_count, created_at, updated_at
    `
    var t model.FollowupTracking
    err := r.DB.QueryRow(query, leadID, tenantID, at).Scan(
        &t.ID, &t.LeadID, &t.TenantID, &t.Status, &t.CurrentStep,
        &t.NextSendAt, &t.LastAIMessageAt, &t.LastLeadMessageAt,
        &t.CycleCount, &t.CreatedAt, &t.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &t, nil
}

func (r *FollowupRepository) SetTrackingStatus(trackingID int, status model.TrackingStatus) error {
    query := `UPDATE followup_trackings SET status = $1, updated_at = NOW() WHERE id = $2`
    _, err := r.DB.Exec(query, status, trackingID)
    return err
}

// ScheduleNextStep records a successful step and the instant of the next one.
func (r *FollowupRepository) ScheduleNextStep(trackingID, currentStep int, nextSendAt time.Time) error {
    query := `
        UPDATE followup_trackings
        SET status = 'waiting', current_step = $2, next_send_at = $3, updated_at = NOW()
        WHERE id = $1
    `
    _, err := r.DB.Exec(query, trackingID, currentStep, nextSendAt)
    return err
}

// MarkResponded closes the cycle because the lead wrote back. Succeeds even
// when no tracking row exists (the update just matches nothing).
func (r *FollowupRepository) MarkResponded(leadID int, at time.Time) error {
    query := `
        UPDATE followup_trackings
        SET status = 'responded', current_step = 0, next_send_at = NULL, last_lead_message_at = $2, updated_at = NOW()
        WHERE lead_id = $1
    `
    _, err := r.DB.Exec(query, leadID, at)
    return err
}

func (r *FollowupRepository) MarkExhausted(leadID int) error {
    query := `
        UPDATE followup_trackings
        SET status = 'exhausted', next_send_at = NULL, updated_at = NOW()
        WHERE lead_id = $1
    `
    _, err := r.DB.Exec(query, leadID)
    return err
}

func (r *FollowupRepository) CancelTracking(leadID int) error {
    query := `
        UPDATE followup_trackings
        SET status = 'cancelled', next_send_at = NULL, updated_at = NOW()
        WHERE lead_id = $1
    `
    _, err := r.DB.Exec(query, leadID)
    return err
}

// ====================== Logs ======================

func (r *FollowupRepository) InsertLog(l *model.FollowupLog) error {
    if l.ID == "" {
        l.ID = uuid.NewString()
    }
    l.CreatedAt = time.Now()
    query := `
        INSERT INTO followup_logs (id, tracking_id, lead_id, tenant_id, step, status, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
    _, err := r.DB.Exec(query, l.ID, l.TrackingID, l.LeadID, l.TenantID, l.Step, l.Status, l.ErrorMessage, l.CreatedAt)
    return err
}

var _ FollowupRepositoryInterface = (*FollowupRepository)(nil)

package repository

import (
    "database/sql"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"

    appErrors "github.com/leadflow/leadflow-backend/internal/errors"
    "github.com/leadflow/leadflow-backend/internal/model"
)

const (
    // DefaultPriority is used when Enqueue gets no explicit priority.
    // Lower numbers are claimed first.
    DefaultPriority = 5

    // DefaultMaxRetries bounds queue-level retries per event.
    DefaultMaxRetries = 3
)

// retryBackoff holds the delay before each retry attempt, indexed by attempt
// number (1-based). Attempts past the end reuse the last entry.
var retryBackoff = []time.Duration{
    1 * time.Minute,
    5 * time.Minute,
    30 * time.Minute,
}

type EventQueueRepositoryInterface interface {
    Enqueue(tenantID int, eventType model.EventType, payload model.Payload, scheduledAt *time.Time, priority *int) (*model.QueueEvent, error)
    Dequeue() (*model.QueueEvent, error)
    Complete(id string) error
    Fail(id string, errorMessage string) error
    CancelByLeadID(leadID int) (int, error)
    CancelByFilter(eventType model.EventType, payloadFilter model.Payload) (int, error)
    CountPending() (int, error)
}

type EventQueueRepository struct {
    DB *sql.DB
}

// Enqueue inserts a pending event. scheduledAt defaults to now, priority to
// DefaultPriority.
func (r *EventQueueRepository) Enqueue(tenantID int, eventType model.EventType, payload model.Payload, scheduledAt *time.Time, priority *int) (*model.QueueEvent, error) {
    if payload == nil {
        payload = model.Payload{}
    }
    body, err := json.Marshal(payload)
    if err != nil {
        return nil, fmt.Errorf("failed to marshal payload: %w", err)
    }

    ev := &model.QueueEvent{
        ID:          uuid.NewString(),
        TenantID:    tenantID,
        EventType:   eventType,
        Payload:     payload,
        Priority:    DefaultPriority,
        Status:      model.EventPending,
        ScheduledAt: time.Now(),
        MaxRetries:  DefaultMaxRetries,
    }
    if scheduledAt != nil {
        ev.ScheduledAt = *scheduledAt
    }
    if priority != nil {
        ev.Priority = *priority
    }

    query := `
        INSERT INTO queue_events (id, tenant_id, event_type, payload, priority, status, scheduled_at, retry_count, max_retries, created_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6, 0, $7, NOW())
        RETURNING created_at
    `
    err = r.DB.QueryRow(query, ev.ID, ev.TenantID, ev.EventType, body, ev.Priority, ev.ScheduledAt, ev.MaxRetries).Scan(&ev.CreatedAt)
    if err != nil {
        return nil, err
    }
    return ev, nil
}

// Dequeue claims the most urgent due pending event and moves it to
// processing. FOR UPDATE SKIP LOCKED keeps concurrent pollers from claiming
// the same row. Returns nil when nothing is due.
func (r *EventQueueRepository) Dequeue() (*model.QueueEvent, error) {
    query := `
        UPDATE queue_events
        SET status = 'processing', started_at = NOW()
        WHERE id = (
            SELECT id FROM queue_events
            WHERE status = 'pending' AND scheduled_at <= NOW()
            ORDER BY priority ASC, scheduled_at ASC
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING id, tenant_id, event_type, payload, priority, status, scheduled_at, started_at, completed_at, retry_count, max_retries, COALESCE(error_message, ''), created_at
    `
    var ev model.QueueEvent
    var body []byte
    err := r.DB.QueryRow(query).Scan(
        &ev.ID, &ev.TenantID, &ev.EventType, &body, &ev.Priority, &ev.Status,
        &ev.ScheduledAt, &ev.StartedAt, &ev.CompletedAt,
        &ev.RetryCount, &ev.MaxRetries, &ev.ErrorMessage, &ev.CreatedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    if err := json.Unmarshal(body, &ev.Payload); err != nil {
        return nil, fmt.Errorf("failed to unmarshal payload of event %s: %w", ev.ID, err)
    }
    return &ev, nil
}

// Complete marks a processing event as done. Completing an event in any
// other status is a bug in the caller, reported as a typed error.
func (r *EventQueueRepository) Complete(id string) error {
    query := `
        UPDATE queue_events
        SET status = 'completed', completed_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
    res, err := r.DB.Exec(query, id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        status, err := r.getStatus(id)
        if err != nil {
            return err
        }
        return appErrors.NewInvalidTransition(id, string(status), string(model.EventCompleted))
    }
    return nil
}

// Fail records a handler failure. While retries remain the event goes back to
// pending with a backoff delay; once retries are used up it becomes
// terminally failed.
func (r *EventQueueRepository) Fail(id string, errorMessage string) error {
    var retryCount, maxRetries int
    var status model.EventStatus
    query := `SELECT status, retry_count, max_retries FROM queue_events WHERE id = $1`
    err := r.DB.QueryRow(query, id).Scan(&status, &retryCount, &maxRetries)
    if err != nil {
        if err == sql.ErrNoRows {
            return appErrors.NewEventNotFound(id)
        }
        return err
    }
    if status != model.EventProcessing {
        return appErrors.NewInvalidTransition(id, string(status), string(model.EventFailed))
    }

    attempt := retryCount + 1
    if attempt < maxRetries {
        retryAt := time.Now().Add(BackoffForAttempt(attempt))
        query = `
            UPDATE queue_events
            SET status = 'pending', retry_count = $2, error_message = $3, scheduled_at = $4, started_at = NULL
            WHERE id = $1
        `
        _, err = r.DB.Exec(query, id, attempt, errorMessage, retryAt)
        return err
    }

    query = `
        UPDATE queue_events
        SET status = 'failed', retry_count = $2, error_message = $3, completed_at = NOW()
        WHERE id = $1
    `
    _, err = r.DB.Exec(query, id, attempt, errorMessage)
    return err
}

// CancelByLeadID cancels every pending event whose payload references the
// lead. Rows already processing, completed or failed are left alone.
func (r *EventQueueRepository) CancelByLeadID(leadID int) (int, error) {
    query := `
        UPDATE queue_events
        SET status = 'cancelled', completed_at = NOW()
        WHERE status = 'pending' AND (payload->>'lead_id')::bigint = $1
    `
    res, err := r.DB.Exec(query, leadID)
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    return int(n), err
}

// CancelByFilter cancels pending events of one type whose payload contains
// the given filter (JSONB containment).
func (r *EventQueueRepository) CancelByFilter(eventType model.EventType, payloadFilter model.Payload) (int, error) {
    filter, err := json.Marshal(payloadFilter)
    if err != nil {
        return 0, fmt.Errorf("failed to marshal payload filter: %w", err)
    }
    query := `
        UPDATE queue_events
        SET status = 'cancelled', completed_at = NOW()
        WHERE status = 'pending' AND event_type = $1 AND payload @> $2::jsonb
    `
    res, err := r.DB.Exec(query, eventType, filter)
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    return int(n), err
}

// CountPending reports the current queue depth (status endpoint).
func (r *EventQueueRepository) CountPending() (int, error) {
    var n int
    err := r.DB.QueryRow(`SELECT COUNT(*) FROM queue_events WHERE status = 'pending'`).Scan(&n)
    return n, err
}

func (r *EventQueueRepository) getStatus(id string) (model.EventStatus, error) {
    var status model.EventStatus
    err := r.DB.QueryRow(`SELECT status FROM queue_events WHERE id = $1`, id).Scan(&status)
    if err != nil {
        if err == sql.ErrNoRows {
            return "", appErrors.NewEventNotFound(id)
        }
        return "", err
    }
    return status, nil
}

// BackoffForAttempt returns the retry delay for a 1-based attempt number,
// clamped to the last entry of the backoff table.
func BackoffForAttempt(attempt int) time.Duration {
    if attempt < 1 {
        attempt = 1
    }
    if attempt > len(retryBackoff) {
        attempt = len(retryBackoff)
    }
    return retryBackoff[attempt-1]
}

var _ EventQueueRepositoryInterface = (*EventQueueRepository)(nil)

package repository

import (
    "database/sql"
    "time"
)

type MessageRepositoryInterface interface {
    HasLeadMessageAfter(leadID int, after time.Time) (bool, error)
    RecordMessage(leadID, tenantID int, direction, content string) error
}

// MessageRepository is the thin slice of the chat-history store the
// scheduling engine needs: the reply race check plus the inbound write the
// trigger endpoint performs.
type MessageRepository struct {
    DB *sql.DB
}

// HasLeadMessageAfter reports whether the lead sent anything after the given
// instant. Used to close the race between scheduling a follow-up and the
// lead replying in the meantime.
func (r *MessageRepository) HasLeadMessageAfter(leadID int, after time.Time) (bool, error) {
    query := `
        SELECT 1 FROM lead_messages
        WHERE lead_id = $1 AND direction = 'inbound' AND created_at > $2
        LIMIT 1
    `
    row := r.DB.QueryRow(query, leadID, after)
    var tmp int
    err := row.Scan(&tmp)
    if err != nil {
        if err == sql.ErrNoRows {
            return false, nil
        }
        return false, err
    }
    return true, nil
}

func (r *MessageRepository) RecordMessage(leadID, tenantID int, direction, content string) error {
    query := `
        INSERT INTO lead_messages (lead_id, tenant_id, direction, content, created_at)
        VALUES ($1, $2, $3, $4, NOW())
    `
    _, err := r.DB.Exec(query, leadID, tenantID, direction, content)
    return err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)

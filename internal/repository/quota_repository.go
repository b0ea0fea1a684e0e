package repository

import (
    "database/sql"

    "github.com/leadflow/leadflow-backend/internal/model"
)

type QuotaRepositoryInterface interface {
    CanSend(date string, tenantID, limit int) (*model.QuotaStatus, error)
    IncrementSent(date string, tenantID int) error
}

// QuotaRepository tracks per-tenant daily send counters. CanSend and
// IncrementSent are two separate statements, so concurrent sends for one
// tenant can race past the limit. Known gap, kept as-is until the intended
// semantics are settled.
type QuotaRepository struct {
    DB *sql.DB
}

// CanSend reports whether the tenant may still send on the given date
// (format 2006-01-02). A missing counter row counts as zero sent.
func (r *QuotaRepository) CanSend(date string, tenantID, limit int) (*model.QuotaStatus, error) {
    var sent int
    query := `SELECT sent_count FROM followup_daily_counters WHERE tenant_id = $1 AND send_date = $2`
    err := r.DB.QueryRow(query, tenantID, date).Scan(&sent)
    if err != nil && err != sql.ErrNoRows {
        return nil, err
    }

    remaining := limit - sent
    if remaining < 0 {
        remaining = 0
    }
    return &model.QuotaStatus{
        Allowed:   sent < limit,
        Remaining: remaining,
        Limit:     limit,
        SentSoFar: sent,
    }, nil
}

// IncrementSent bumps the tenant's counter for the date, creating it on
// first send.
func (r *QuotaRepository) IncrementSent(date string, tenantID int) error {
    query := `
        INSERT INTO followup_daily_counters (tenant_id, send_date, sent_count)
        VALUES ($1, $2, 1)
        ON CONFLICT (tenant_id, send_date) DO UPDATE
        SET sent_count = followup_daily_counters.sent_count + 1
    `
    _, err := r.DB.Exec(query, tenantID, date)
    return err
}

var _ QuotaRepositoryInterface = (*QuotaRepository)(nil)

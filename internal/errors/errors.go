// internal/errors/errors.go
package appErrors

import "fmt"

// ErrEventNotFound is a sentinel error
type ErrEventNotFound struct {
    EventID string
}

func (e *ErrEventNotFound) Error() string {
    return fmt.Sprintf("queue event %s not found", e.EventID)
}

// Helper constructor
func NewEventNotFound(id string) error {
    return &ErrEventNotFound{EventID: id}
}

// ErrInvalidTransition is returned when an event is completed or failed from
// a status other than processing.
type ErrInvalidTransition struct {
    EventID string
    From    string
    To      string
}

func (e *ErrInvalidTransition) Error() string {
    return fmt.Sprintf("queue event %s cannot move from %s to %s", e.EventID, e.From, e.To)
}

func NewInvalidTransition(id, from, to string) error {
    return &ErrInvalidTransition{EventID: id, From: from, To: to}
}

// ErrConfigNotFound is returned when a tenant has no follow-up config row.
type ErrConfigNotFound struct {
    TenantID int
}

func (e *ErrConfigNotFound) Error() string {
    return fmt.Sprintf("follow-up config for tenant %d not found", e.TenantID)
}

func NewConfigNotFound(tenantID int) error {
    return &ErrConfigNotFound{TenantID: tenantID}
}

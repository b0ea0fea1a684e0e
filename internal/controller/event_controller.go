// internal/controller/event_controller.go
package controller

import (
    "encoding/json"
    "log"
    "net/http"

    "github.com/leadflow/leadflow-backend/internal/model"
    "github.com/leadflow/leadflow-backend/internal/repository"
)

// EventController is the trigger surface: other subsystems (the WhatsApp
// webhook pipeline, the AI agent) enqueue follow-up events here instead of
// touching the queue tables directly.
type EventController struct {
    Events   repository.EventQueueRepositoryInterface
    Messages repository.MessageRepositoryInterface
}

// urgentPriority jumps reply/opt-out events ahead of scheduled sends so a
// live reply cancels a pending follow-up before it fires.
var urgentPriority = 1

func (c *EventController) AIMessageSent(w http.ResponseWriter, r *http.Request) {
    var body struct {
        LeadID   int `json:"lead_id"`
        TenantID int `json:"tenant_id"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    if body.LeadID == 0 || body.TenantID == 0 {
        http.Error(w, "lead_id and tenant_id are required", http.StatusBadRequest)
        return
    }

    ev, err := c.Events.Enqueue(body.TenantID, model.EventAIMessageSent, model.Payload{"lead_id": body.LeadID}, nil, nil)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    writeEvent(w, ev)
}

func (c *EventController) LeadMessageReceived(w http.ResponseWriter, r *http.Request) {
    var body struct {
        LeadID   int    `json:"lead_id"`
        TenantID int    `json:"tenant_id"`
        Content  string `json:"content"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    if body.LeadID == 0 || body.TenantID == 0 {
        http.Error(w, "lead_id and tenant_id are required", http.StatusBadRequest)
        return
    }

    // The inbound message lands in chat history first so the race check in
    // follow_up_send can see it even before the event is processed.
    if err := c.Messages.RecordMessage(body.LeadID, body.TenantID, "inbound", body.Content); err != nil {
        log.Println("⚠️ Failed to record inbound message for lead", body.LeadID, ":", err)
        http.Error(w, "failed to record message", http.StatusInternalServerError)
        return
    }

    ev, err := c.Events.Enqueue(body.TenantID, model.EventLeadMessageReceived, model.Payload{"lead_id": body.LeadID}, nil, &urgentPriority)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    writeEvent(w, ev)
}

func (c *EventController) LeadOptedOut(w http.ResponseWriter, r *http.Request) {
    var body struct {
        LeadID   int `json:"lead_id"`
        TenantID int `json:"tenant_id"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    if body.LeadID == 0 || body.TenantID == 0 {
        http.Error(w, "lead_id and tenant_id are required", http.StatusBadRequest)
        return
    }

    ev, err := c.Events.Enqueue(body.TenantID, model.EventLeadOptedOut, model.Payload{"lead_id": body.LeadID}, nil, &urgentPriority)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    writeEvent(w, ev)
}

// QueueStatus reports the current backlog.
func (c *EventController) QueueStatus(w http.ResponseWriter, r *http.Request) {
    pending, err := c.Events.CountPending()
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "pending_events": pending,
    })
}

func writeEvent(w http.ResponseWriter, ev *model.QueueEvent) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusAccepted)
    json.NewEncoder(w).Encode(ev)
}

// internal/service/followup_service.go
package service

import (
    "fmt"
    "log"
    "time"

    "github.com/leadflow/leadflow-backend/internal/agent"
    "github.com/leadflow/leadflow-backend/internal/model"
    "github.com/leadflow/leadflow-backend/internal/queue"
    "github.com/leadflow/leadflow-backend/internal/repository"
)

// AgentSender defines what the follow-up engine needs from the AI agent:
// compose and deliver one message. Failures are transient by contract; the
// queue retries them.
type AgentSender interface {
    Execute(req agent.SendRequest) (*agent.SendResult, error)
}

// FollowupService implements the follow-up state machine. Each Handle method
// is registered as a queue handler for one event type.
//
// Tracking is the single mutable resource per lead; every handler reloads it
// before acting instead of trusting what was true at enqueue time.
type FollowupService struct {
    Followups repository.FollowupRepositoryInterface
    Events    repository.EventQueueRepositoryInterface
    Quota     repository.QuotaRepositoryInterface
    Messages  repository.MessageRepositoryInterface
    Sender    AgentSender
    Notifier  queue.Notifier
}

// RegisterHandlers binds every follow-up event type on the processor.
func (s *FollowupService) RegisterHandlers(p *queue.Processor) {
    p.RegisterHandler(model.EventAIMessageSent, s.HandleAIMessageSent)
    p.RegisterHandler(model.EventLeadMessageReceived, s.HandleLeadMessageReceived)
    p.RegisterHandler(model.EventFollowUpSend, s.HandleFollowUpSend)
    p.RegisterHandler(model.EventFollowUpExhausted, s.HandleFollowUpExhausted)
    p.RegisterHandler(model.EventLeadOptedOut, s.HandleLeadOptedOut)
    p.RegisterHandler(model.EventDailyLimitReached, s.HandleDailyLimitReached)
}

// HandleAIMessageSent starts (or restarts) a follow-up cycle after the AI
// wrote to the lead: fresh tracking at step 0, any previously scheduled send
// for the lead cancelled, step 1 enqueued at the first valid slot.
func (s *FollowupService) HandleAIMessageSent(ev *model.QueueEvent) error {
    leadID, ok := ev.LeadID()
    if !ok {
        return fmt.Errorf("ai_message_sent payload missing lead_id")
    }

    cfg, err := s.Followups.GetConfig(ev.TenantID)
    if err != nil {
        return err
    }
    if cfg == nil || !cfg.IsActive {
        log.Println("Follow-up inactive for tenant", ev.TenantID, "- skipping lead", leadID)
        return nil
    }
    if len(cfg.Intervals) == 0 {
        log.Println("⚠️ Tenant", ev.TenantID, "has no follow-up intervals configured")
        return nil
    }

    now := time.Now()
    tracking, err := s.Followups.StartCycle(leadID, ev.TenantID, now)
    if err != nil {
        return err
    }

    // At most one scheduled send per lead.
    if _, err := s.Events.CancelByFilter(model.EventFollowUpSend, model.Payload{"lead_id": leadID}); err != nil {
        return err
    }

    sendAt := NextValidSlot(cfg.SendingSchedule, now.Add(stepDelay(cfg.Intervals, 0)))
    if err := s.enqueueSend(leadID, ev.TenantID, 1, sendAt); err != nil {
        return err
    }
    return s.Followups.ScheduleNextStep(tracking.ID, 0, sendAt)
}

// HandleLeadMessageReceived closes the cycle because the lead wrote back:
// everything pending for the lead is cancelled and tracking becomes
// responded. Succeeds even when no cycle exists.
func (s *FollowupService) HandleLeadMessageReceived(ev *model.QueueEvent) error {
    leadID, ok := ev.LeadID()
    if !ok {
        return fmt.Errorf("lead_message_received payload missing lead_id")
    }

    cancelled, err := s.Events.CancelByLeadID(leadID)
    if err != nil {
        return err
    }
    if cancelled > 0 {
        log.Println("Cancelled", cancelled, "pending event(s) for lead", leadID)
    }
    return s.Followups.MarkResponded(leadID, time.Now())
}

// HandleFollowUpSend executes one follow-up step. The world may have changed
// since the step was scheduled, so every precondition is re-checked against
// the store; stale schedules abort silently, business-hours and quota
// conditions reschedule the same step without consuming an attempt.
func (s *FollowupService) HandleFollowUpSend(ev *model.QueueEvent) error {
    leadID, ok := ev.LeadID()
    if !ok {
        return fmt.Errorf("follow_up_send payload missing lead_id")
    }
    step, ok := ev.Step()
    if !ok {
        return fmt.Errorf("follow_up_send payload missing step")
    }

    tracking, err := s.Followups.GetTrackingByLeadID(leadID)
    if err != nil {
        return err
    }
    if tracking == nil || tracking.Status != model.TrackingWaiting {
        log.Println("Stale follow-up for lead", leadID, "- tracking gone or not waiting")
        return nil
    }

    // The lead may have replied between scheduling and now.
    if tracking.LastAIMessageAt != nil {
        replied, err := s.Messages.HasLeadMessageAfter(leadID, *tracking.LastAIMessageAt)
        if err != nil {
            return err
        }
        if replied {
            log.Println("Lead", leadID, "replied since scheduling - closing cycle")
            return s.Followups.MarkResponded(leadID, time.Now())
        }
    }

    cfg, err := s.Followups.GetConfig(tracking.TenantID)
    if err != nil {
        return err
    }
    if cfg == nil || !cfg.IsActive {
        log.Println("Follow-up deactivated for tenant", tracking.TenantID, "- skipping lead", leadID)
        return nil
    }

    now := time.Now()
    if !IsWithinBusinessHours(cfg.SendingSchedule, now) {
        sendAt := NextValidSlot(cfg.SendingSchedule, now)
        log.Println("Outside business hours for tenant", tracking.TenantID, "- rescheduling step", step, "to", sendAt)
        if err := s.enqueueSend(leadID, tracking.TenantID, step, sendAt); err != nil {
            return err
        }
        return s.Followups.ScheduleNextStep(tracking.ID, tracking.CurrentStep, sendAt)
    }

    date := now.Format("2006-01-02")
    quota, err := s.Quota.CanSend(date, tracking.TenantID, cfg.DailySendLimit)
    if err != nil {
        return err
    }
    if !quota.Allowed {
        return s.deferForQuota(tracking, cfg, step, now, quota)
    }

    if err := s.Followups.SetTrackingStatus(tracking.ID, model.TrackingInProgress); err != nil {
        return err
    }

    result, err := s.Sender.Execute(agent.SendRequest{
        LeadID:   leadID,
        TenantID: tracking.TenantID,
        Context:  "follow_up",
        Metadata: agent.SendMetadata{StepNumber: step},
    })
    if err == nil && result != nil && !result.Success {
        err = fmt.Errorf("agent send failed: %s", result.Error)
    }
    if err != nil {
        // Restore waiting so the queue retry finds the step runnable again.
        s.logAttempt(tracking, step, model.LogFailed, err.Error())
        if restoreErr := s.Followups.SetTrackingStatus(tracking.ID, model.TrackingWaiting); restoreErr != nil {
            log.Println("⚠️ Failed to restore tracking for lead", leadID, ":", restoreErr)
        }
        return err
    }

    if err := s.Quota.IncrementSent(date, tracking.TenantID); err != nil {
        log.Println("⚠️ Failed to increment daily counter for tenant", tracking.TenantID, ":", err)
    }
    s.logAttempt(tracking, step, model.LogSent, "")

    if step < cfg.MaxAttempts {
        sendAt := NextValidSlot(cfg.SendingSchedule, now.Add(stepDelay(cfg.Intervals, step)))
        if err := s.enqueueSend(leadID, tracking.TenantID, step+1, sendAt); err != nil {
            return err
        }
        return s.Followups.ScheduleNextStep(tracking.ID, step, sendAt)
    }

    // All attempts used.
    if _, err := s.Events.Enqueue(tracking.TenantID, model.EventFollowUpExhausted, model.Payload{"lead_id": leadID}, nil, nil); err != nil {
        return err
    }
    return s.Followups.MarkExhausted(leadID)
}

// HandleFollowUpExhausted is the idempotent terminal marker for a cycle that
// used every attempt without a reply.
func (s *FollowupService) HandleFollowUpExhausted(ev *model.QueueEvent) error {
    leadID, ok := ev.LeadID()
    if !ok {
        return fmt.Errorf("follow_up_exhausted payload missing lead_id")
    }
    if err := s.Followups.MarkExhausted(leadID); err != nil {
        return err
    }
    if err := s.Notifier.Publish("follow_up_exhausted", map[string]any{
        "lead_id":   leadID,
        "tenant_id": ev.TenantID,
    }); err != nil {
        log.Println("⚠️ Failed to publish follow_up_exhausted notification:", err)
    }
    return nil
}

// HandleLeadOptedOut cancels everything scheduled for the lead and marks the
// cycle cancelled. Opting out of follow-ups is independent of disabling the
// AI on the contact; that flag is not touched here.
func (s *FollowupService) HandleLeadOptedOut(ev *model.QueueEvent) error {
    leadID, ok := ev.LeadID()
    if !ok {
        return fmt.Errorf("lead_opted_out payload missing lead_id")
    }
    if _, err := s.Events.CancelByLeadID(leadID); err != nil {
        return err
    }
    return s.Followups.CancelTracking(leadID)
}

// HandleDailyLimitReached is observability only; the quota deferral already
// happened when the event was emitted.
func (s *FollowupService) HandleDailyLimitReached(ev *model.QueueEvent) error {
    if err := s.Notifier.Publish("daily_limit_reached", ev.Payload); err != nil {
        log.Println("⚠️ Failed to publish daily_limit_reached notification:", err)
    }
    return nil
}

// deferForQuota pushes the same step to the next open slot on a later day
// and emits one daily_limit_reached event. No attempt is consumed.
func (s *FollowupService) deferForQuota(tracking *model.FollowupTracking, cfg *model.FollowupConfig, step int, now time.Time, quota *model.QuotaStatus) error {
    if _, err := s.Events.Enqueue(tracking.TenantID, model.EventDailyLimitReached, model.Payload{
        "tenant_id": tracking.TenantID,
        "date":      now.Format("2006-01-02"),
        "limit":     quota.Limit,
        "sent":      quota.SentSoFar,
    }, nil, nil); err != nil {
        return err
    }

    tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
    sendAt := NextValidSlot(cfg.SendingSchedule, tomorrow)
    log.Println("Daily limit reached for tenant", tracking.TenantID, "- step", step, "deferred to", sendAt)

    if err := s.enqueueSend(tracking.LeadID, tracking.TenantID, step, sendAt); err != nil {
        return err
    }
    return s.Followups.ScheduleNextStep(tracking.ID, tracking.CurrentStep, sendAt)
}

func (s *FollowupService) enqueueSend(leadID, tenantID, step int, at time.Time) error {
    _, err := s.Events.Enqueue(tenantID, model.EventFollowUpSend, model.Payload{
        "lead_id": leadID,
        "step":    step,
    }, &at, nil)
    return err
}

// logAttempt writes the append-only send record. Log failures must not mask
// the send outcome, so they are only logged.
func (s *FollowupService) logAttempt(tracking *model.FollowupTracking, step int, status model.LogStatus, errMsg string) {
    l := &model.FollowupLog{
        TrackingID:   tracking.ID,
        LeadID:       tracking.LeadID,
        TenantID:     tracking.TenantID,
        Step:         step,
        Status:       status,
        ErrorMessage: errMsg,
    }
    if err := s.Followups.InsertLog(l); err != nil {
        log.Println("⚠️ Failed to write follow-up log for lead", tracking.LeadID, ":", err)
    }
}

// stepDelay returns the wait before the step after completedStep (0 means
// the cycle is starting). Steps past the configured list reuse the last
// interval.
func stepDelay(intervals []int, completedStep int) time.Duration {
    if len(intervals) == 0 {
        return 0
    }
    idx := completedStep
    if idx >= len(intervals) {
        idx = len(intervals) - 1
    }
    return time.Duration(intervals[idx]) * time.Minute
}

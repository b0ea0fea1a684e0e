package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leadflow/leadflow-backend/internal/agent"
	"github.com/leadflow/leadflow-backend/internal/model"
	"github.com/leadflow/leadflow-backend/internal/service"
)

// ====================== Mocks ======================

type scheduledStep struct {
	trackingID int
	step       int
	at         time.Time
}

type mockFollowupRepo struct {
	config   *model.FollowupConfig
	tracking *model.FollowupTracking

	logs          []*model.FollowupLog
	statusChanges []model.TrackingStatus
	scheduled     []scheduledStep
	cycles        int
	responded     bool
	exhausted     bool
	cancelled     bool
}

func (m *mockFollowupRepo) GetConfig(tenantID int) (*model.FollowupConfig, error) {
	return m.config, nil
}

func (m *mockFollowupRepo) GetTrackingByLeadID(leadID int) (*model.FollowupTracking, error) {
	return m.tracking, nil
}

func (m *mockFollowupRepo) StartCycle(leadID, tenantID int, at time.Time) (*model.FollowupTracking, error) {
	m.cycles++
	if m.tracking == nil {
		m.tracking = &model.FollowupTracking{ID: 1, LeadID: leadID, TenantID: tenantID, CycleCount: 0}
	}
	m.tracking.Status = model.TrackingWaiting
	m.tracking.CurrentStep = 0
	m.tracking.NextSendAt = nil
	m.tracking.CycleCount++
	m.tracking.LastAIMessageAt = &at
	return m.tracking, nil
}

func (m *mockFollowupRepo) SetTrackingStatus(trackingID int, status model.TrackingStatus) error {
	m.statusChanges = append(m.statusChanges, status)
	if m.tracking != nil {
		m.tracking.Status = status
	}
	return nil
}

func (m *mockFollowupRepo) ScheduleNextStep(trackingID, currentStep int, nextSendAt time.Time) error {
	m.scheduled = append(m.scheduled, scheduledStep{trackingID, currentStep, nextSendAt})
	if m.tracking != nil {
		m.tracking.Status = model.TrackingWaiting
		m.tracking.CurrentStep = currentStep
		m.tracking.NextSendAt = &nextSendAt
	}
	return nil
}

func (m *mockFollowupRepo) MarkResponded(leadID int, at time.Time) error {
	m.responded = true
	if m.tracking != nil {
		m.tracking.Status = model.TrackingResponded
		m.tracking.CurrentStep = 0
		m.tracking.NextSendAt = nil
	}
	return nil
}

func (m *mockFollowupRepo) MarkExhausted(leadID int) error {
	m.exhausted = true
	if m.tracking != nil {
		m.tracking.Status = model.TrackingExhausted
		m.tracking.NextSendAt = nil
	}
	return nil
}

func (m *mockFollowupRepo) CancelTracking(leadID int) error {
	m.cancelled = true
	if m.tracking != nil {
		m.tracking.Status = model.TrackingCancelled
	}
	return nil
}

func (m *mockFollowupRepo) InsertLog(l *model.FollowupLog) error {
	m.logs = append(m.logs, l)
	return nil
}

type cancelFilterCall struct {
	eventType model.EventType
	filter    model.Payload
}

type mockEventQueue struct {
	enqueued        []*model.QueueEvent
	cancelledLeads  []int
	cancelledFilter []cancelFilterCall
	pendingForLead  int
}

func (m *mockEventQueue) Enqueue(tenantID int, eventType model.EventType, payload model.Payload, scheduledAt *time.Time, priority *int) (*model.QueueEvent, error) {
	ev := &model.QueueEvent{
		ID:          "mock-event",
		TenantID:    tenantID,
		EventType:   eventType,
		Payload:     payload,
		Status:      model.EventPending,
		ScheduledAt: time.Now(),
	}
	if scheduledAt != nil {
		ev.ScheduledAt = *scheduledAt
	}
	m.enqueued = append(m.enqueued, ev)
	return ev, nil
}

func (m *mockEventQueue) Dequeue() (*model.QueueEvent, error) { return nil, nil }
func (m *mockEventQueue) Complete(id string) error            { return nil }
func (m *mockEventQueue) Fail(id, msg string) error           { return nil }

func (m *mockEventQueue) CancelByLeadID(leadID int) (int, error) {
	m.cancelledLeads = append(m.cancelledLeads, leadID)
	return m.pendingForLead, nil
}

func (m *mockEventQueue) CancelByFilter(eventType model.EventType, filter model.Payload) (int, error) {
	m.cancelledFilter = append(m.cancelledFilter, cancelFilterCall{eventType, filter})
	return m.pendingForLead, nil
}

func (m *mockEventQueue) CountPending() (int, error) { return len(m.enqueued), nil }

type mockQuota struct {
	allowed    bool
	limit      int
	sent       int
	increments int
}

func (m *mockQuota) CanSend(date string, tenantID, limit int) (*model.QuotaStatus, error) {
	return &model.QuotaStatus{Allowed: m.allowed, Limit: m.limit, SentSoFar: m.sent, Remaining: m.limit - m.sent}, nil
}

func (m *mockQuota) IncrementSent(date string, tenantID int) error {
	m.increments++
	return nil
}

type mockMessages struct {
	leadReplied bool
}

func (m *mockMessages) HasLeadMessageAfter(leadID int, after time.Time) (bool, error) {
	return m.leadReplied, nil
}

func (m *mockMessages) RecordMessage(leadID, tenantID int, direction, content string) error {
	return nil
}

type mockSender struct {
	transportErr error
	sendFailure  string
	calls        []agent.SendRequest
}

func (m *mockSender) Execute(req agent.SendRequest) (*agent.SendResult, error) {
	m.calls = append(m.calls, req)
	if m.transportErr != nil {
		return nil, m.transportErr
	}
	if m.sendFailure != "" {
		return &agent.SendResult{Success: false, Error: m.sendFailure}, nil
	}
	return &agent.SendResult{Success: true}, nil
}

type mockNotifier struct {
	published []string
}

func (m *mockNotifier) Publish(topic string, payload any) error {
	m.published = append(m.published, topic)
	return nil
}

// ====================== Helpers ======================

func openSchedule() model.SendingSchedule {
	s := model.SendingSchedule{}
	for _, day := range []string{"domingo", "segunda", "terca", "quarta", "quinta", "sexta", "sabado"} {
		s[day] = "00:00-23:59"
	}
	return s
}

func activeConfig() *model.FollowupConfig {
	return &model.FollowupConfig{
		TenantID:        1,
		IsActive:        true,
		MaxAttempts:     3,
		Intervals:       []int{30, 1440, 4320},
		SendingSchedule: openSchedule(),
		DailySendLimit:  100,
	}
}

type fixture struct {
	svc       *service.FollowupService
	followups *mockFollowupRepo
	events    *mockEventQueue
	quota     *mockQuota
	messages  *mockMessages
	sender    *mockSender
	notifier  *mockNotifier
}

func newFixture(cfg *model.FollowupConfig, tracking *model.FollowupTracking) *fixture {
	f := &fixture{
		followups: &mockFollowupRepo{config: cfg, tracking: tracking},
		events:    &mockEventQueue{},
		quota:     &mockQuota{allowed: true, limit: 100},
		messages:  &mockMessages{},
		sender:    &mockSender{},
		notifier:  &mockNotifier{},
	}
	f.svc = &service.FollowupService{
		Followups: f.followups,
		Events:    f.events,
		Quota:     f.quota,
		Messages:  f.messages,
		Sender:    f.sender,
		Notifier:  f.notifier,
	}
	return f
}

func waitingTracking(step int) *model.FollowupTracking {
	lastAI := time.Now().Add(-time.Hour)
	return &model.FollowupTracking{
		ID:              1,
		LeadID:          42,
		TenantID:        1,
		Status:          model.TrackingWaiting,
		CurrentStep:     step,
		LastAIMessageAt: &lastAI,
		CycleCount:      1,
	}
}

func sendEvent(step int) *model.QueueEvent {
	return &model.QueueEvent{
		ID:        "ev-1",
		TenantID:  1,
		EventType: model.EventFollowUpSend,
		Payload:   model.Payload{"lead_id": 42, "step": step},
	}
}

func assertScheduledNear(t *testing.T, got, want time.Time) {
	t.Helper()
	diff := got.Sub(want)
	if diff < -2*time.Minute || diff > 2*time.Minute {
		t.Errorf("scheduled at %v, want ~%v", got, want)
	}
}

func findEnqueued(events []*model.QueueEvent, et model.EventType) *model.QueueEvent {
	for _, ev := range events {
		if ev.EventType == et {
			return ev
		}
	}
	return nil
}

// ====================== ai_message_sent ======================

func TestAIMessageSentSchedulesFirstStep(t *testing.T) {
	f := newFixture(activeConfig(), nil)

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventAIMessageSent, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleAIMessageSent(ev); err != nil {
		t.Fatal(err)
	}

	if f.followups.cycles != 1 {
		t.Errorf("expected 1 cycle started, got %d", f.followups.cycles)
	}

	// Prior pending sends for the lead must be cancelled first.
	if len(f.events.cancelledFilter) != 1 || f.events.cancelledFilter[0].eventType != model.EventFollowUpSend {
		t.Fatalf("expected one cancel of pending follow_up_send, got %+v", f.events.cancelledFilter)
	}

	send := findEnqueued(f.events.enqueued, model.EventFollowUpSend)
	if send == nil {
		t.Fatal("expected a follow_up_send event")
	}
	if step, _ := send.Step(); step != 1 {
		t.Errorf("expected step 1, got %d", step)
	}
	assertScheduledNear(t, send.ScheduledAt, time.Now().Add(30*time.Minute))

	if len(f.followups.scheduled) != 1 {
		t.Fatalf("expected next_send_at persisted once, got %d", len(f.followups.scheduled))
	}
	if f.followups.scheduled[0].step != 0 {
		t.Errorf("current_step should stay 0 before the first send, got %d", f.followups.scheduled[0].step)
	}
}

func TestAIMessageSentInactiveConfigIsNoop(t *testing.T) {
	cfg := activeConfig()
	cfg.IsActive = false
	f := newFixture(cfg, nil)

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventAIMessageSent, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleAIMessageSent(ev); err != nil {
		t.Fatal(err)
	}

	if len(f.events.enqueued) != 0 || f.followups.cycles != 0 {
		t.Error("inactive config must not start a cycle or enqueue anything")
	}
}

func TestAIMessageSentMissingConfigIsNoop(t *testing.T) {
	f := newFixture(nil, nil)

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventAIMessageSent, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleAIMessageSent(ev); err != nil {
		t.Fatal(err)
	}
	if len(f.events.enqueued) != 0 {
		t.Error("missing config must not enqueue anything")
	}
}

// ====================== lead_message_received ======================

func TestLeadMessageReceivedCancelsAndResponds(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(1))
	f.events.pendingForLead = 1

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventLeadMessageReceived, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleLeadMessageReceived(ev); err != nil {
		t.Fatal(err)
	}

	if len(f.events.cancelledLeads) != 1 || f.events.cancelledLeads[0] != 42 {
		t.Errorf("expected pending events cancelled for lead 42, got %v", f.events.cancelledLeads)
	}
	if !f.followups.responded {
		t.Error("tracking should be marked responded")
	}
	if f.followups.tracking.Status != model.TrackingResponded {
		t.Errorf("expected responded status, got %s", f.followups.tracking.Status)
	}
}

func TestLeadMessageReceivedWithoutTrackingSucceeds(t *testing.T) {
	f := newFixture(activeConfig(), nil)

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventLeadMessageReceived, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleLeadMessageReceived(ev); err != nil {
		t.Fatal(err)
	}
}

// ====================== follow_up_send ======================

func TestFollowUpSendHappyPathSchedulesNextStep(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(0))

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err != nil {
		t.Fatal(err)
	}

	if len(f.sender.calls) != 1 {
		t.Fatalf("expected one agent call, got %d", len(f.sender.calls))
	}
	call := f.sender.calls[0]
	if call.LeadID != 42 || call.Context != "follow_up" || call.Metadata.StepNumber != 1 {
		t.Errorf("unexpected agent request: %+v", call)
	}

	if f.quota.increments != 1 {
		t.Errorf("expected daily counter incremented once, got %d", f.quota.increments)
	}

	if len(f.followups.logs) != 1 || f.followups.logs[0].Status != model.LogSent {
		t.Fatalf("expected one sent log, got %+v", f.followups.logs)
	}

	next := findEnqueued(f.events.enqueued, model.EventFollowUpSend)
	if next == nil {
		t.Fatal("expected step 2 enqueued")
	}
	if step, _ := next.Step(); step != 2 {
		t.Errorf("expected step 2, got %d", step)
	}
	assertScheduledNear(t, next.ScheduledAt, time.Now().Add(1440*time.Minute))

	if f.followups.tracking.Status != model.TrackingWaiting {
		t.Errorf("tracking should be waiting again, got %s", f.followups.tracking.Status)
	}
	if f.followups.tracking.CurrentStep != 1 {
		t.Errorf("current_step should record the completed step, got %d", f.followups.tracking.CurrentStep)
	}
}

func TestFollowUpSendLastStepExhaustsCycle(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(2))

	if err := f.svc.HandleFollowUpSend(sendEvent(3)); err != nil {
		t.Fatal(err)
	}

	if next := findEnqueued(f.events.enqueued, model.EventFollowUpSend); next != nil {
		t.Error("no further follow_up_send may be enqueued after the last step")
	}
	if findEnqueued(f.events.enqueued, model.EventFollowUpExhausted) == nil {
		t.Error("expected follow_up_exhausted enqueued")
	}
	if !f.followups.exhausted {
		t.Error("tracking should be exhausted")
	}
}

func TestFollowUpSendStaleTrackingAborts(t *testing.T) {
	tracking := waitingTracking(0)
	tracking.Status = model.TrackingResponded
	f := newFixture(activeConfig(), tracking)

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.calls) != 0 || len(f.events.enqueued) != 0 {
		t.Error("stale schedule must abort without sending")
	}
}

func TestFollowUpSendMissingTrackingAborts(t *testing.T) {
	f := newFixture(activeConfig(), nil)

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.calls) != 0 {
		t.Error("missing tracking must abort without sending")
	}
}

func TestFollowUpSendDetectsLateReply(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(0))
	f.messages.leadReplied = true

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err != nil {
		t.Fatal(err)
	}

	if len(f.sender.calls) != 0 {
		t.Error("reply between scheduling and firing must suppress the send")
	}
	if !f.followups.responded {
		t.Error("tracking should be marked responded")
	}
}

func TestFollowUpSendDeactivatedConfigAborts(t *testing.T) {
	cfg := activeConfig()
	cfg.IsActive = false
	f := newFixture(cfg, waitingTracking(0))

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.calls) != 0 {
		t.Error("deactivated config must abort without sending")
	}
}

func TestFollowUpSendQuotaExhaustedDefersSameStep(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(1))
	f.quota.allowed = false
	f.quota.sent = 100
	f.quota.limit = 100

	if err := f.svc.HandleFollowUpSend(sendEvent(2)); err != nil {
		t.Fatal(err)
	}

	if len(f.sender.calls) != 0 {
		t.Error("no send may happen over quota")
	}
	if f.quota.increments != 0 {
		t.Error("no attempt may be consumed over quota")
	}

	limitEvents := 0
	for _, ev := range f.events.enqueued {
		if ev.EventType == model.EventDailyLimitReached {
			limitEvents++
		}
	}
	if limitEvents != 1 {
		t.Errorf("expected exactly one daily_limit_reached event, got %d", limitEvents)
	}

	deferred := findEnqueued(f.events.enqueued, model.EventFollowUpSend)
	if deferred == nil {
		t.Fatal("expected the same step re-enqueued")
	}
	if step, _ := deferred.Step(); step != 2 {
		t.Errorf("deferred step must stay 2, got %d", step)
	}

	now := time.Now()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	if deferred.ScheduledAt.Before(tomorrow) {
		t.Errorf("deferred send must land on a later day, got %v", deferred.ScheduledAt)
	}

	if f.followups.tracking.CurrentStep != 1 {
		t.Errorf("current_step must stay unchanged, got %d", f.followups.tracking.CurrentStep)
	}
}

func TestFollowUpSendSenderFailureRestoresWaiting(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(0))
	f.sender.transportErr = errors.New("connection refused")

	err := f.svc.HandleFollowUpSend(sendEvent(1))
	if err == nil {
		t.Fatal("transient sender failure must propagate for queue retry")
	}

	if len(f.followups.logs) != 1 || f.followups.logs[0].Status != model.LogFailed {
		t.Fatalf("expected one failed log, got %+v", f.followups.logs)
	}
	if f.followups.tracking.Status != model.TrackingWaiting {
		t.Errorf("tracking must be restored to waiting, got %s", f.followups.tracking.Status)
	}
	if f.quota.increments != 0 {
		t.Error("failed send must not consume quota")
	}
}

func TestFollowUpSendAgentRejectionIsFailure(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(0))
	f.sender.sendFailure = "model overloaded"

	if err := f.svc.HandleFollowUpSend(sendEvent(1)); err == nil {
		t.Fatal("agent-reported failure must propagate for queue retry")
	}
	if f.followups.tracking.Status != model.TrackingWaiting {
		t.Errorf("tracking must be restored to waiting, got %s", f.followups.tracking.Status)
	}
}

// ====================== terminal handlers ======================

func TestFollowUpExhaustedMarksAndNotifies(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(2))

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventFollowUpExhausted, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleFollowUpExhausted(ev); err != nil {
		t.Fatal(err)
	}

	if !f.followups.exhausted {
		t.Error("tracking should be exhausted")
	}
	if len(f.notifier.published) != 1 || f.notifier.published[0] != "follow_up_exhausted" {
		t.Errorf("expected follow_up_exhausted notification, got %v", f.notifier.published)
	}
}

func TestLeadOptedOutCancelsEverything(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(1))

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventLeadOptedOut, Payload: model.Payload{"lead_id": 42}}
	if err := f.svc.HandleLeadOptedOut(ev); err != nil {
		t.Fatal(err)
	}

	if len(f.events.cancelledLeads) != 1 {
		t.Error("pending events should be cancelled")
	}
	if !f.followups.cancelled {
		t.Error("tracking should be cancelled")
	}
}

func TestDailyLimitReachedOnlyNotifies(t *testing.T) {
	f := newFixture(activeConfig(), waitingTracking(1))

	ev := &model.QueueEvent{TenantID: 1, EventType: model.EventDailyLimitReached, Payload: model.Payload{"tenant_id": 1}}
	if err := f.svc.HandleDailyLimitReached(ev); err != nil {
		t.Fatal(err)
	}

	if len(f.notifier.published) != 1 || f.notifier.published[0] != "daily_limit_reached" {
		t.Errorf("expected daily_limit_reached notification, got %v", f.notifier.published)
	}
	if f.followups.cycles != 0 || len(f.followups.statusChanges) != 0 {
		t.Error("daily_limit_reached must not mutate tracking state")
	}
}

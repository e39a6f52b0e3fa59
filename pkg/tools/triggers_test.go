package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m0ahs/openpoke/pkg/trigger"
)

// fakeTriggerStore is an in-memory trigger.Store.
type fakeTriggerStore struct {
	mu       sync.Mutex
	triggers map[string]*trigger.Trigger
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{triggers: make(map[string]*trigger.Trigger)}
}

func (s *fakeTriggerStore) Create(ctx context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.triggers[t.ID] = &clone
	return nil
}

func (s *fakeTriggerStore) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (s *fakeTriggerStore) Update(ctx context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return fmt.Errorf("not found")
	}
	clone := *t
	s.triggers[t.ID] = &clone
	return nil
}

func (s *fakeTriggerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, id)
	return nil
}

func (s *fakeTriggerStore) ListActive(ctx context.Context) ([]*trigger.Trigger, error) {
	return nil, nil
}

func (s *fakeTriggerStore) ListByAgent(ctx context.Context, agentID string) ([]*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trigger.Trigger
	for _, t := range s.triggers {
		if t.AgentID == agentID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeTriggerStore) Close() error { return nil }

// fakeControl records scheduler interactions.
type fakeControl struct {
	mu        sync.Mutex
	wakes     int
	cancelled []string
	store     *fakeTriggerStore
}

func (c *fakeControl) Wake() {
	c.mu.Lock()
	c.wakes++
	c.mu.Unlock()
}

func (c *fakeControl) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	c.cancelled = append(c.cancelled, id)
	c.mu.Unlock()

	t, err := c.store.Get(ctx, id)
	if err != nil || t == nil {
		return fmt.Errorf("not found")
	}
	t.Status = trigger.StatusCancelled
	return c.store.Update(ctx, t)
}

func newTriggerFixture() (*fakeTriggerStore, *fakeControl) {
	store := newFakeTriggerStore()
	return store, &fakeControl{store: store}
}

func TestCreateTriggerOneShot(t *testing.T) {
	store, control := newTriggerFixture()
	tool := NewCreateTriggerTool(store, control, "worker")

	startAt := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"payload":    "send the weekly report",
		"start_time": startAt,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result, "one-shot") {
		t.Errorf("got %q", result)
	}
	if control.wakes != 1 {
		t.Errorf("expected 1 wake, got %d", control.wakes)
	}

	owned, _ := store.ListByAgent(context.Background(), "worker")
	if len(owned) != 1 {
		t.Fatalf("expected 1 stored trigger, got %d", len(owned))
	}
	if owned[0].Recurring() {
		t.Error("expected one-shot trigger")
	}
}

func TestCreateTriggerRecurring(t *testing.T) {
	store, control := newTriggerFixture()
	tool := NewCreateTriggerTool(store, control, "worker")

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"payload":    "check the inbox",
		"recurrence": "*/15 * * * *",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result, "recurring") {
		t.Errorf("got %q", result)
	}
}

func TestCreateTriggerRequiresSchedule(t *testing.T) {
	store, control := newTriggerFixture()
	tool := NewCreateTriggerTool(store, control, "worker")

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"payload": "no schedule given",
	}); err == nil {
		t.Error("expected error without start_time or recurrence")
	}
}

func TestCreateTriggerRejectsBadStartTime(t *testing.T) {
	store, control := newTriggerFixture()
	tool := NewCreateTriggerTool(store, control, "worker")

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"payload":    "task",
		"start_time": "tomorrow at nine",
	}); err == nil {
		t.Error("expected error for non-RFC3339 start time")
	}
}

func TestUpdateTriggerCancel(t *testing.T) {
	store, control := newTriggerFixture()
	trg, _ := trigger.New("worker", "task", time.Now().UTC().Add(time.Hour), trigger.Recurrence{}, "")
	store.Create(context.Background(), trg)

	tool := NewUpdateTriggerTool(store, control, "worker")
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"trigger_id": trg.ID,
		"cancel":     true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result, "Cancelled") {
		t.Errorf("got %q", result)
	}
	if len(control.cancelled) != 1 || control.cancelled[0] != trg.ID {
		t.Errorf("cancel not routed to scheduler: %v", control.cancelled)
	}
}

func TestUpdateTriggerReschedule(t *testing.T) {
	store, control := newTriggerFixture()
	trg, _ := trigger.New("worker", "task", time.Now().UTC().Add(time.Hour), trigger.Recurrence{}, "")
	trg.FailureCount = 2
	store.Create(context.Background(), trg)

	newStart := time.Now().UTC().Add(4 * time.Hour).Truncate(time.Second)
	tool := NewUpdateTriggerTool(store, control, "worker")
	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"trigger_id": trg.ID,
		"start_time": newStart.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := store.Get(context.Background(), trg.ID)
	if !stored.NextFireAt.Equal(newStart) {
		t.Errorf("got next fire %v, want %v", stored.NextFireAt, newStart)
	}
	if stored.FailureCount != 0 {
		t.Error("reschedule must reset the failure count")
	}
	if control.wakes != 1 {
		t.Errorf("expected 1 wake, got %d", control.wakes)
	}
}

func TestUpdateTriggerForeignAgentDenied(t *testing.T) {
	store, control := newTriggerFixture()
	trg, _ := trigger.New("someone-else", "their task", time.Now().UTC().Add(time.Hour), trigger.Recurrence{}, "")
	store.Create(context.Background(), trg)

	tool := NewUpdateTriggerTool(store, control, "worker")
	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"trigger_id": trg.ID,
		"cancel":     true,
	}); err == nil {
		t.Error("an agent must not touch another agent's triggers")
	}
}

func TestListTriggersEmpty(t *testing.T) {
	store, _ := newTriggerFixture()
	tool := NewListTriggersTool(store, "worker")

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "No triggers scheduled." {
		t.Errorf("got %q", result)
	}
}

func TestListTriggersShowsStatusAndSchedule(t *testing.T) {
	store, _ := newTriggerFixture()
	rule, _ := trigger.ParseRecurrence("0 9 * * *")
	trg, _ := trigger.New("worker", "morning briefing", time.Time{}, rule, "")
	store.Create(context.Background(), trg)

	tool := NewListTriggersTool(store, "worker")
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(result, trg.ID) || !strings.Contains(result, "recurring") {
		t.Errorf("got %q", result)
	}
	if !strings.Contains(result, "morning briefing") {
		t.Errorf("payload summary missing: %q", result)
	}
}

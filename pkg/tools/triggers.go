package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m0ahs/openpoke/pkg/trigger"
)

// TriggerControl is the slice of the scheduler the trigger tools need.
type TriggerControl interface {
	Wake()
	Cancel(ctx context.Context, id string) error
}

// CreateTriggerTool schedules future work for the owning execution agent.
type CreateTriggerTool struct {
	store   trigger.Store
	control TriggerControl
	agentID string
}

func NewCreateTriggerTool(store trigger.Store, control TriggerControl, agentID string) *CreateTriggerTool {
	return &CreateTriggerTool{store: store, control: control, agentID: agentID}
}

func (t *CreateTriggerTool) Name() string {
	return "create_trigger"
}

func (t *CreateTriggerTool) Description() string {
	return "Schedule a reminder or recurring task. Provide start_time (RFC3339) for one-shot triggers, recurrence (cron expression) for recurring ones, or both to pin the first run."
}

func (t *CreateTriggerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"payload": map[string]interface{}{
				"type":        "string",
				"description": "Instructions to execute when the trigger fires",
			},
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "First fire time, RFC3339 (e.g. 2026-09-02T09:00:00Z)",
			},
			"recurrence": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression for recurring triggers (e.g. '0 9 * * 1-5')",
			},
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name for display purposes",
			},
		},
		"required": []string{"payload"},
	}
}

func (t *CreateTriggerTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	payload := strings.TrimSpace(stringArg(args, "payload"))
	if payload == "" {
		return "", fmt.Errorf("create_trigger: payload is required")
	}

	var startAt time.Time
	if raw := stringArg(args, "start_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", fmt.Errorf("create_trigger: start_time must be RFC3339: %w", err)
		}
		startAt = parsed.UTC()
	}

	rule, err := trigger.ParseRecurrence(stringArg(args, "recurrence"))
	if err != nil {
		return "", fmt.Errorf("create_trigger: %w", err)
	}
	if startAt.IsZero() && rule.IsZero() {
		return "", fmt.Errorf("create_trigger: provide start_time, recurrence, or both")
	}

	trg, err := trigger.New(t.agentID, payload, startAt, rule, stringArg(args, "timezone"))
	if err != nil {
		return "", fmt.Errorf("create_trigger: %w", err)
	}
	if err := t.store.Create(ctx, trg); err != nil {
		return "", fmt.Errorf("create_trigger: %w", err)
	}
	t.control.Wake()

	kind := "one-shot"
	if trg.Recurring() {
		kind = "recurring"
	}
	return fmt.Sprintf("Created %s trigger %s, next fire at %s",
		kind, trg.ID, trg.NextFireAt.Format(time.RFC3339)), nil
}

// UpdateTriggerTool reschedules or cancels an existing trigger.
type UpdateTriggerTool struct {
	store   trigger.Store
	control TriggerControl
	agentID string
}

func NewUpdateTriggerTool(store trigger.Store, control TriggerControl, agentID string) *UpdateTriggerTool {
	return &UpdateTriggerTool{store: store, control: control, agentID: agentID}
}

func (t *UpdateTriggerTool) Name() string {
	return "update_trigger"
}

func (t *UpdateTriggerTool) Description() string {
	return "Reschedule or cancel one of your triggers by id. Set cancel=true to cancel; otherwise provide a new start_time and/or recurrence."
}

func (t *UpdateTriggerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"trigger_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the trigger to modify",
			},
			"cancel": map[string]interface{}{
				"type":        "boolean",
				"description": "Cancel the trigger instead of rescheduling it",
			},
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "New next fire time, RFC3339",
			},
			"recurrence": map[string]interface{}{
				"type":        "string",
				"description": "New cron expression, or empty string to make the trigger one-shot",
			},
			"payload": map[string]interface{}{
				"type":        "string",
				"description": "New instructions to execute on fire",
			},
		},
		"required": []string{"trigger_id"},
	}
}

func (t *UpdateTriggerTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id := strings.TrimSpace(stringArg(args, "trigger_id"))
	if id == "" {
		return "", fmt.Errorf("update_trigger: trigger_id is required")
	}

	trg, err := t.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("update_trigger: %w", err)
	}
	if trg == nil || trg.AgentID != t.agentID {
		return "", fmt.Errorf("update_trigger: trigger %s not found", id)
	}

	if cancel, _ := args["cancel"].(bool); cancel {
		if err := t.control.Cancel(ctx, id); err != nil {
			return "", fmt.Errorf("update_trigger: %w", err)
		}
		return fmt.Sprintf("Cancelled trigger %s", id), nil
	}

	if trg.Status.Terminal() {
		return "", fmt.Errorf("update_trigger: trigger %s is already %s", id, trg.Status)
	}

	changed := false
	if raw := stringArg(args, "start_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", fmt.Errorf("update_trigger: start_time must be RFC3339: %w", err)
		}
		trg.StartAt = parsed.UTC()
		trg.NextFireAt = parsed.UTC()
		changed = true
	}
	if raw, present := args["recurrence"]; present {
		expr, _ := raw.(string)
		rule, err := trigger.ParseRecurrence(strings.TrimSpace(expr))
		if err != nil {
			return "", fmt.Errorf("update_trigger: %w", err)
		}
		trg.Recurrence = rule
		if stringArg(args, "start_time") == "" && !rule.IsZero() {
			next, err := rule.NextAfter(time.Now().UTC())
			if err != nil {
				return "", fmt.Errorf("update_trigger: %w", err)
			}
			trg.NextFireAt = next
		}
		changed = true
	}
	if payload := strings.TrimSpace(stringArg(args, "payload")); payload != "" {
		trg.Payload = payload
		changed = true
	}
	if !changed {
		return "", fmt.Errorf("update_trigger: nothing to change")
	}

	trg.Status = trigger.StatusScheduled
	trg.FailureCount = 0
	trg.LastError = ""
	if err := t.store.Update(ctx, trg); err != nil {
		return "", fmt.Errorf("update_trigger: %w", err)
	}
	t.control.Wake()

	return fmt.Sprintf("Updated trigger %s, next fire at %s",
		trg.ID, trg.NextFireAt.Format(time.RFC3339)), nil
}

// ListTriggersTool reports the owning agent's triggers and their state.
type ListTriggersTool struct {
	store   trigger.Store
	agentID string
}

func NewListTriggersTool(store trigger.Store, agentID string) *ListTriggersTool {
	return &ListTriggersTool{store: store, agentID: agentID}
}

func (t *ListTriggersTool) Name() string {
	return "list_triggers"
}

func (t *ListTriggersTool) Description() string {
	return "List your triggers with their status, schedule and next fire time."
}

func (t *ListTriggersTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListTriggersTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	triggers, err := t.store.ListByAgent(ctx, t.agentID)
	if err != nil {
		return "", fmt.Errorf("list_triggers: %w", err)
	}
	if len(triggers) == 0 {
		return "No triggers scheduled.", nil
	}

	var sb strings.Builder
	for _, trg := range triggers {
		sb.WriteString(fmt.Sprintf("- %s [%s]", trg.ID, trg.Status))
		if trg.Recurring() {
			sb.WriteString(fmt.Sprintf(" recurring (%s)", trg.Recurrence))
		}
		if !trg.Status.Terminal() {
			sb.WriteString(fmt.Sprintf(" next %s", trg.NextFireAt.Format(time.RFC3339)))
		}
		if trg.LastError != "" {
			sb.WriteString(fmt.Sprintf(" last_error=%q", trg.LastError))
		}
		sb.WriteString(fmt.Sprintf(": %s\n", summarize(trg.Payload, 80)))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func summarize(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

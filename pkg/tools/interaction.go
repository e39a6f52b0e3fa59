package tools

import (
	"context"
	"fmt"
	"strings"
)

// SendMessageToAgentTool hands a task to an execution agent. The returned
// acknowledgement confirms acceptance only; results come back through the
// conversation log when the agent reports.
type SendMessageToAgentTool struct {
	runner DelegateRunner
}

func NewSendMessageToAgentTool(runner DelegateRunner) *SendMessageToAgentTool {
	return &SendMessageToAgentTool{runner: runner}
}

func (t *SendMessageToAgentTool) Name() string {
	return "send_message_to_agent"
}

func (t *SendMessageToAgentTool) Description() string {
	agents := t.runner.ListAgents()
	if len(agents) == 0 {
		return "Dispatch a task to an execution agent by name. A new agent is created on first use of a name."
	}
	var sb strings.Builder
	sb.WriteString("Dispatch a task to an execution agent by name. Existing agents:\n")
	for _, a := range agents {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", a.ID, a.Description))
	}
	sb.WriteString("A new agent is created on first use of a name.")
	return sb.String()
}

func (t *SendMessageToAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_name": map[string]interface{}{
				"type":        "string",
				"description": "Name of the execution agent to message",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Task or instructions for the agent",
			},
		},
		"required": []string{"agent_name", "message"},
	}
}

func (t *SendMessageToAgentTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	agentName := strings.TrimSpace(stringArg(args, "agent_name"))
	message := strings.TrimSpace(stringArg(args, "message"))
	if agentName == "" || message == "" {
		return "", fmt.Errorf("send_message_to_agent: agent_name and message are required")
	}
	return t.runner.Delegate(ctx, agentName, message)
}

// WaitTool lets the interaction agent explicitly decline to respond, for
// turns that need no user-visible output.
type WaitTool struct{}

func NewWaitTool() *WaitTool {
	return &WaitTool{}
}

func (t *WaitTool) Name() string {
	return "wait"
}

func (t *WaitTool) Description() string {
	return "Do nothing this turn. Use when no reply to the user is warranted."
}

func (t *WaitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *WaitTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "Waiting.", nil
}

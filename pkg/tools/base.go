package tools

import "context"

type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// DelegateRunner is implemented by the interaction runtime so the delegation
// tool can hand work to execution agents without a circular import.
type DelegateRunner interface {
	// Delegate dispatches a task to the named execution agent and returns an
	// acknowledgement once the task has been accepted, not its result.
	Delegate(ctx context.Context, agentID, task string) (string, error)
	ListAgents() []AgentInfo
}

// AgentInfo holds basic metadata about an available execution agent.
type AgentInfo struct {
	ID          string
	Description string
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}

package providers

import "context"

// Message is one turn in a chat completion request.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the wire form of a requested tool invocation.
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolRequest is a tool invocation the model asked for, with arguments
// already decoded. ArgsError is set when the argument payload was not valid
// JSON; the caller decides how to surface that back to the model.
type ToolRequest struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
	ArgsError string
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// LLMResponse is one assistant step: either a final answer (no tool calls)
// or a request to invoke tools.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolRequest
	Usage     *Usage
}

// ChatOptions carries per-call tuning.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// LLMProvider is the reasoning step. The runtime treats it as opaque.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts ChatOptions) (*LLMResponse, error)
}

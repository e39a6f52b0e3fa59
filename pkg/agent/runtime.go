package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
	"github.com/m0ahs/openpoke/pkg/providers"
	"github.com/m0ahs/openpoke/pkg/tools"
	"github.com/m0ahs/openpoke/pkg/trigger"
)

// ToolsetFactory builds a fresh tool registry for one execution run. Tools
// that carry per-agent state (trigger ownership, delivery context) must not
// be shared across concurrent runs, so each run gets its own set.
type ToolsetFactory func(agentID string) *tools.ToolRegistry

// ExecutionResult is the outcome of one bounded agent run.
type ExecutionResult struct {
	AgentID       string
	Success       bool
	Response      string
	Error         string
	ToolsExecuted []string
}

// ExecutionRuntime runs a tool-calling loop for execution agents. Each run is
// bounded by the iteration cap; at most one tool call is honored per round,
// and a round that repeats the previous round's exact tool call stops early.
type ExecutionRuntime struct {
	provider      providers.LLMProvider
	model         string
	opts          providers.ChatOptions
	maxIterations int
	roster        *Roster
	toolset       ToolsetFactory
}

func NewExecutionRuntime(provider providers.LLMProvider, cfg config.AgentsConfig, roster *Roster, toolset ToolsetFactory) *ExecutionRuntime {
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	return &ExecutionRuntime{
		provider:      provider,
		model:         cfg.ExecutionModel,
		opts:          providers.ChatOptions{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		maxIterations: maxIter,
		roster:        roster,
		toolset:       toolset,
	}
}

// SetToolset installs the registry factory after construction. The
// composition root wires it once the trigger scheduler exists, since the
// trigger tools need the scheduler and the scheduler needs this runtime. It
// must be called before any run starts.
func (rt *ExecutionRuntime) SetToolset(factory ToolsetFactory) {
	rt.toolset = factory
}

const executionSystemPrompt = `You are an execution agent for a personal assistant. You receive a task, complete it using your tools, and report the outcome in plain text. Work autonomously; you cannot ask the user questions. When the task involves scheduling, use the trigger tools. Keep your final report short and factual.`

// Run executes a task on the named agent. The returned result is non-nil
// even on error so callers always have an agent-attributed record.
func (rt *ExecutionRuntime) Run(ctx context.Context, agentID, task string) (result *ExecutionResult, err error) {
	agent := rt.roster.GetOrCreate(agentID, task)

	// Runs for the same agent are serialized so back-to-back tasks land in
	// order and the shared transcript stays coherent. Distinct agents still
	// run concurrently.
	agent.runMu.Lock()
	defer agent.runMu.Unlock()

	registry := tools.NewToolRegistry()
	if rt.toolset != nil {
		registry = rt.toolset(agentID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = wrapErr(ErrUnexpected, agentID, "panic during run", fmt.Errorf("%v", r))
			result = &ExecutionResult{AgentID: agentID, Error: err.Error()}
			logger.ErrorCF("agent", "Execution run panicked",
				map[string]interface{}{"agent": agentID, "panic": fmt.Sprintf("%v", r)})
		}
	}()

	logger.InfoCF("agent", "Execution run started",
		map[string]interface{}{"agent": agentID, "task_length": len(task)})

	messages := []providers.Message{
		{Role: "system", Content: executionSystemPrompt},
	}
	messages = append(messages, agent.History()...)
	messages = append(messages, providers.Message{Role: "user", Content: task})

	var (
		executed      []string
		lastSignature string
		finalContent  string
		completed     bool
	)

	for iteration := 1; iteration <= rt.maxIterations; iteration++ {
		response, err := rt.provider.Chat(ctx, messages, providerToolDefs(registry), rt.model, rt.opts)
		if err != nil {
			runErr := wrapErr(ErrExecution, agentID, "LLM call failed", err)
			return &ExecutionResult{AgentID: agentID, Error: runErr.Error(), ToolsExecuted: executed}, runErr
		}

		if len(response.ToolCalls) == 0 {
			finalContent = response.Content
			completed = true
			break
		}

		// One tool call per round. Models sometimes emit several; honoring
		// only the first keeps each observation attributable.
		call := response.ToolCalls[0]
		if len(response.ToolCalls) > 1 {
			logger.WarnCF("agent", "Multiple tool calls in one round, keeping first",
				map[string]interface{}{"agent": agentID, "requested": len(response.ToolCalls), "kept": call.Name})
		}

		signature := callSignature(call)
		if signature == lastSignature && signature != "" {
			logger.WarnCF("agent", "Repeated identical tool call, stopping early",
				map[string]interface{}{"agent": agentID, "tool": call.Name, "iteration": iteration})
			finalContent = response.Content
			if finalContent == "" {
				finalContent = fmt.Sprintf("Stopped: repeated %s call with identical arguments.", call.Name)
			}
			completed = true
			break
		}
		lastSignature = signature

		messages = append(messages, assistantToolCallMessage(response.Content, call))

		observation := rt.executeCall(ctx, registry, call)
		executed = append(executed, call.Name)
		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    observation,
			ToolCallID: call.ID,
		})
	}

	// A run still requesting tools when the cap lands never converged.
	if !completed {
		runErr := wrapErr(ErrExecution, agentID,
			fmt.Sprintf("no final response after %d tool iterations", rt.maxIterations), nil)
		logger.ErrorCF("agent", "Execution run exhausted its iteration cap",
			map[string]interface{}{"agent": agentID, "iterations": rt.maxIterations, "tools": len(executed)})
		return &ExecutionResult{AgentID: agentID, Error: runErr.Error(), ToolsExecuted: executed}, runErr
	}

	if finalContent == "" {
		finalContent = "Task processed, no further report."
	}

	agent.AppendHistory(
		providers.Message{Role: "user", Content: task},
		providers.Message{Role: "assistant", Content: finalContent},
	)
	agent.trimHistory()

	logger.InfoCF("agent", "Execution run finished",
		map[string]interface{}{"agent": agentID, "tools": len(executed), "response_length": len(finalContent)})

	return &ExecutionResult{
		AgentID:       agentID,
		Success:       true,
		Response:      finalContent,
		ToolsExecuted: executed,
	}, nil
}

// executeCall runs one tool call and renders the observation the model sees.
// Rejected arguments and unknown tools become observations rather than run
// failures so the model can correct itself on the next round.
func (rt *ExecutionRuntime) executeCall(ctx context.Context, registry *tools.ToolRegistry, call providers.ToolRequest) string {
	if call.ArgsError != "" {
		return fmt.Sprintf("Error: %s. Re-issue the call with valid JSON arguments.", call.ArgsError)
	}

	result, err := registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			return fmt.Sprintf("Error: tool %q does not exist. Available tools: %v.", call.Name, registry.List())
		case errors.Is(err, tools.ErrInvalidArguments):
			return fmt.Sprintf("Error: %v. Fix the arguments and retry.", err)
		default:
			return fmt.Sprintf("Error: %v", err)
		}
	}
	return result
}

// ExecuteTrigger runs a fired trigger's payload on its owning agent. The
// scheduler calls this through the Executor interface.
func (rt *ExecutionRuntime) ExecuteTrigger(ctx context.Context, t *trigger.Trigger) (string, error) {
	result, err := rt.Run(ctx, t.AgentID, formatTriggerTask(t))
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", wrapErr(ErrExecution, t.AgentID, "trigger run failed", errors.New(result.Error))
	}
	return result.Response, nil
}

func formatTriggerTask(t *trigger.Trigger) string {
	fired := time.Now().UTC().Format(time.RFC3339)
	task := fmt.Sprintf("Scheduled trigger fired at %s.\n\nInstructions:\n%s", fired, t.Payload)
	if t.Recurring() {
		task += fmt.Sprintf("\n\nThis trigger recurs (%s); do not reschedule it yourself.", t.Recurrence)
	}
	return task
}

func providerToolDefs(registry *tools.ToolRegistry) []providers.ToolDefinition {
	defs := registry.GetDefinitions()
	out := make([]providers.ToolDefinition, 0, len(defs))
	for _, td := range defs {
		fn := td["function"].(map[string]interface{})
		out = append(out, providers.ToolDefinition{
			Type: td["type"].(string),
			Function: providers.ToolFunctionDefinition{
				Name:        fn["name"].(string),
				Description: fn["description"].(string),
				Parameters:  fn["parameters"].(map[string]interface{}),
			},
		})
	}
	return out
}

func assistantToolCallMessage(content string, call providers.ToolRequest) providers.Message {
	argsJSON, _ := json.Marshal(call.Arguments)
	return providers.Message{
		Role:    "assistant",
		Content: content,
		ToolCalls: []providers.ToolCall{{
			ID:   call.ID,
			Type: "function",
			Function: &providers.FunctionCall{
				Name:      call.Name,
				Arguments: string(argsJSON),
			},
		}},
	}
}

// callSignature canonicalizes a tool call for repeat detection. Arguments
// are rendered with sorted keys so map ordering cannot defeat the check.
func callSignature(call providers.ToolRequest) string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sig := call.Name
	for _, k := range keys {
		v, _ := json.Marshal(call.Arguments[k])
		sig += "\x00" + k + "=" + string(v)
	}
	return sig
}

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/convlog"
	"github.com/m0ahs/openpoke/pkg/logger"
	"github.com/m0ahs/openpoke/pkg/providers"
	"github.com/m0ahs/openpoke/pkg/tools"
	"github.com/m0ahs/openpoke/pkg/trigger"
)

const interactionSystemPrompt = `You are the interaction layer of a personal assistant. You talk to the user and coordinate execution agents; you never do the work yourself. Use send_message_to_agent to dispatch tasks, addressing agents by a short descriptive name (a new agent is created on first use). Dispatch is asynchronous: acknowledge to the user that the work is underway, and relay agent reports when they arrive. Use the wait tool when a turn needs no reply at all. Keep replies short and conversational.`

const fallbackReply = "Something went wrong, please try again later."

// InteractionRuntime owns the conversation with the user. Every turn flows
// through here: duplicates are suppressed before any model call, accepted
// turns are appended to the conversation log, and delegated work comes back
// as agent reports that may surface to the user.
type InteractionRuntime struct {
	provider      providers.LLMProvider
	model         string
	opts          providers.ChatOptions
	maxIterations int
	tailLines     int

	log    *convlog.Log
	dedup  *DuplicateDetector
	roster *Roster
	exec   *ExecutionRuntime
	bus    *bus.MessageBus

	registry *tools.ToolRegistry

	mu      sync.Mutex
	lastCtx bus.MessageContext
	hasCtx  bool

	wg sync.WaitGroup
}

func NewInteractionRuntime(provider providers.LLMProvider, cfg *config.Config, log *convlog.Log, roster *Roster, exec *ExecutionRuntime, msgBus *bus.MessageBus) *InteractionRuntime {
	maxIter := cfg.Agents.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	rt := &InteractionRuntime{
		provider:      provider,
		model:         cfg.Agents.InteractionModel,
		opts:          providers.ChatOptions{MaxTokens: cfg.Agents.MaxTokens, Temperature: cfg.Agents.Temperature},
		maxIterations: maxIter,
		tailLines:     cfg.Conversation.HistoryTailLines,
		log:           log,
		dedup: NewDuplicateDetector(
			time.Duration(cfg.Conversation.DedupWindowSecs)*time.Second,
			cfg.Conversation.DedupCacheSize,
			cfg.Conversation.MinDedupLength,
		),
		roster: roster,
		exec:   exec,
		bus:    msgBus,
	}

	registry := tools.NewToolRegistry()
	registry.Register(tools.NewSendMessageToAgentTool(rt))
	registry.Register(tools.NewWaitTool())
	rt.registry = registry

	return rt
}

// Run consumes inbound turns until the context is cancelled.
func (rt *InteractionRuntime) Run(ctx context.Context) error {
	for {
		msg, ok := rt.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		reply, err := rt.HandleUserMessage(ctx, msg.Context, msg.Content)
		if err != nil {
			logger.ErrorCF("agent", "Turn handling failed",
				map[string]interface{}{"channel": msg.Context.Channel, "error": err.Error()})
			reply = fallbackReply
		}

		if reply != "" {
			rt.bus.PublishOutbound(bus.OutboundMessage{Context: msg.Context, Content: reply})
		}
	}
}

// Wait blocks until background delegations finish. Called on shutdown.
func (rt *InteractionRuntime) Wait() {
	rt.wg.Wait()
}

// HandleUserMessage processes one user turn and returns the reply, or an
// empty string when the turn produces no user-visible output.
func (rt *InteractionRuntime) HandleUserMessage(ctx context.Context, mctx bus.MessageContext, content string) (string, error) {
	rt.mu.Lock()
	rt.lastCtx = mctx
	rt.hasCtx = true
	rt.mu.Unlock()

	if rt.dedup.CheckAndMark(string(convlog.RoleUser), content) {
		logger.InfoCF("agent", "Duplicate user message suppressed",
			map[string]interface{}{"channel": mctx.Channel, "chat_id": mctx.ChatID})
		rt.appendMarker("duplicate user message suppressed", mctx)
		return "", nil
	}

	if _, err := rt.log.Append(convlog.RoleUser, content, mctx.Channel, mctx.ChatID); err != nil {
		return fallbackReply, wrapErr(ErrPersistence, "interaction", "append user turn", err)
	}

	reply, err := rt.runLoop(ctx)
	if err != nil {
		rt.log.Append(convlog.RoleSystem, fmt.Sprintf("turn failed: %v", err), mctx.Channel, mctx.ChatID)
		return fallbackReply, err
	}

	if reply == "" {
		rt.appendMarker("no reply for this turn", mctx)
		return "", nil
	}

	if rt.dedup.CheckAndMark("assistant", reply) {
		logger.InfoC("agent", "Duplicate assistant reply suppressed")
		rt.appendMarker("duplicate assistant reply suppressed", mctx)
		return "", nil
	}

	if _, err := rt.log.Append(convlog.RoleReply, reply, mctx.Channel, mctx.ChatID); err != nil {
		return fallbackReply, wrapErr(ErrPersistence, "interaction", "append reply", err)
	}
	return reply, nil
}

// HandleAgentMessage processes a report from an execution agent or a fired
// trigger. A surfaced response is delivered to the user's last known channel.
func (rt *InteractionRuntime) HandleAgentMessage(ctx context.Context, role convlog.Role, agentID, content string) {
	tagged := fmt.Sprintf("[%s] %s", agentID, content)

	if rt.dedup.CheckAndMark(string(role), tagged) {
		logger.InfoCF("agent", "Duplicate agent report suppressed", map[string]interface{}{"agent": agentID})
		rt.appendMarker("duplicate agent report suppressed", bus.MessageContext{})
		return
	}

	rt.mu.Lock()
	mctx := rt.lastCtx
	deliverable := rt.hasCtx
	rt.mu.Unlock()

	if _, err := rt.log.Append(role, tagged, mctx.Channel, mctx.ChatID); err != nil {
		logger.ErrorCF("agent", "Failed to log agent report",
			map[string]interface{}{"agent": agentID, "error": err.Error()})
		return
	}

	reply, err := rt.runLoop(ctx)
	if err != nil {
		logger.ErrorCF("agent", "Agent report handling failed",
			map[string]interface{}{"agent": agentID, "error": err.Error()})
		rt.log.Append(convlog.RoleSystem, fmt.Sprintf("report handling failed: %v", err), mctx.Channel, mctx.ChatID)
		return
	}
	if reply == "" {
		rt.appendMarker("agent report not surfaced", mctx)
		return
	}

	if _, err := rt.log.Append(convlog.RoleReply, reply, mctx.Channel, mctx.ChatID); err != nil {
		logger.ErrorCF("agent", "Failed to log surfaced reply",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if deliverable {
		rt.bus.PublishOutbound(bus.OutboundMessage{Context: mctx, Content: reply})
	}
}

// Delegate implements tools.DelegateRunner. The dispatch is recorded in the
// log before the run starts, so a crash between ack and completion leaves
// evidence of the outstanding work.
func (rt *InteractionRuntime) Delegate(ctx context.Context, agentID, task string) (string, error) {
	rt.roster.GetOrCreate(agentID, task)

	ack := fmt.Sprintf("dispatched task to agent %q", agentID)
	if _, err := rt.log.Append(convlog.RoleSystem, ack, "", ""); err != nil {
		return "", wrapErr(ErrPersistence, agentID, "record dispatch", err)
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()

		// Delegations outlive the turn that started them.
		runCtx := context.Background()
		result, err := rt.exec.Run(runCtx, agentID, task)
		if err != nil {
			rt.HandleAgentMessage(runCtx, convlog.RoleAgent, agentID, fmt.Sprintf("task failed: %v", err))
			return
		}
		rt.HandleAgentMessage(runCtx, convlog.RoleAgent, agentID, result.Response)
	}()

	return fmt.Sprintf("Task accepted by agent %q. The result will be reported when ready.", agentID), nil
}

// ListAgents implements tools.DelegateRunner.
func (rt *InteractionRuntime) ListAgents() []tools.AgentInfo {
	return rt.roster.List()
}

// TriggerCompleted implements trigger.Sink.
func (rt *InteractionRuntime) TriggerCompleted(ctx context.Context, t *trigger.Trigger, response string) {
	rt.HandleAgentMessage(ctx, convlog.RoleTrigger, t.AgentID, response)
}

// TriggerFailed implements trigger.Sink.
func (rt *InteractionRuntime) TriggerFailed(ctx context.Context, t *trigger.Trigger, lastErr string) {
	rt.HandleAgentMessage(ctx, convlog.RoleTrigger, t.AgentID,
		fmt.Sprintf("scheduled task %s failed permanently: %s", t.ID, lastErr))
}

// ClearConversation wipes the log. Dedup state is reset alongside so a
// message repeated right after a clear is not treated as a duplicate of the
// erased history.
func (rt *InteractionRuntime) ClearConversation() error {
	if err := rt.log.Clear(); err != nil {
		return wrapErr(ErrPersistence, "interaction", "clear conversation", err)
	}
	rt.dedup = NewDuplicateDetector(rt.dedup.window, rt.dedup.maxSize, rt.dedup.minLength)
	return nil
}

func (rt *InteractionRuntime) appendMarker(reason string, mctx bus.MessageContext) {
	if _, err := rt.log.Append(convlog.RoleWait, reason, mctx.Channel, mctx.ChatID); err != nil {
		logger.WarnCF("convlog", "Failed to append wait marker", map[string]interface{}{"error": err.Error()})
	}
}

// runLoop drives the interaction model over the logged history. It returns
// the user-visible reply, empty when the model chose to wait.
func (rt *InteractionRuntime) runLoop(ctx context.Context) (string, error) {
	messages, err := rt.buildMessages()
	if err != nil {
		return "", wrapErr(ErrPersistence, "interaction", "read history", err)
	}

	toolDefs := providerToolDefs(rt.registry)

	for iteration := 1; iteration <= rt.maxIterations; iteration++ {
		response, err := rt.provider.Chat(ctx, messages, toolDefs, rt.model, rt.opts)
		if err != nil {
			return "", wrapErr(ErrExecution, "interaction", "LLM call failed", err)
		}

		if len(response.ToolCalls) == 0 {
			return response.Content, nil
		}

		call := response.ToolCalls[0]
		if call.Name == "wait" {
			return "", nil
		}

		messages = append(messages, assistantToolCallMessage(response.Content, call))

		var observation string
		if call.ArgsError != "" {
			observation = fmt.Sprintf("Error: %s. Re-issue the call with valid JSON arguments.", call.ArgsError)
		} else {
			result, err := rt.registry.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				observation = fmt.Sprintf("Error: %v", err)
			} else {
				observation = result
			}
		}
		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    observation,
			ToolCallID: call.ID,
		})
	}

	return "", wrapErr(ErrExecution, "interaction", "iteration cap reached without a reply", nil)
}

// buildMessages renders the log tail as the model's conversation view. Wait
// markers are bookkeeping and never shown to the model.
func (rt *InteractionRuntime) buildMessages() ([]providers.Message, error) {
	entries, err := rt.log.Tail(rt.tailLines)
	if err != nil {
		return nil, err
	}

	messages := make([]providers.Message, 0, len(entries)+1)
	messages = append(messages, providers.Message{Role: "system", Content: interactionSystemPrompt})

	for _, e := range entries {
		switch e.Role {
		case convlog.RoleUser:
			messages = append(messages, providers.Message{Role: "user", Content: e.Content})
		case convlog.RoleReply:
			messages = append(messages, providers.Message{Role: "assistant", Content: e.Content})
		case convlog.RoleAgent:
			messages = append(messages, providers.Message{Role: "user", Content: "Agent report " + e.Content})
		case convlog.RoleTrigger:
			messages = append(messages, providers.Message{Role: "user", Content: "Trigger result " + e.Content})
		case convlog.RoleSystem:
			messages = append(messages, providers.Message{Role: "user", Content: "System notice: " + e.Content})
		case convlog.RoleWait:
			// skipped
		}
	}
	return messages, nil
}

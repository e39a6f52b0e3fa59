package agent

import (
	"sort"
	"strings"
	"sync"

	"github.com/m0ahs/openpoke/pkg/providers"
	"github.com/m0ahs/openpoke/pkg/tools"
)

// ExecutionAgent is one named worker in the roster. Each keeps its own
// transcript so follow-up tasks to the same agent carry prior context.
type ExecutionAgent struct {
	ID          string
	Description string

	// runMu serializes runs on this agent; mu only guards the history slice.
	runMu sync.Mutex

	mu      sync.Mutex
	history []providers.Message
}

// History returns a copy of the agent's transcript.
func (a *ExecutionAgent) History() []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Message, len(a.history))
	copy(out, a.history)
	return out
}

func (a *ExecutionAgent) AppendHistory(msgs ...providers.Message) {
	a.mu.Lock()
	a.history = append(a.history, msgs...)
	a.mu.Unlock()
}

// historyCap bounds per-agent transcripts; older messages are dropped from
// the front once exceeded.
const historyCap = 60

func (a *ExecutionAgent) trimHistory() {
	a.mu.Lock()
	if len(a.history) > historyCap {
		a.history = append([]providers.Message(nil), a.history[len(a.history)-historyCap:]...)
	}
	a.mu.Unlock()
}

// Roster tracks execution agents by name. Agents are created on first
// mention; the first task becomes the description shown to the interaction
// agent when it lists delegation targets.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*ExecutionAgent
}

func NewRoster() *Roster {
	return &Roster{agents: make(map[string]*ExecutionAgent)}
}

func (r *Roster) Get(id string) (*ExecutionAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

func (r *Roster) GetOrCreate(id, firstTask string) *ExecutionAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		return a
	}
	a := &ExecutionAgent{
		ID:          id,
		Description: summarizeTask(firstTask),
	}
	r.agents[id] = a
	return a
}

func (r *Roster) List() []tools.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]tools.AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		infos = append(infos, tools.AgentInfo{ID: a.ID, Description: a.Description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func summarizeTask(task string) string {
	task = strings.ReplaceAll(strings.TrimSpace(task), "\n", " ")
	if len(task) > 100 {
		task = task[:100] + "..."
	}
	return task
}

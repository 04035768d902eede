package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/boristopalov/agentgym/pkg/core"
)

var ErrScriptExhausted = errors.New("scripted agent has no actions left")

// ScriptedAgent plays back a fixed list of actions, one per Act call.
type ScriptedAgent struct {
	mu      sync.Mutex
	actions []core.Action
	next    int
}

func NewScriptedAgent(actions ...core.Action) *ScriptedAgent {
	return &ScriptedAgent{actions: actions}
}

// FromTrajectory replays the successful assistant turns of a recorded episode.
func FromTrajectory(tr *core.Trajectory) *ScriptedAgent {
	var actions []core.Action
	for _, t := range tr.Snapshot() {
		if t.Role != core.RoleAssistant || t.IsError() {
			continue
		}
		a := core.TextAction(t.Content)
		if len(t.ToolCalls) > 0 {
			a.Kind = core.ActionToolCalls
			a.Calls = t.ToolCalls
		}
		a.Reasoning = t.Reasoning
		a.Effort = t.Effort
		actions = append(actions, a)
	}
	return NewScriptedAgent(actions...)
}

func (a *ScriptedAgent) Act(ctx context.Context, _ []core.Turn, _ core.ToolSchema) (core.Action, error) {
	if err := ctx.Err(); err != nil {
		return core.Action{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next >= len(a.actions) {
		return core.Action{}, ErrScriptExhausted
	}
	action := a.actions[a.next]
	a.next++
	return action, nil
}

// Remaining reports how many actions have not been played yet.
func (a *ScriptedAgent) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.actions) - a.next
}

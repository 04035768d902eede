package runner

import (
	"context"
	"fmt"

	"github.com/boristopalov/agentgym/pkg/agent"
	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

// ReplayResult is what re-dispatching a recorded episode produced.
type ReplayResult struct {
	// Calls are the re-dispatched calls, in order.
	Calls        []core.ToolCall
	Observations []core.Observation
	// Diverged lists the indexes into Calls whose observation differs from
	// the recorded one.
	Diverged    []int
	Final       *core.StepResult
	TotalReward float64
}

// Replay resets env and re-dispatches, in recorded order, every call of tr
// that reached the environment, followed by the final text answer if the
// episode ended with one. Calls rejected during the original run are not
// sent. env is left open for the caller to inspect and close.
func Replay(ctx context.Context, tr *core.Trajectory, env core.Environment) (*ReplayResult, error) {
	if _, _, err := env.Reset(ctx); err != nil {
		return nil, fmt.Errorf("replay %s: %w", tr.EpisodeID, err)
	}

	out := &ReplayResult{}
	var pending map[string]core.ToolCall
	for _, turn := range tr.Snapshot() {
		switch turn.Role {
		case core.RoleAssistant:
			if turn.IsError() {
				continue
			}
			if len(turn.ToolCalls) > 0 {
				pending = make(map[string]core.ToolCall, len(turn.ToolCalls))
				for _, c := range turn.ToolCalls {
					pending[c.ID] = c
				}
				continue
			}
			res, err := env.Step(ctx, core.TextAction(turn.Content))
			if err != nil {
				return out, fmt.Errorf("replay answer at turn %d: %w", turn.Index, err)
			}
			out.TotalReward += res.Reward
			if res.Done {
				out.Final = &res
				return out, nil
			}
		case core.RoleTool:
			if turn.Metadata[metaDispatched] != true {
				continue
			}
			call, ok := pending[turn.ToolCallID]
			if !ok {
				return out, fmt.Errorf("replay: tool turn %d answers unknown call %q", turn.Index, turn.ToolCallID)
			}
			res, err := env.Step(ctx, core.CallsAction(call))
			if err != nil {
				return out, fmt.Errorf("replay call %s at turn %d: %w", call.Name, turn.Index, err)
			}
			out.TotalReward += res.Reward
			if res.Observation.Content != turn.Content {
				out.Diverged = append(out.Diverged, len(out.Calls))
			}
			out.Calls = append(out.Calls, call)
			out.Observations = append(out.Observations, res.Observation)
			if res.Done {
				out.Final = &res
				return out, nil
			}
		}
	}
	return out, nil
}

// Rerun drives a fresh episode of def in which the agent plays back the
// recorded actions of tr. Unlike Replay, every call goes through validation
// again, so the new trajectory shows how the current runner judges the same
// behavior. It also returns how many recorded actions were never played.
func Rerun(ctx context.Context, tr *core.Trajectory, def *task.Definition, envs EnvFactory, opts ...Option) (*core.Trajectory, int, error) {
	script := agent.FromTrajectory(tr)
	if tr.MaxTurns > 0 {
		opts = append([]Option{WithMaxTurns(tr.MaxTurns)}, opts...)
	}
	out, err := New(script, envs, opts...).RunEpisode(ctx, def)
	if err != nil {
		return nil, 0, err
	}
	return out, script.Remaining(), nil
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/messaging"
	"github.com/boristopalov/agentgym/pkg/task"
)

const (
	metaDispatched       = "dispatched"
	metaAttempt          = "attempt"
	metaFinalObservation = "final_observation"
)

// episode is the state of one RunEpisode call.
type episode struct {
	r      *Runner
	def    *task.Definition
	tr     *core.Trajectory
	env    core.Environment
	schema core.ToolSchema
	log    *slog.Logger
}

// end carries the terminal status out of the loop. A zero end continues.
type end struct {
	status core.Status
	cause  error
}

func (e end) over() bool {
	return e.status != ""
}

// RunEpisode runs def to a terminal state. The returned error is non-nil
// only for a nil task; every other outcome, including environment and agent
// failures, is encoded in the sealed trajectory's status.
func (r *Runner) RunEpisode(ctx context.Context, def *task.Definition) (*core.Trajectory, error) {
	if def == nil {
		return nil, ErrNilTask
	}
	id := r.newID()
	ep := &episode{
		r:   r,
		def: def,
		tr:  core.NewTrajectory(id, def.Ref, r.now()),
		log: r.logger.With("episode", id, "task", def.Ref.ID),
	}
	ep.tr.Environment = string(r.envs.KindFor(def))
	ep.tr.MaxTurns = r.maxTurns
	ep.tr.AllowedCommands = def.AllowedCommands
	ep.tr.Metadata = map[string]any{"runner": r.name}

	r.publish(messaging.Event{Type: messaging.EpisodeStarted, EpisodeID: id, TaskID: def.Ref.ID})
	ep.log.Info("episode started", "environment", ep.tr.Environment)

	result := ep.run(ctx)
	ep.tr.Seal(result.status, r.now(), result.cause)

	ep.log.Info("episode finished",
		"status", ep.tr.Status,
		"success", ep.tr.Success,
		"reward", ep.tr.TotalReward,
		"agent_turns", ep.tr.AgentTurns,
		"duration", ep.tr.EndedAt.Sub(ep.tr.StartedAt))
	r.publish(messaging.Event{
		Type:      messaging.EpisodeFinished,
		EpisodeID: id,
		TaskID:    def.Ref.ID,
		Status:    string(ep.tr.Status),
		Success:   ep.tr.Success,
		Reward:    ep.tr.TotalReward,
		Content:   ep.tr.Error,
	})
	return ep.tr, nil
}

func (ep *episode) run(ctx context.Context) (result end) {
	env, err := ep.r.envs.New(ep.def)
	if err != nil {
		return end{core.StatusEnvError, err}
	}
	ep.env = env
	defer func() {
		if p := recover(); p != nil {
			ep.log.Error("episode panicked", "panic", p)
			result = end{core.StatusEnvError, fmt.Errorf("episode panicked: %v", p)}
		}
		if err := env.Close(); err != nil {
			ep.log.Warn("environment cleanup failed", "err", err)
		}
	}()

	obs, schema, err := env.Reset(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return end{core.StatusCancelled, ctx.Err()}
		}
		return end{core.StatusEnvError, err}
	}
	ep.schema = schema
	ep.tr.Tools = &schema

	wire, err := json.Marshal(schema.WireFormat())
	if err != nil {
		return end{core.StatusEnvError, fmt.Errorf("encode tool schema: %w", err)}
	}
	ep.append(core.Turn{Role: core.RoleSystem, Content: string(wire)})
	ep.append(core.Turn{Role: core.RoleUser, Content: obs.Content, Metadata: obs.Metadata})

	for {
		if ctx.Err() != nil {
			return end{core.StatusCancelled, ctx.Err()}
		}
		if ep.tr.AgentTurns >= ep.r.maxTurns {
			return end{core.StatusTruncated, nil}
		}

		action, err := ep.act(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return end{core.StatusCancelled, ctx.Err()}
			}
			return end{core.StatusAgentError, err}
		}
		ep.append(core.Turn{
			Role:      core.RoleAssistant,
			Content:   action.Text,
			ToolCalls: action.Calls,
			Reasoning: action.Reasoning,
			Effort:    action.Effort,
			Metadata:  rawMetadata(action),
		})

		var res end
		if action.HasCalls() {
			res = ep.dispatchAll(ctx, action.Calls)
		} else {
			res = ep.answer(ctx, action)
		}
		if res.over() {
			return res
		}
	}
}

func rawMetadata(a core.Action) map[string]any {
	if a.Raw == "" || a.Raw == a.Text {
		return nil
	}
	return map[string]any{"raw": a.Raw}
}

// act asks the agent for the next action, retrying transport failures with
// the same history. Every failed attempt is recorded as an error turn.
func (ep *episode) act(ctx context.Context) (core.Action, error) {
	var lastErr error
	for attempt := 0; attempt <= ep.r.agentRetries; attempt++ {
		if attempt > 0 && ep.r.retryBackoff > 0 {
			select {
			case <-time.After(ep.r.retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return core.Action{}, ctx.Err()
			}
		}

		start := time.Now()
		action, err := ep.callAgent(ctx)
		if err == nil {
			return action, nil
		}
		if ctx.Err() != nil {
			return core.Action{}, ctx.Err()
		}

		lastErr = err
		ep.log.Warn("agent failed", "attempt", attempt+1, "err", err)
		ep.append(core.Turn{
			Role:      core.RoleAssistant,
			Error:     err.Error(),
			ErrorKind: core.KindName(err),
			Duration:  time.Since(start),
			Metadata:  map[string]any{metaAttempt: attempt + 1},
		})
		if !errors.Is(err, core.ErrAgentTransport) {
			return core.Action{}, err
		}
	}
	return core.Action{}, fmt.Errorf("agent failed after %d attempts: %w", ep.r.agentRetries+1, lastErr)
}

type actResult struct {
	action core.Action
	err    error
}

// callAgent runs one Act call under the agent timeout. The call runs in its
// own goroutine so an agent that ignores its context still times out, and a
// panicking agent becomes an error.
func (ep *episode) callAgent(ctx context.Context) (core.Action, error) {
	actx, cancel := context.WithTimeout(ctx, ep.r.agentTimeout)
	defer cancel()

	history := ep.tr.Snapshot()
	done := make(chan actResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- actResult{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		a, err := ep.r.agent.Act(actx, history, ep.schema)
		done <- actResult{a, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return core.Action{}, agentTimeout(ep.r.agentTimeout, res.err)
		}
		return res.action, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return core.Action{}, ctx.Err()
		}
		return core.Action{}, agentTimeout(ep.r.agentTimeout, actx.Err())
	}
}

func agentTimeout(d time.Duration, err error) error {
	return core.Wrap(core.ErrAgentTransport, "agent.Act", fmt.Errorf("no response within %s: %w", d, err))
}

// answer submits a text action as the final answer. Conversational
// environments may keep the episode open, in which case their reply
// becomes the next user turn.
func (ep *episode) answer(ctx context.Context, action core.Action) end {
	res, timedOut, err := ep.step(ctx, action)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return end{core.StatusCancelled, ctx.Err()}
	case timedOut:
		return end{core.StatusEnvError, core.Wrap(core.ErrToolExecutionTimeout, "answer", err)}
	default:
		return end{core.StatusEnvError, err}
	}

	ep.tr.AddReward(res.Reward)
	if res.Done {
		ep.tr.Metadata[metaFinalObservation] = res.Observation.Content
		if len(res.Observation.Metadata) > 0 {
			ep.tr.Metadata["final_metadata"] = res.Observation.Metadata
		}
		return end{core.StatusDone, nil}
	}
	ep.append(core.Turn{
		Role:     core.RoleUser,
		Content:  res.Observation.Content,
		Reward:   res.Reward,
		Metadata: res.Observation.Metadata,
	})
	return end{}
}

// dispatchAll runs the calls strictly in declaration order.
func (ep *episode) dispatchAll(ctx context.Context, calls []core.ToolCall) end {
	for i, call := range calls {
		done, res := ep.dispatch(ctx, call)
		if res.over() {
			return res
		}
		if done {
			for _, skipped := range calls[i+1:] {
				ep.fail(skipped, core.Errorf(core.ErrEpisodeDone, skipped.Name, "not executed: the episode ended before this call"))
			}
			return end{core.StatusDone, nil}
		}
	}
	return end{}
}

// dispatch validates and executes one call, recording its tool turn. done
// reports whether the environment finished the episode.
func (ep *episode) dispatch(ctx context.Context, call core.ToolCall) (done bool, result end) {
	if _, err := ep.schema.CheckCall(call, ep.def.AllowedCommands); err != nil {
		ep.log.Debug("tool call rejected", "tool", call.Name, "err", err)
		ep.fail(call, err)
		return false, end{}
	}

	start := time.Now()
	res, timedOut, err := ep.step(ctx, core.CallsAction(call))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, end{core.StatusCancelled, ctx.Err()}
	case timedOut:
		terr := core.Errorf(core.ErrToolExecutionTimeout, call.Name, "tool execution timed out after %s", ep.r.stepTimeout)
		ep.append(core.Turn{
			Role:       core.RoleTool,
			Content:    "Error: " + terr.Error(),
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Error:      terr.Error(),
			ErrorKind:  core.KindName(terr),
			Duration:   time.Since(start),
			Metadata:   map[string]any{metaDispatched: true},
		})
		return false, end{}
	case errors.Is(err, core.ErrEnvironmentInit), errors.Is(err, core.ErrEpisodeDone):
		return false, end{core.StatusEnvError, err}
	default:
		ep.append(core.Turn{
			Role:       core.RoleTool,
			Content:    "Error: " + err.Error(),
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Error:      err.Error(),
			ErrorKind:  core.KindName(err),
			Duration:   time.Since(start),
			Metadata:   map[string]any{metaDispatched: true},
		})
		return false, end{}
	}

	ep.tr.AddReward(res.Reward)
	meta := map[string]any{metaDispatched: true}
	maps.Copy(meta, res.Observation.Metadata)
	turn := core.Turn{
		Role:       core.RoleTool,
		Content:    res.Observation.Content,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Reward:     res.Reward,
		Done:       res.Done,
		Duration:   time.Since(start),
		Metadata:   meta,
	}
	if kind, ok := res.Info[core.InfoErrorKind].(string); ok {
		turn.ErrorKind = kind
	}
	ep.append(turn)
	return res.Done, end{}
}

// step runs one Environment.Step under the step timeout. timedOut reports
// that the step deadline, not the episode context, stopped it.
func (ep *episode) step(ctx context.Context, action core.Action) (core.StepResult, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, ep.r.stepTimeout)
	defer cancel()
	res, err := ep.env.Step(sctx, action)
	if err != nil {
		timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return core.StepResult{}, timedOut, err
	}
	return res, false, nil
}

// fail records a synthetic failure for a call that never reached the environment.
func (ep *episode) fail(call core.ToolCall, err error) {
	ep.append(core.Turn{
		Role:       core.RoleTool,
		Content:    "Error: " + err.Error(),
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Error:      err.Error(),
		ErrorKind:  core.KindName(err),
		Metadata:   map[string]any{metaDispatched: false},
	})
}

func (ep *episode) append(turn core.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = ep.r.now()
	}
	recorded, err := ep.tr.Append(turn)
	if err != nil {
		ep.log.Error("turn dropped", "role", turn.Role, "err", err)
		return
	}
	ep.r.publish(messaging.Event{
		Type:      messaging.TurnRecorded,
		EpisodeID: ep.tr.EpisodeID,
		TaskID:    ep.def.Ref.ID,
		Turn:      recorded.Index,
		Role:      string(recorded.Role),
		Content:   recorded.Content,
	})
}

package environment

import (
	"context"
	"fmt"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

// Dialogue simulates a user conversation. It has no side effects outside
// the persona; tool calls are answered by the persona as well.
type Dialogue struct {
	*Lifecycle
	settings

	def      *task.Definition
	personas PersonaFactory
	persona  Persona
	schema   core.ToolSchema
	turns    int
	maxTurns int
}

// NewDialogue falls back to a scripted persona when personas is nil.
// maxTurns only feeds the persona's extra info; the runner enforces the
// real bound.
func NewDialogue(def *task.Definition, personas PersonaFactory, maxTurns int, opts ...Option) *Dialogue {
	if personas == nil {
		personas = NewScriptedPersona
	}
	return &Dialogue{
		Lifecycle: NewLifecycle("dialogue"),
		settings:  newSettings(opts),
		def:       def,
		personas:  personas,
		maxTurns:  maxTurns,
	}
}

func (e *Dialogue) Reset(ctx context.Context) (core.Observation, core.ToolSchema, error) {
	if err := e.BeginReset(); err != nil {
		return core.Observation{}, core.ToolSchema{}, err
	}
	d := e.def.Dialogue
	if d == nil {
		return core.Observation{}, core.ToolSchema{}, core.Errorf(core.ErrEnvironmentInit, "dialogue.Reset", "task %d has no user persona", e.def.Ref.ID)
	}
	e.schema = core.FromWireFormat(d.Tools)
	if err := e.schema.Validate(); err != nil {
		return core.Observation{}, core.ToolSchema{}, core.Wrap(core.ErrEnvironmentInit, "dialogue.Reset", err)
	}

	e.persona = e.personas(d)
	reply, err := e.persona.Reply(ctx, PersonaInput{})
	if err != nil {
		return core.Observation{}, core.ToolSchema{}, core.Wrap(core.ErrEnvironmentInit, "dialogue.Reset", err)
	}
	if reply.Kind != ReplyMessage {
		return core.Observation{}, core.ToolSchema{}, core.Errorf(core.ErrEnvironmentInit, "dialogue.Reset", "expected an opening message from the persona, got %s", reply.Kind)
	}
	e.MarkReady()
	return core.Observation{Content: reply.Content}, e.schema, nil
}

func (e *Dialogue) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if err := e.BeginStep(); err != nil {
		return core.StepResult{}, err
	}
	e.turns++
	extra := ""
	if e.maxTurns > 0 && e.turns > e.maxTurns {
		extra = fmt.Sprintf("Warning: Maximum turns (%d) exceeded", e.maxTurns)
	}

	reply, err := e.persona.Reply(ctx, PersonaInput{Action: &action, ExtraInfo: extra})
	if err != nil {
		if ctx.Err() != nil {
			e.EndStep(core.StepResult{})
			return core.StepResult{}, ctx.Err()
		}
		e.logger.Warn("persona failed", "task", e.def.Ref.ID, "err", err)
		return e.EndStep(failure(err, "Environment error: "+err.Error(), rewardToolError)), nil
	}

	res := core.StepResult{Observation: core.Observation{
		Content:  reply.Content,
		Metadata: map[string]any{"reply_type": string(reply.Kind)},
	}}
	if reply.Kind == ReplyMessage && reply.Finished {
		res.Done = true
		if reply.Success {
			res.Reward = 1
		}
	}
	return e.EndStep(res), nil
}

func (e *Dialogue) Close() error {
	e.Lifecycle.Close()
	return nil
}

package agent

import (
	"context"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/protocol"
	"github.com/boristopalov/agentgym/pkg/providers"
)

// TaggedAgent drives any chat completer through the tagged text protocol.
// It accepts responses without a reasoning block; a response that breaks
// the grammar ends the episode.
type TaggedAgent struct {
	completer providers.Completer
	params    *AgentParams
}

func NewTaggedAgent(c providers.Completer, opts ...AgentOption) *TaggedAgent {
	return &TaggedAgent{completer: c, params: newAgentParams(opts)}
}

func (a *TaggedAgent) Act(ctx context.Context, history []core.Turn, schema core.ToolSchema) (core.Action, error) {
	msgs := protocol.Transcript(history, schema, a.params.SystemPrompt)
	text, err := a.completer.Complete(ctx, a.params.Model, msgs)
	if err != nil {
		return core.Action{}, core.Wrap(core.ErrAgentTransport, "tagged.Act", err)
	}
	parsed, err := protocol.Parse(text, protocol.Options{NewID: func(int) string { return a.params.NewCallID() }})
	if err != nil {
		a.params.Logger.Debug("unparsable agent response", "err", err)
		return core.Action{}, err
	}
	return parsed.Action(text), nil
}

package synth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/protocol"
	"github.com/boristopalov/agentgym/pkg/providers"
)

const (
	DefaultModel             = "deepseek-reasoner"
	DefaultCorrectiveRetries = 1
)

// ReasoningAgent asks a reasoning model for a reasoning block plus tool calls
// or a final answer in one response. A response that breaks the grammar is
// answered with a corrective instruction, up to retries times, before the
// turn fails with ErrSynthesisExhausted.
type ReasoningAgent struct {
	completer providers.Completer
	model     string
	preamble  string
	retries   int
	logger    *slog.Logger
	newID     func() string
}

func NewReasoningAgent(c providers.Completer, model, preamble string, retries int, logger *slog.Logger) *ReasoningAgent {
	if model == "" {
		model = DefaultModel
	}
	if retries < 0 {
		retries = DefaultCorrectiveRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReasoningAgent{
		completer: c,
		model:     model,
		preamble:  preamble,
		retries:   retries,
		logger:    logger,
		newID:     func() string { return "call_" + uuid.New().String()[:8] },
	}
}

func (a *ReasoningAgent) Act(ctx context.Context, history []core.Turn, schema core.ToolSchema) (core.Action, error) {
	msgs := protocol.Transcript(history, schema, a.preamble)
	opts := protocol.Options{
		RequireReasoning: true,
		NewID:            func(int) string { return a.newID() },
	}

	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		text, err := a.completer.Complete(ctx, a.model, msgs)
		if err != nil {
			return core.Action{}, core.Wrap(core.ErrAgentTransport, "synth.Act", err)
		}
		parsed, err := protocol.Parse(text, opts)
		if err == nil {
			return parsed.Action(text), nil
		}
		if !errors.Is(err, core.ErrSynthesisParse) {
			return core.Action{}, err
		}

		lastErr = err
		a.logger.Debug("reasoning response rejected", "attempt", attempt+1, "err", err)
		msgs = append(msgs,
			core.Message{Role: core.RoleAssistant, Content: text},
			core.Message{Role: core.RoleUser, Content: protocol.Corrective(err)},
		)
	}
	return core.Action{}, core.Wrap(core.ErrSynthesisExhausted, "synth.Act", lastErr)
}

// Package agent holds the core.Agent implementations the runner drives: a
// native tool-calling OpenAI agent, a tagged-protocol agent for any chat
// completer, and a scripted agent for replay and tests.
package agent

import (
	"log/slog"

	"github.com/google/uuid"
)

const defaultModel = "gpt-4o-mini"

type AgentParams struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	Logger       *slog.Logger
	// NewCallID names tool calls the model left unnamed.
	NewCallID func() string
}

type AgentOption func(*AgentParams)

func WithModel(model string) AgentOption {
	return func(p *AgentParams) {
		p.Model = model
	}
}

// WithSystemPrompt replaces the default role description sent to the model.
func WithSystemPrompt(prompt string) AgentOption {
	return func(p *AgentParams) {
		p.SystemPrompt = prompt
	}
}

func WithTemperature(t float64) AgentOption {
	return func(p *AgentParams) {
		p.Temperature = t
	}
}

func WithLogger(l *slog.Logger) AgentOption {
	return func(p *AgentParams) {
		p.Logger = l
	}
}

func WithCallIDs(f func() string) AgentOption {
	return func(p *AgentParams) {
		p.NewCallID = f
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		Model:       defaultModel,
		Temperature: 0.7,
		Logger:      slog.Default(),
		NewCallID:   func() string { return "call_" + uuid.New().String()[:8] },
	}
}

func newAgentParams(opts []AgentOption) *AgentParams {
	params := defaultAgentParams()
	for _, opt := range opts {
		opt(params)
	}
	return params
}

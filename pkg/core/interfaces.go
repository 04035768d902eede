package core

import (
	"context"
)

// Environment defines the rules and mechanics an agent interacts with.
type Environment interface {
	// Reset prepares the episode and returns the initial observation and the
	// tool schema that stays fixed for the rest of the episode. It must be
	// the first call and may be called only once.
	Reset(ctx context.Context) (Observation, ToolSchema, error)
	// Step applies one action: a single tool call, or a text answer.
	Step(ctx context.Context, action Action) (StepResult, error)
	// Close releases the episode's resources. It is safe to call more than once.
	Close() error
}

// Agent decides the next action from the conversation so far.
type Agent interface {
	Act(ctx context.Context, history []Turn, schema ToolSchema) (Action, error)
}

// Package synth turns episodes driven by a reasoning model into training
// examples: every assistant turn carries an explicit reasoning block, tool
// results are tagged with their tool name, and the message order is checked
// before an example is accepted.
package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/protocol"
	"github.com/boristopalov/agentgym/pkg/providers"
	"github.com/boristopalov/agentgym/pkg/runner"
	"github.com/boristopalov/agentgym/pkg/task"
)

// Failure is an episode that produced no training example. Turns keep the
// partial progress for diagnosis.
type Failure struct {
	Task      core.TaskRef   `json:"task"`
	EpisodeID string         `json:"episode_id,omitempty"`
	Status    core.Status    `json:"status"`
	Reason    string         `json:"reason"`
	Messages  []core.Message `json:"messages,omitempty"`
	Turns     []core.Turn    `json:"turns,omitempty"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("task %d: %s: %s", f.Task.ID, f.Status, f.Reason)
}

type settings struct {
	model          string
	preamble       string
	retries        int
	requireSuccess bool
	logger         *slog.Logger
	runnerOpts     []runner.Option
}

type Option func(*settings)

// WithModel names the reasoning model.
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithPreamble replaces the role description at the top of the system prompt.
func WithPreamble(p string) Option {
	return func(s *settings) {
		s.preamble = p
	}
}

func WithCorrectiveRetries(n int) Option {
	return func(s *settings) {
		s.retries = n
	}
}

// WithRequireSuccess rejects episodes that finished with a wrong answer.
func WithRequireSuccess(b bool) Option {
	return func(s *settings) {
		s.requireSuccess = b
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithRunnerOptions configures the runner that dispatches the model's calls.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *settings) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

type Synthesizer struct {
	runner         *runner.Runner
	preamble       string
	requireSuccess bool
	logger         *slog.Logger
}

func New(c providers.Completer, envs runner.EnvFactory, opts ...Option) *Synthesizer {
	s := settings{
		model:   DefaultModel,
		retries: DefaultCorrectiveRetries,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	agent := NewReasoningAgent(c, s.model, s.preamble, s.retries, s.logger)
	runnerOpts := append([]runner.Option{
		runner.WithName("synth:" + s.model),
		runner.WithLogger(s.logger),
	}, s.runnerOpts...)
	return &Synthesizer{
		runner:         runner.New(agent, envs, runnerOpts...),
		preamble:       s.preamble,
		requireSuccess: s.requireSuccess,
		logger:         s.logger,
	}
}

// Runner is the runner episodes are driven by.
func (s *Synthesizer) Runner() *runner.Runner {
	return s.runner
}

// Synthesize runs def with the reasoning model and assembles the result.
// Exactly one of the return values is non-nil.
func (s *Synthesizer) Synthesize(ctx context.Context, def *task.Definition) (*core.TrainingExample, *Failure) {
	tr, err := s.runner.RunEpisode(ctx, def)
	if err != nil {
		f := &Failure{Status: core.StatusEnvError, Reason: err.Error()}
		if def != nil {
			f.Task = def.Ref
		}
		return nil, f
	}
	return s.Assemble(tr)
}

// SynthesizeTrajectory re-drives the task a recorded trajectory ran, looking
// it up by task id in tasks.
func (s *Synthesizer) SynthesizeTrajectory(ctx context.Context, tr *core.Trajectory, tasks []*task.Definition) (*core.TrainingExample, *Failure) {
	for _, def := range tasks {
		if def.Ref.ID == tr.Task.ID {
			return s.Synthesize(ctx, def)
		}
	}
	return nil, &Failure{
		Task:      tr.Task,
		EpisodeID: tr.EpisodeID,
		Status:    tr.Status,
		Reason:    fmt.Sprintf("task %d not found in %s", tr.Task.ID, tr.Task.DataFile),
	}
}

// Assemble converts a sealed trajectory into a training example, or explains
// why it cannot be one.
func (s *Synthesizer) Assemble(tr *core.Trajectory) (*core.TrainingExample, *Failure) {
	fail := func(reason string) *Failure {
		f := &Failure{
			Task:      tr.Task,
			EpisodeID: tr.EpisodeID,
			Status:    tr.Status,
			Reason:    reason,
			Turns:     tr.Snapshot(),
		}
		if schema, err := SchemaOf(tr); err == nil {
			f.Messages = protocol.Transcript(f.Turns, schema, s.preamble)
		}
		return f
	}

	if tr.Status != core.StatusDone {
		reason := tr.Error
		if reason == "" {
			reason = "episode ended with status " + string(tr.Status)
		}
		return nil, fail(reason)
	}
	if s.requireSuccess && !tr.Success {
		return nil, fail("final answer was not accepted")
	}
	ex, err := ExampleFromTrajectory(tr, s.preamble)
	if err != nil {
		return nil, fail(err.Error())
	}
	return ex, nil
}

// SchemaOf recovers the tool schema tr ran with.
func SchemaOf(tr *core.Trajectory) (core.ToolSchema, error) {
	return tr.ToolSchema()
}

// ExampleFromTrajectory renders tr in the tagged training format and checks
// that every tool-calling assistant message is followed by one tool response
// per call, named after that call.
func ExampleFromTrajectory(tr *core.Trajectory, preamble string) (*core.TrainingExample, error) {
	schema, err := SchemaOf(tr)
	if err != nil {
		return nil, err
	}
	turns := tr.Snapshot()
	msgs := protocol.Transcript(turns, schema, preamble)

	calls := map[int][]string{}
	idx := 1
	for _, t := range turns {
		if t.Role == core.RoleSystem || (t.Role == core.RoleAssistant && t.IsError()) {
			continue
		}
		if t.Role == core.RoleAssistant && len(t.ToolCalls) > 0 {
			for _, c := range t.ToolCalls {
				calls[idx] = append(calls[idx], c.Name)
			}
		}
		idx++
	}

	ex := &core.TrainingExample{Messages: msgs}
	if err := ex.Validate(calls); err != nil {
		return nil, err
	}
	return ex, nil
}

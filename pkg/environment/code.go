package environment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

// Code runs agent-submitted programs in a Sandbox and scores the final
// answer against the task's expected answer.
type Code struct {
	*Lifecycle
	settings

	def    *task.Definition
	schema core.ToolSchema
}

func NewCode(def *task.Definition, opts ...Option) *Code {
	s := newSettings(opts)
	if s.sandbox == nil {
		s.sandbox = NewProcessSandbox()
	}
	return &Code{
		Lifecycle: NewLifecycle("code"),
		settings:  s,
		def:       def,
		schema: core.NewToolSchema(core.ToolDescriptor{
			Name:        "run_python_code",
			Description: "Execute Python code in a secure sandbox environment",
			Parameters: []core.Parameter{{
				Name: "code", Type: core.TypeString, Required: true,
				Description: "Python code to execute",
			}},
		}),
	}
}

func (e *Code) Reset(ctx context.Context) (core.Observation, core.ToolSchema, error) {
	if err := e.BeginReset(); err != nil {
		return core.Observation{}, core.ToolSchema{}, err
	}
	question := e.def.Prompt()
	if strings.TrimSpace(question) == "" {
		return core.Observation{}, core.ToolSchema{}, core.Errorf(core.ErrEnvironmentInit, "code.Reset", "task %d has no question", e.def.Ref.ID)
	}
	e.MarkReady()
	return core.Observation{Content: question}, e.schema, nil
}

func (e *Code) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if err := e.BeginStep(); err != nil {
		return core.StepResult{}, err
	}
	if !action.HasCalls() {
		correct := AnswersMatch(e.def.Answer, action.Text)
		res := core.StepResult{
			Observation: core.Observation{
				Content:  "Agent's final answer: " + action.Text,
				Metadata: map[string]any{"verified": correct},
			},
			Done: true,
		}
		if correct {
			res.Reward = 1
		}
		return e.EndStep(res), nil
	}

	var (
		outputs []string
		total   core.StepResult
	)
	for _, call := range action.Calls {
		res, err := e.run(ctx, call)
		if err != nil {
			e.EndStep(core.StepResult{})
			return core.StepResult{}, err
		}
		outputs = append(outputs, res.Observation.Content)
		total.Reward += res.Reward
		if kind, ok := res.Info[core.InfoErrorKind]; ok {
			total.Info = map[string]any{core.InfoErrorKind: kind}
		}
	}
	total.Observation = core.Observation{Content: strings.Join(outputs, "\n\n")}
	return e.EndStep(total), nil
}

func (e *Code) run(ctx context.Context, call core.ToolCall) (core.StepResult, error) {
	args, err := e.schema.CheckCall(call, nil)
	if err != nil {
		return failure(err, "Error: "+err.Error(), 0), nil
	}
	code, _ := args["code"].(string)
	res, err := e.sandbox.Run(ctx, code, e.codeTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return core.StepResult{}, ctx.Err()
		}
		return failure(err, "Execution error: "+err.Error(), rewardToolError), nil
	}
	e.logger.Debug("code executed", "task", e.def.Ref.ID, "exit_code", res.ExitCode, "timed_out", res.TimedOut, "duration", res.Duration)
	if res.TimedOut {
		timeout := core.Errorf(core.ErrToolExecutionTimeout, "run_python_code", "execution exceeded %s", e.codeTimeout)
		return failure(timeout, FormatExecResult(res, e.codeTimeout), rewardTimeout), nil
	}
	return core.StepResult{Observation: core.Observation{
		Content:  FormatExecResult(res, e.codeTimeout),
		Metadata: map[string]any{"exit_code": res.ExitCode},
	}}, nil
}

// FormatExecResult renders an execution for the agent. Timeouts start with
// "Execution timed out" and nonzero exits with "Exit code N" so the two
// cases never read alike.
func FormatExecResult(res ExecResult, timeout time.Duration) string {
	var parts []string
	switch {
	case res.TimedOut:
		parts = append(parts, fmt.Sprintf("Execution timed out after %s", timeout))
	case res.ExitCode != 0:
		parts = append(parts, fmt.Sprintf("Exit code %d", res.ExitCode))
	}
	if res.Stdout != "" {
		parts = append(parts, "STDOUT:\n"+res.Stdout)
	}
	if res.Stderr != "" {
		parts = append(parts, "STDERR:\n"+res.Stderr)
	}
	if !res.TimedOut {
		parts = append(parts, fmt.Sprintf("Execution time: %.4fs", res.Duration.Seconds()))
	}
	return strings.Join(parts, "\n\n")
}

func (e *Code) Close() error {
	if !e.Lifecycle.Close() {
		return nil
	}
	return e.sandbox.Close()
}

package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

const countSetup = `
makedirs("workspace")
write_file("workspace/a.txt", "RRR rr R")
write_file("workspace/b.txt", "no capital r here")
write_file("workspace/c.txt", "RaR")
`

const countVerify = `success = exists("result.txt") and read_file("result.txt").strip() == "6"`

func shell(id, command string) core.ToolCall {
	return core.NewToolCall(id, "execute_shell", map[string]any{"command": command})
}

func newCountTask(allowed []string) *task.Definition {
	return &task.Definition{
		Ref:             core.TaskRef{DataFile: "tasks.json", ID: 0},
		Format:          task.FormatLegacy,
		Question:        "count letter R in workspace/*.txt, write to result.txt",
		Setup:           countSetup,
		Verify:          countVerify,
		AllowedCommands: allowed,
	}
}

func resetCommand(t *testing.T, def *task.Definition, opts ...Option) *Command {
	t.Helper()
	env := NewCommand(def, append([]Option{WithTempDir(t.TempDir())}, opts...)...)
	t.Cleanup(func() { env.Close() })
	obs, schema, err := env.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if obs.Content != def.Question {
		t.Errorf("initial observation = %q", obs.Content)
	}
	if len(schema.Tools) != 8 {
		t.Errorf("got %d tools", len(schema.Tools))
	}
	return env
}

func TestCommandCountScenario(t *testing.T) {
	ctx := context.Background()
	env := resetCommand(t, newCountTask(nil))

	res, err := env.Step(ctx, core.CallsAction(shell("c1", "cat workspace/*.txt | tr -cd R | wc -c | tr -d ' ' > result.txt")))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Done || res.Reward != 0 {
		t.Errorf("tool step: done=%v reward=%v", res.Done, res.Reward)
	}
	content, err := os.ReadFile(filepath.Join(env.Workspace(), "result.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := strings.TrimSpace(string(content)); got != "6" {
		t.Fatalf("result.txt = %q, want 6", got)
	}

	res, err = env.Step(ctx, core.TextAction("I wrote 6 to result.txt"))
	if err != nil {
		t.Fatalf("final Step: %v", err)
	}
	if !res.Done || res.Reward != 1 {
		t.Errorf("final step: done=%v reward=%v obs=%q", res.Done, res.Reward, res.Observation.Content)
	}

	if _, err := env.Step(ctx, core.TextAction("again")); !errors.Is(err, core.ErrEpisodeDone) {
		t.Errorf("step after done: %v", err)
	}
	if env.Steps() != 2 || env.TotalReward() != 1 {
		t.Errorf("accounting: steps=%d reward=%v", env.Steps(), env.TotalReward())
	}

	ws := env.Workspace()
	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(ws); !os.IsNotExist(err) {
		t.Errorf("workspace not removed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCommandAllowList(t *testing.T) {
	ctx := context.Background()
	env := resetCommand(t, newCountTask([]string{"grep", "awk", "cat", "echo"}))

	res, err := env.Step(ctx, core.CallsAction(shell("c1", "find . -name '*.txt' > result.txt")))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Info[core.InfoErrorKind] != "tool_call_validation" {
		t.Errorf("error kind = %v", res.Info[core.InfoErrorKind])
	}
	if !strings.Contains(res.Observation.Content, "not allowed") {
		t.Errorf("observation = %q", res.Observation.Content)
	}
	if _, err := os.Stat(filepath.Join(env.Workspace(), "result.txt")); !os.IsNotExist(err) {
		t.Fatal("disallowed command reached the shell")
	}

	res, err = env.Step(ctx, core.CallsAction(shell("c2", "cat workspace/*.txt | grep -o R | grep -c R > result.txt")))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := res.Info[core.InfoErrorKind]; ok {
		t.Fatalf("allowed pipeline rejected: %q", res.Observation.Content)
	}

	res, err = env.Step(ctx, core.TextAction("6"))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Done || res.Reward != 1 {
		t.Errorf("done=%v reward=%v", res.Done, res.Reward)
	}
}

func TestCommandTools(t *testing.T) {
	ctx := context.Background()
	env := resetCommand(t, newCountTask(nil), WithShellTimeout(200*time.Millisecond))

	step := func(call core.ToolCall) core.StepResult {
		t.Helper()
		res, err := env.Step(ctx, core.CallsAction(call))
		if err != nil {
			t.Fatalf("Step(%s): %v", call.Name, err)
		}
		return res
	}

	t.Run("file round trip", func(t *testing.T) {
		step(core.NewToolCall("w", "write_file", map[string]any{"file_path": "out/x.txt", "content": "hello"}))
		step(core.NewToolCall("cp", "copy_file", map[string]any{"source_path": "out/x.txt", "dest_path": "y.txt"}))
		step(core.NewToolCall("mv", "move_file", map[string]any{"source_path": "y.txt", "dest_path": "out"}))
		if got := step(core.NewToolCall("r", "read_file", map[string]any{"file_path": "out/y.txt"})); got.Observation.Content != "hello" {
			t.Errorf("read_file = %q", got.Observation.Content)
		}
		ls := step(core.NewToolCall("ls", "list_directory", map[string]any{"dir_path": "out"}))
		if ls.Observation.Content != "x.txt\ny.txt" {
			t.Errorf("list_directory = %q", ls.Observation.Content)
		}
	})

	t.Run("escape is an execution error", func(t *testing.T) {
		res := step(core.NewToolCall("r", "read_file", map[string]any{"file_path": "../../etc/passwd"}))
		if res.Reward != rewardToolError || !strings.HasPrefix(res.Observation.Content, "Execution error") {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("shell timeout", func(t *testing.T) {
		res := step(shell("s", "sleep 5"))
		if res.Info[core.InfoErrorKind] != "tool_execution_timeout" || res.Reward != rewardTimeout {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("nonzero exit is not a timeout", func(t *testing.T) {
		res := step(shell("s", "echo boom >&2; exit 4"))
		if _, ok := res.Info[core.InfoErrorKind]; ok {
			t.Errorf("unexpected error kind: %+v", res)
		}
		if res.Observation.Content != "Command failed with exit code 4: boom" {
			t.Errorf("observation = %q", res.Observation.Content)
		}
	})
}

func TestCommandSetupFailure(t *testing.T) {
	def := newCountTask(nil)
	def.Setup = `write_file("../outside.txt", "x")`
	env := NewCommand(def, WithTempDir(t.TempDir()))
	defer env.Close()
	if _, _, err := env.Reset(context.Background()); !errors.Is(err, core.ErrEnvironmentInit) {
		t.Fatalf("expected ErrEnvironmentInit, got %v", err)
	}
	if env.Workspace() != "" {
		t.Error("workspace should be removed after failed setup")
	}
}

package environment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/script"
	"github.com/boristopalov/agentgym/pkg/task"
)

type toolHandler func(ctx context.Context, args map[string]any) (core.StepResult, error)

// Command is a shell workspace environment. Each episode gets a fresh
// temporary directory populated by the task's setup scripts; the final
// answer is checked by the task's verification script over that directory.
type Command struct {
	*Lifecycle
	settings

	def       *task.Definition
	workspace string
	schema    core.ToolSchema
	handlers  map[string]toolHandler
	host      *script.Host
}

func NewCommand(def *task.Definition, opts ...Option) *Command {
	e := &Command{
		Lifecycle: NewLifecycle("command"),
		settings:  newSettings(opts),
		def:       def,
		schema:    commandSchema(),
	}
	e.handlers = map[string]toolHandler{
		"read_file":        e.readFile,
		"write_file":       e.writeFile,
		"list_directory":   e.listDirectory,
		"execute_shell":    e.executeShell,
		"create_directory": e.createDirectory,
		"delete_file":      e.deleteFile,
		"move_file":        e.moveFile,
		"copy_file":        e.copyFile,
	}
	return e
}

func commandSchema() core.ToolSchema {
	path := func(name, desc string, required bool) core.Parameter {
		return core.Parameter{Name: name, Type: core.TypeString, Description: desc, Required: required}
	}
	return core.NewToolSchema(
		core.ToolDescriptor{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters:  []core.Parameter{path("file_path", "Path to the file to read", true)},
		},
		core.ToolDescriptor{
			Name:        "write_file",
			Description: "Write content to a file",
			Parameters: []core.Parameter{
				path("file_path", "Path to the file to write", true),
				path("content", "Content to write to the file", true),
			},
		},
		core.ToolDescriptor{
			Name:        "list_directory",
			Description: "List files and directories in a given path",
			Parameters: []core.Parameter{{
				Name: "dir_path", Type: core.TypeString, Default: ".",
				Description: "Path to the directory to list (default: current directory)",
			}},
		},
		core.ToolDescriptor{
			Name:        "execute_shell",
			Description: "Execute a shell command",
			Parameters:  []core.Parameter{path("command", "Shell command to execute", true)},
			CommandArg:  "command",
		},
		core.ToolDescriptor{
			Name:        "create_directory",
			Description: "Create a new directory",
			Parameters:  []core.Parameter{path("dir_path", "Path of the directory to create", true)},
		},
		core.ToolDescriptor{
			Name:        "delete_file",
			Description: "Delete a file",
			Parameters:  []core.Parameter{path("file_path", "Path to the file to delete", true)},
		},
		core.ToolDescriptor{
			Name:        "move_file",
			Description: "Move or rename a file",
			Parameters: []core.Parameter{
				path("source_path", "Source file path", true),
				path("dest_path", "Destination file path", true),
			},
		},
		core.ToolDescriptor{
			Name:        "copy_file",
			Description: "Copy a file to another location",
			Parameters: []core.Parameter{
				path("source_path", "Source file path", true),
				path("dest_path", "Destination file path", true),
			},
		},
	)
}

// Workspace is the episode directory, empty before Reset and after Close.
func (e *Command) Workspace() string {
	return e.workspace
}

func (e *Command) Reset(ctx context.Context) (core.Observation, core.ToolSchema, error) {
	if err := e.BeginReset(); err != nil {
		return core.Observation{}, core.ToolSchema{}, err
	}
	ws, err := os.MkdirTemp(e.tempDir, "agentgym_")
	if err != nil {
		return core.Observation{}, core.ToolSchema{}, core.Wrap(core.ErrEnvironmentInit, "command.Reset", err)
	}
	e.workspace = ws
	e.host = script.NewHost(ws,
		script.WithMaxSteps(e.maxScriptSteps),
		script.WithLogger(e.logger),
		script.WithShell(e.scriptShell),
	)

	for _, s := range []struct{ name, src string }{
		{"setup", e.def.Setup},
		{"noise_setup", e.def.NoiseSetup},
	} {
		if err := e.host.Exec(ctx, s.name, s.src); err != nil {
			os.RemoveAll(ws)
			e.workspace = ""
			return core.Observation{}, core.ToolSchema{}, core.Wrap(core.ErrEnvironmentInit, "command.Reset", err)
		}
	}

	e.logger.Debug("workspace ready",
		"task", e.def.Ref.ID,
		"workspace", ws,
		"format", e.def.Format,
		"allowed_commands", e.def.AllowedCommands,
	)
	e.MarkReady()
	return core.Observation{
		Content:  e.def.Prompt(),
		Metadata: map[string]any{"workspace": ws, "format": string(e.def.Format)},
	}, e.schema, nil
}

func (e *Command) scriptShell(ctx context.Context, dir, line string) (string, int, error) {
	res, err := RunShell(ctx, dir, line, e.shellTimeout)
	if err != nil {
		return "", 0, err
	}
	if res.TimedOut {
		return "", 0, core.Errorf(core.ErrToolExecutionTimeout, "run", "command timed out after %s", e.shellTimeout)
	}
	return res.Stdout + res.Stderr, res.ExitCode, nil
}

// Step runs the action's tool calls in order, or verifies a text answer.
func (e *Command) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if err := e.BeginStep(); err != nil {
		return core.StepResult{}, err
	}
	if !action.HasCalls() {
		return e.EndStep(e.finalAnswer(ctx, action.Text)), nil
	}

	var (
		outputs []string
		total   core.StepResult
	)
	for _, call := range action.Calls {
		res := e.dispatch(ctx, call)
		if err := ctx.Err(); err != nil {
			e.EndStep(core.StepResult{})
			return core.StepResult{}, err
		}
		outputs = append(outputs, res.Observation.Content)
		total.Reward += res.Reward
		if kind, ok := res.Info[core.InfoErrorKind]; ok {
			total.Info = map[string]any{core.InfoErrorKind: kind}
		}
	}
	total.Observation = core.Observation{Content: strings.Join(outputs, "\n")}
	return e.EndStep(total), nil
}

func (e *Command) dispatch(ctx context.Context, call core.ToolCall) core.StepResult {
	args, err := e.schema.CheckCall(call, e.def.AllowedCommands)
	if err != nil {
		return failure(err, "Error: "+err.Error(), 0)
	}
	res, err := e.handlers[call.Name](ctx, args)
	if err != nil {
		return failure(err, "Execution error: "+err.Error(), rewardToolError)
	}
	return res
}

func failure(err error, content string, reward float64) core.StepResult {
	return core.StepResult{
		Observation: core.Observation{Content: content},
		Reward:      reward,
		Info:        map[string]any{core.InfoErrorKind: core.KindName(err)},
	}
}

func (e *Command) finalAnswer(ctx context.Context, answer string) core.StepResult {
	shown := answer
	if strings.TrimSpace(shown) == "" {
		shown = "No answer provided"
	}
	res := core.StepResult{
		Observation: core.Observation{Content: "Agent's final answer: " + shown},
		Done:        true,
	}
	if strings.TrimSpace(e.def.Verify) == "" {
		e.logger.Warn("task has no verification script", "task", e.def.Ref.ID)
		res.Observation.Metadata = map[string]any{"verified": false}
		return res
	}
	ok, err := e.host.Verify(ctx, "verify", e.def.Verify, answer)
	if err != nil {
		e.logger.Warn("verification failed", "task", e.def.Ref.ID, "err", err)
	}
	if ok {
		res.Reward = 1
	}
	res.Observation.Metadata = map[string]any{"verified": ok}
	return res
}

func (e *Command) Close() error {
	if !e.Lifecycle.Close() || e.workspace == "" {
		return nil
	}
	err := os.RemoveAll(e.workspace)
	e.workspace = ""
	return err
}

func (e *Command) resolve(args map[string]any, key, fallback string) (string, string, error) {
	p, _ := args[key].(string)
	if p == "" {
		p = fallback
	}
	if p == "" {
		return "", "", fmt.Errorf("%s is empty", key)
	}
	full, err := script.Resolve(e.workspace, p)
	return p, full, err
}

func observe(content string) (core.StepResult, error) {
	return core.StepResult{Observation: core.Observation{Content: content}}, nil
}

func (e *Command) readFile(_ context.Context, args map[string]any) (core.StepResult, error) {
	_, full, err := e.resolve(args, "file_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return core.StepResult{}, fmt.Errorf("reading file: %w", err)
	}
	return observe(string(content))
}

func (e *Command) writeFile(_ context.Context, args map[string]any) (core.StepResult, error) {
	p, full, err := e.resolve(args, "file_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	content, _ := args["content"].(string)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return core.StepResult{}, fmt.Errorf("writing file: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return core.StepResult{}, fmt.Errorf("writing file: %w", err)
	}
	return observe(fmt.Sprintf("File %s written successfully", p))
}

func (e *Command) listDirectory(_ context.Context, args map[string]any) (core.StepResult, error) {
	_, full, err := e.resolve(args, "dir_path", ".")
	if err != nil {
		return core.StepResult{}, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return core.StepResult{}, fmt.Errorf("listing directory: %w", err)
	}
	if len(entries) == 0 {
		return observe("Directory is empty")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return observe(strings.Join(names, "\n"))
}

func (e *Command) executeShell(ctx context.Context, args map[string]any) (core.StepResult, error) {
	line, _ := args["command"].(string)
	res, err := RunShell(ctx, e.workspace, line, e.shellTimeout)
	if err != nil {
		return core.StepResult{}, err
	}
	e.logger.Debug("shell", "task", e.def.Ref.ID, "command", line, "exit_code", res.ExitCode, "duration", res.Duration)
	switch {
	case res.TimedOut:
		timeout := core.Errorf(core.ErrToolExecutionTimeout, "execute_shell", "command timed out after %s", e.shellTimeout)
		return failure(timeout, fmt.Sprintf("Command execution timed out after %s", e.shellTimeout), rewardTimeout), nil
	case res.ExitCode != 0:
		return observe(fmt.Sprintf("Command failed with exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		return observe(out)
	}
	return observe("Command executed successfully")
}

func (e *Command) createDirectory(_ context.Context, args map[string]any) (core.StepResult, error) {
	p, full, err := e.resolve(args, "dir_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return core.StepResult{}, fmt.Errorf("creating directory: %w", err)
	}
	return observe(fmt.Sprintf("Directory %s created successfully", p))
}

func (e *Command) deleteFile(_ context.Context, args map[string]any) (core.StepResult, error) {
	p, full, err := e.resolve(args, "file_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	if err := os.Remove(full); err != nil {
		return core.StepResult{}, fmt.Errorf("deleting file: %w", err)
	}
	return observe(fmt.Sprintf("File %s deleted successfully", p))
}

func (e *Command) moveFile(_ context.Context, args map[string]any) (core.StepResult, error) {
	src, srcFull, err := e.resolve(args, "source_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	dst, dstFull, err := e.resolve(args, "dest_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	if err := os.Rename(srcFull, intoDir(srcFull, dstFull)); err != nil {
		return core.StepResult{}, fmt.Errorf("moving file: %w", err)
	}
	return observe(fmt.Sprintf("File moved from %s to %s", src, dst))
}

func (e *Command) copyFile(_ context.Context, args map[string]any) (core.StepResult, error) {
	src, srcFull, err := e.resolve(args, "source_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	dst, dstFull, err := e.resolve(args, "dest_path", "")
	if err != nil {
		return core.StepResult{}, err
	}
	if err := copyFile(srcFull, intoDir(srcFull, dstFull)); err != nil {
		return core.StepResult{}, fmt.Errorf("copying file: %w", err)
	}
	return observe(fmt.Sprintf("File copied from %s to %s", src, dst))
}

// intoDir targets dst/<base of src> when dst is an existing directory.
func intoDir(src, dst string) string {
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return filepath.Join(dst, filepath.Base(src))
	}
	return dst
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

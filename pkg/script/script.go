// Package script runs task setup and verification scripts. Scripts are
// Starlark programs confined to one workspace directory.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Shell runs a command line in dir and reports its combined output.
type Shell func(ctx context.Context, dir, line string) (output string, exitCode int, err error)

type Host struct {
	root     string
	maxSteps uint64
	shell    Shell
	logger   *slog.Logger
}

type Option func(*Host)

// WithMaxSteps bounds the Starlark execution steps of a single script.
func WithMaxSteps(n uint64) Option {
	return func(h *Host) {
		h.maxSteps = n
	}
}

// WithShell exposes run(cmd) to scripts.
func WithShell(s Shell) Option {
	return func(h *Host) {
		h.shell = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

func NewHost(root string, opts ...Option) *Host {
	h := &Host{
		root:     root,
		maxSteps: 10_000_000,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Exec runs a setup script. An empty script is a no-op.
func (h *Host) Exec(ctx context.Context, name, src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	_, err := h.run(ctx, name, src, nil)
	return err
}

// Verify runs a verification script with `answer` predeclared and reports
// the truth of the global `success` it must assign.
func (h *Host) Verify(ctx context.Context, name, src, answer string) (bool, error) {
	globals, err := h.run(ctx, name, src, starlark.StringDict{
		"answer": starlark.String(answer),
	})
	if err != nil {
		return false, err
	}
	v, ok := globals["success"]
	if !ok {
		return false, fmt.Errorf("%s: script did not assign success", name)
	}
	return bool(v.Truth()), nil
}

func (h *Host) run(ctx context.Context, name, src string, extra starlark.StringDict) (starlark.StringDict, error) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			h.logger.Debug("script print", "script", name, "msg", msg)
		},
	}
	thread.SetMaxExecutionSteps(h.maxSteps)
	thread.SetLocal("ctx", ctx)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	predeclared := h.builtins()
	for k, v := range extra {
		predeclared[k] = v
	}
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, src, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("%s: %s", name, evalErr.Backtrace())
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return globals, nil
}

func (h *Host) builtins() starlark.StringDict {
	return starlark.StringDict{
		"workspace":   starlark.String(h.root),
		"read_file":   starlark.NewBuiltin("read_file", h.readFile),
		"write_file":  starlark.NewBuiltin("write_file", h.writeFile),
		"append_file": starlark.NewBuiltin("append_file", h.appendFile),
		"makedirs":    starlark.NewBuiltin("makedirs", h.makedirs),
		"exists":      starlark.NewBuiltin("exists", h.exists),
		"listdir":     starlark.NewBuiltin("listdir", h.listdir),
		"glob":        starlark.NewBuiltin("glob", h.glob),
		"remove":      starlark.NewBuiltin("remove", h.remove),
		"run":         starlark.NewBuiltin("run", h.runShell),
	}
}

func (h *Host) readFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return starlark.String(content), nil
}

func (h *Host) writeFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return h.write(b, args, kwargs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

func (h *Host) appendFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return h.write(b, args, kwargs, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func (h *Host) write(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, flag int) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, flag, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return nil, err
	}
	return starlark.None, f.Close()
}

func (h *Host) makedirs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	return starlark.None, os.MkdirAll(full, 0o755)
}

func (h *Host) exists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(full)
	return starlark.Bool(err == nil), nil
}

func (h *Host) listdir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	path := "."
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path?", &path); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	names := make([]starlark.Value, 0, len(entries))
	for _, e := range entries {
		names = append(names, starlark.String(e.Name()))
	}
	return starlark.NewList(names), nil
}

func (h *Host) glob(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, pattern)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	out := make([]starlark.Value, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(h.root, m)
		if err != nil {
			return nil, err
		}
		out = append(out, starlark.String(filepath.ToSlash(rel)))
	}
	return starlark.NewList(out), nil
}

func (h *Host) remove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	full, err := Resolve(h.root, path)
	if err != nil {
		return nil, err
	}
	if full == filepath.Clean(h.root) {
		return nil, fmt.Errorf("%s: refusing to remove the workspace root", b.Name())
	}
	return starlark.None, os.RemoveAll(full)
}

// runShell returns a (output, code) tuple.
func (h *Host) runShell(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var line string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cmd", &line); err != nil {
		return nil, err
	}
	if h.shell == nil {
		return nil, fmt.Errorf("%s: no shell available", b.Name())
	}
	ctx, _ := thread.Local("ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	out, code, err := h.shell(ctx, h.root, line)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{starlark.String(out), starlark.MakeInt(code)}, nil
}

// Resolve maps a workspace-relative or absolute path to an absolute path
// inside root.
func Resolve(root, path string) (string, error) {
	root = filepath.Clean(root)
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return full, nil
}

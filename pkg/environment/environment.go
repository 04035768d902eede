// Package environment implements the task environments an agent is run
// against: a shell workspace, a code sandbox and a simulated dialogue.
package environment

import (
	"log/slog"
	"time"
)

const (
	DefaultShellTimeout = 25 * time.Second
	DefaultCodeTimeout  = 30 * time.Second

	rewardTimeout   = -0.5
	rewardToolError = -0.1
)

type settings struct {
	logger         *slog.Logger
	shellTimeout   time.Duration
	codeTimeout    time.Duration
	tempDir        string
	maxScriptSteps uint64
	sandbox        Sandbox
}

type Option func(*settings)

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithShellTimeout bounds each execute_shell call.
func WithShellTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.shellTimeout = d
	}
}

// WithCodeTimeout bounds each run_python_code call.
func WithCodeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.codeTimeout = d
	}
}

// WithTempDir sets the parent directory of episode workspaces.
func WithTempDir(dir string) Option {
	return func(s *settings) {
		s.tempDir = dir
	}
}

func WithMaxScriptSteps(n uint64) Option {
	return func(s *settings) {
		s.maxScriptSteps = n
	}
}

func WithSandbox(sb Sandbox) Option {
	return func(s *settings) {
		s.sandbox = sb
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:         slog.Default(),
		shellTimeout:   DefaultShellTimeout,
		codeTimeout:    DefaultCodeTimeout,
		maxScriptSteps: 10_000_000,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Package runner drives episodes: it connects one agent to one environment,
// records every turn in a trajectory, and enforces the turn, retry and
// timeout budgets. Batch runs many episodes on a bounded worker pool.
package runner

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/environment"
	"github.com/boristopalov/agentgym/pkg/messaging"
	"github.com/boristopalov/agentgym/pkg/task"
)

const (
	DefaultMaxTurns     = 20
	DefaultAgentRetries = 2
	DefaultAgentTimeout = 2 * time.Minute
	DefaultStepTimeout  = time.Minute
)

var ErrNilTask = errors.New("runner: nil task")

// EnvFactory builds a fresh environment for every episode.
// *environment.Factory implements it.
type EnvFactory interface {
	New(def *task.Definition) (core.Environment, error)
	KindFor(def *task.Definition) environment.Kind
}

type Runner struct {
	agent core.Agent
	envs  EnvFactory

	name         string
	maxTurns     int
	agentRetries int
	agentTimeout time.Duration
	stepTimeout  time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger
	events       messaging.Publisher
	now          func() time.Time
	newID        func() string
}

type Option func(*Runner)

// WithName labels trajectories with the agent configuration that produced them.
func WithName(name string) Option {
	return func(r *Runner) {
		r.name = name
	}
}

// WithMaxTurns bounds the number of agent turns per episode.
func WithMaxTurns(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

// WithAgentRetries sets how many times a transport failure of Agent.Act is
// retried with the same history.
func WithAgentRetries(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.agentRetries = n
		}
	}
}

func WithAgentTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.agentTimeout = d
		}
	}
}

func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stepTimeout = d
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(r *Runner) {
		r.retryBackoff = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithEvents publishes progress events for every episode.
func WithEvents(p messaging.Publisher) Option {
	return func(r *Runner) {
		r.events = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func WithEpisodeIDs(newID func() string) Option {
	return func(r *Runner) {
		r.newID = newID
	}
}

func New(agent core.Agent, envs EnvFactory, opts ...Option) *Runner {
	r := &Runner{
		agent:        agent,
		envs:         envs,
		name:         "agent",
		maxTurns:     DefaultMaxTurns,
		agentRetries: DefaultAgentRetries,
		agentTimeout: DefaultAgentTimeout,
		stepTimeout:  DefaultStepTimeout,
		retryBackoff: time.Second,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) MaxTurns() int {
	return r.maxTurns
}

func (r *Runner) publish(ev messaging.Event) {
	if r.events == nil {
		return
	}
	ev.Timestamp = r.now()
	if err := r.events.Publish(ev); err != nil {
		r.logger.Debug("progress event dropped", "type", ev.Type, "err", err)
	}
}

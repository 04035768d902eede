package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the gym unwraps to exactly one of these.
var (
	// ErrEnvironmentInit is fatal to a single episode.
	ErrEnvironmentInit = errors.New("environment init error")
	// ErrAgentTransport is retried by the runner within its budget.
	ErrAgentTransport = errors.New("agent transport error")
	// ErrToolCallValidation is surfaced to the agent as a failed observation.
	ErrToolCallValidation = errors.New("tool call validation error")
	// ErrArgumentParse is a validation failure caused by arguments that are not a JSON object.
	ErrArgumentParse = fmt.Errorf("%w: arguments parse error", ErrToolCallValidation)
	// ErrToolExecutionTimeout is surfaced as a timeout observation.
	ErrToolExecutionTimeout = errors.New("tool execution timeout")
	// ErrSynthesisParse triggers a corrective re-request.
	ErrSynthesisParse = errors.New("synthesis parse error")
	// ErrSynthesisExhausted means corrective re-requests ran out.
	ErrSynthesisExhausted = errors.New("synthesis exhausted")
	// ErrEpisodeDone is returned by Step after the environment reported done.
	ErrEpisodeDone = errors.New("episode already done")
)

// Error carries an error kind plus the operation that produced it.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the first known kind err unwraps to, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrArgumentParse,
		ErrToolCallValidation,
		ErrEnvironmentInit,
		ErrAgentTransport,
		ErrToolExecutionTimeout,
		ErrSynthesisExhausted,
		ErrSynthesisParse,
		ErrEpisodeDone,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kindNames = map[error]string{
	ErrArgumentParse:        "argument_parse",
	ErrToolCallValidation:   "tool_call_validation",
	ErrEnvironmentInit:      "environment_init",
	ErrAgentTransport:       "agent_transport",
	ErrToolExecutionTimeout: "tool_execution_timeout",
	ErrSynthesisExhausted:   "synthesis_exhausted",
	ErrSynthesisParse:       "synthesis_parse",
	ErrEpisodeDone:          "episode_done",
}

// KindName is the stable identifier recorded in trajectories for err's kind.
// Unknown errors map to "error".
func KindName(err error) string {
	if name, ok := kindNames[KindOf(err)]; ok {
		return name
	}
	return "error"
}

// InfoErrorKind is the StepResult.Info key an environment sets when a step
// completed but the tool itself failed.
const InfoErrorKind = "error_kind"

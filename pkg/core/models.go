package core

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request to invoke one tool.
// Arguments holds the parsed object; RawArguments keeps the wire text so
// that parse failures can be re-derived from a stored record.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments"`
}

// NewToolCall builds a call from already structured arguments.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil || args == nil {
		raw = []byte("{}")
	}
	return ToolCall{ID: id, Name: name, Arguments: args, RawArguments: string(raw)}
}

// ParseToolCall builds a call from string-encoded arguments. An unparsable
// payload still yields a call; ParseArguments reports the error later.
func ParseToolCall(id, name, rawArgs string) ToolCall {
	call := ToolCall{ID: id, Name: name, RawArguments: rawArgs}
	if args, err := call.ParseArguments(); err == nil {
		call.Arguments = args
	}
	return call
}

// ParseArguments decodes RawArguments into an object.
func (c ToolCall) ParseArguments() (map[string]any, error) {
	if c.RawArguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.RawArguments), &args); err != nil {
		return nil, Wrap(ErrArgumentParse, c.Name, err)
	}
	if args == nil {
		return nil, Errorf(ErrArgumentParse, c.Name, "arguments must be a JSON object, got %s", c.RawArguments)
	}
	return args, nil
}

type ActionKind string

const (
	ActionText      ActionKind = "text"
	ActionToolCalls ActionKind = "tool_calls"
)

// Action is what an agent produces for one turn.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Text  string     `json:"text,omitempty"`
	Calls []ToolCall `json:"calls,omitempty"`

	// Set by reasoning agents only.
	Reasoning string `json:"reasoning,omitempty"`
	Effort    Effort `json:"effort,omitempty"`

	// Raw is the unparsed model output, kept for replay.
	Raw string `json:"raw,omitempty"`
}

func TextAction(text string) Action {
	return Action{Kind: ActionText, Text: text}
}

func CallsAction(calls ...ToolCall) Action {
	return Action{Kind: ActionToolCalls, Calls: calls}
}

// HasCalls reports whether the action carries at least one tool call.
func (a Action) HasCalls() bool {
	return a.Kind == ActionToolCalls && len(a.Calls) > 0
}

type Effort string

const (
	EffortMinimal   Effort = "minimal"
	EffortModerate  Effort = "moderate"
	EffortExtensive Effort = "extensive"
)

type Observation struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StepResult is the outcome of a single Environment.Step.
type StepResult struct {
	Observation Observation    `json:"observation"`
	Reward      float64        `json:"reward"`
	Done        bool           `json:"done"`
	Info        map[string]any `json:"info,omitempty"`
}

// Turn is one role-tagged entry of a trajectory.
type Turn struct {
	Index      int            `json:"index"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Effort     Effort         `json:"effort,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Reward     float64        `json:"reward,omitempty"`
	Done       bool           `json:"done,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IsError reports whether the turn records a failure rather than content.
func (t Turn) IsError() bool {
	return t.Error != ""
}

// Message is the canonical role/content pair of a training example.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

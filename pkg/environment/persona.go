package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/memory"
	"github.com/boristopalov/agentgym/pkg/providers"
	"github.com/boristopalov/agentgym/pkg/task"
)

type ReplyKind string

const (
	ReplyMessage      ReplyKind = "nlp"
	ReplyToolResponse ReplyKind = "tool_response"
)

// PersonaReply is the simulated user's (or simulated tool's) next output.
type PersonaReply struct {
	Kind     ReplyKind `json:"type"`
	Content  string    `json:"content"`
	Finished bool      `json:"finished"`
	Success  bool      `json:"success"`
}

// PersonaInput is what the agent just did. The opening call has no action.
type PersonaInput struct {
	Action    *core.Action
	ExtraInfo string
}

// Persona plays the user side of a dialogue task. A persona instance
// belongs to exactly one episode.
type Persona interface {
	Reply(ctx context.Context, in PersonaInput) (PersonaReply, error)
}

// PersonaFactory builds the persona of one episode.
type PersonaFactory func(d *task.Dialogue) Persona

// ScriptedPersona walks the story stages in order. Each agent message
// advances one stage; the dialogue finishes successfully once the stages
// run out or the agent says one of the terminal intents.
type ScriptedPersona struct {
	d     *task.Dialogue
	stage int
}

func NewScriptedPersona(d *task.Dialogue) Persona {
	return &ScriptedPersona{d: d}
}

func (p *ScriptedPersona) Reply(_ context.Context, in PersonaInput) (PersonaReply, error) {
	if in.Action == nil {
		if len(p.d.Stages) == 0 {
			return PersonaReply{Kind: ReplyMessage, Content: p.d.Persona}, nil
		}
		p.stage = 1
		return PersonaReply{Kind: ReplyMessage, Content: p.d.Stages[0]}, nil
	}

	if in.Action.HasCalls() {
		var parts []string
		for _, c := range in.Action.Calls {
			parts = append(parts, fmt.Sprintf(`{"tool": %q, "status": "ok", "arguments": %s}`, c.Name, c.RawArguments))
		}
		return PersonaReply{Kind: ReplyToolResponse, Content: strings.Join(parts, "\n")}, nil
	}

	text := strings.ToLower(in.Action.Text)
	for _, intent := range p.d.TerminalIntents {
		if intent != "" && strings.Contains(text, strings.ToLower(intent)) {
			return PersonaReply{Kind: ReplyMessage, Content: "Thanks, that is all I needed.", Finished: true, Success: true}, nil
		}
	}
	if p.stage >= len(p.d.Stages) {
		return PersonaReply{Kind: ReplyMessage, Content: "Thanks, that is all I needed.", Finished: true, Success: true}, nil
	}
	next := p.d.Stages[p.stage]
	p.stage++
	return PersonaReply{Kind: ReplyMessage, Content: next}, nil
}

const personaSystemPrompt = `You simulate both a user and the tools of a customer-facing environment in order to evaluate an AI agent.
You receive a <query> describing the environment, the available tools, the story stages the user moves through, the user persona,
the interaction history and the agent's latest input.
- When the agent sends a message, answer as the user, staying in persona and following the story stages in order.
- When the agent calls tools, answer as the tool with a realistic result consistent with the story.
- Set "finished" once the story is complete or the user would leave; set "success" if the agent achieved the user's goals.
Reply with exactly one block:
<output>{"type": "nlp" | "tool_response", "content": "...", "finished": false, "success": false}</output>`

// ModelPersona delegates the user side to a language model.
type ModelPersona struct {
	d          *task.Dialogue
	completer  providers.Completer
	model      string
	history    *memory.Memory[string]
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

type ModelPersonaOption func(*ModelPersona)

func WithPersonaRetries(n int, backoff time.Duration) ModelPersonaOption {
	return func(p *ModelPersona) {
		p.maxRetries = n
		p.backoff = backoff
	}
}

func WithPersonaHistory(capacity int) ModelPersonaOption {
	return func(p *ModelPersona) {
		p.history = memory.NewMemory[string](capacity)
	}
}

func WithPersonaLogger(l *slog.Logger) ModelPersonaOption {
	return func(p *ModelPersona) {
		p.logger = l
	}
}

// ModelPersonas returns a factory producing a fresh ModelPersona per episode.
func ModelPersonas(c providers.Completer, model string, opts ...ModelPersonaOption) PersonaFactory {
	return func(d *task.Dialogue) Persona {
		p := &ModelPersona{
			d:          d,
			completer:  c,
			model:      model,
			history:    memory.NewMemory[string](200),
			maxRetries: 3,
			backoff:    time.Second,
			logger:     slog.Default(),
		}
		for _, opt := range opts {
			opt(p)
		}
		return p
	}
}

func (p *ModelPersona) Reply(ctx context.Context, in PersonaInput) (PersonaReply, error) {
	input := ""
	if in.Action != nil {
		input = FormatAgentInput(*in.Action)
		p.history.Store("Agent: " + input)
	}
	query := p.buildQuery(input, in.ExtraInfo)
	messages := []core.Message{
		{Role: core.RoleSystem, Content: personaSystemPrompt},
		{Role: core.RoleUser, Content: query},
	}

	var lastErr error
	for attempt := 0; attempt < max(1, p.maxRetries); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff << (attempt - 1)):
			case <-ctx.Done():
				return PersonaReply{}, ctx.Err()
			}
		}
		text, err := p.completer.Complete(ctx, p.model, messages)
		if err != nil {
			lastErr = err
			p.logger.Warn("persona request failed", "attempt", attempt+1, "err", err)
			continue
		}
		reply, err := ParsePersonaOutput(text)
		if err != nil {
			lastErr = err
			p.logger.Warn("persona output rejected", "attempt", attempt+1, "err", err)
			continue
		}
		switch reply.Kind {
		case ReplyMessage:
			p.history.Store("Environment: " + reply.Content)
		case ReplyToolResponse:
			p.history.Store("Tool Result: " + reply.Content)
		}
		return reply, nil
	}
	return PersonaReply{}, fmt.Errorf("persona failed after %d attempts: %w", max(1, p.maxRetries), lastErr)
}

func (p *ModelPersona) buildQuery(input, extra string) string {
	history := strings.Join(p.history.All(), "\n")
	if history == "" {
		history = "No previous interactions"
	}
	tools, _ := json.MarshalIndent(p.d.Tools, "", "  ")
	stages, _ := json.MarshalIndent(p.d.Stages, "", "  ")

	var b strings.Builder
	b.WriteString("<query>\n")
	fmt.Fprintf(&b, "<environment_description>%s</environment_description>\n", p.d.Description)
	fmt.Fprintf(&b, "<environment_type>%s</environment_type>\n", p.d.Type)
	fmt.Fprintf(&b, "<tools>%s</tools>\n", tools)
	fmt.Fprintf(&b, "<story_stages>%s</story_stages>\n", stages)
	fmt.Fprintf(&b, "<history>%s</history>\n", history)
	fmt.Fprintf(&b, "<user_persona>%s</user_persona>\n", p.d.Persona)
	fmt.Fprintf(&b, "<current_agent_input>%s</current_agent_input>\n", input)
	fmt.Fprintf(&b, "<extra_info>%s</extra_info>\n", extra)
	b.WriteString("</query>")
	return b.String()
}

var (
	outputBlock = regexp.MustCompile(`(?s)<output>\s*(\{.*?\})\s*</output>`)
	looseObject = regexp.MustCompile(`(?s)\{[^{}]*"type"[^{}]*\}`)
)

// ParsePersonaOutput extracts the reply object from <output>{...}</output>,
// falling back to the first bare object carrying a "type" field.
func ParsePersonaOutput(text string) (PersonaReply, error) {
	var raw string
	if m := outputBlock.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if m := looseObject.FindString(text); m != "" {
		raw = m
	} else {
		return PersonaReply{}, fmt.Errorf("invalid persona response format: %q", text)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return PersonaReply{}, fmt.Errorf("invalid JSON in persona response: %w", err)
	}
	for _, key := range []string{"type", "content"} {
		if _, ok := fields[key]; !ok {
			return PersonaReply{}, fmt.Errorf("missing %q field in persona response", key)
		}
	}

	var reply PersonaReply
	if err := json.Unmarshal(fields["type"], &reply.Kind); err != nil {
		return PersonaReply{}, fmt.Errorf("persona response type: %w", err)
	}
	if reply.Kind != ReplyMessage && reply.Kind != ReplyToolResponse {
		return PersonaReply{}, fmt.Errorf("unknown persona response type %q", reply.Kind)
	}
	var content string
	if err := json.Unmarshal(fields["content"], &content); err != nil {
		content = string(fields["content"])
	}
	reply.Content = content
	json.Unmarshal(fields["finished"], &reply.Finished)
	json.Unmarshal(fields["success"], &reply.Success)
	return reply, nil
}

// FormatAgentInput renders an action the way the persona sees it.
func FormatAgentInput(a core.Action) string {
	if !a.HasCalls() {
		return "Message: " + a.Text
	}
	calls := make([]string, 0, len(a.Calls))
	for _, c := range a.Calls {
		args, err := c.ParseArguments()
		if err != nil {
			calls = append(calls, c.Name+"(invalid_args)")
			continue
		}
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v, _ := json.Marshal(args[k])
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
		calls = append(calls, fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", ")))
	}
	return "Tool calls: " + strings.Join(calls, "; ")
}

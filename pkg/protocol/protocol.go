// Package protocol implements the tagged text format reasoning models use to
// interleave a reasoning trace with tool invocations:
//
//	<think type="moderate">
//	...
//	</think>
//	<tool_call>
//	{"name": "execute_shell", "arguments": {"command": "ls"}}
//	</tool_call>
//
// A response with no tool_call block is a final text answer. Tool results
// are fed back as <tool_response name="...">...</tool_response>.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/boristopalov/agentgym/pkg/core"
)

const (
	thinkClose    = "</think>"
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

var thinkOpen = regexp.MustCompile(`<think(?:\s+type\s*=\s*["']([^"']*)["'])?\s*>`)

// Options controls how strictly Parse treats a response.
type Options struct {
	// RequireReasoning rejects responses without a <think> block.
	RequireReasoning bool
	// NewID names the i-th call of the response. Defaults to call_<i>.
	NewID func(i int) string
}

// Parsed is one decoded model response.
type Parsed struct {
	Effort    core.Effort
	Reasoning string
	Calls     []core.ToolCall
	// Text is everything outside the tagged blocks.
	Text string
}

// Action converts the response into what the runner dispatches.
func (p Parsed) Action(raw string) core.Action {
	a := core.TextAction(p.Text)
	if len(p.Calls) > 0 {
		a.Kind = core.ActionToolCalls
		a.Calls = p.Calls
	}
	a.Reasoning = p.Reasoning
	a.Effort = p.Effort
	a.Raw = raw
	return a
}

// ParseError is a response that does not follow the grammar.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return "parse response: " + e.Reason
	}
	return fmt.Sprintf("parse response: %s near %q", e.Reason, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	return core.ErrSynthesisParse
}

func parseErr(reason, snippet string) error {
	if len(snippet) > 80 {
		snippet = snippet[:80] + "..."
	}
	return &ParseError{Reason: reason, Snippet: snippet}
}

// ParseEffort accepts the canonical levels and their short aliases.
func ParseEffort(s string) (core.Effort, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "quick":
		return core.EffortMinimal, true
	case "moderate", "mid":
		return core.EffortModerate, true
	case "extensive", "complex":
		return core.EffortExtensive, true
	}
	return "", false
}

// Parse decodes text. Absence of tool_call blocks after valid reasoning is a
// text answer; every malformed block is an error.
func Parse(text string, opts Options) (Parsed, error) {
	var p Parsed
	newID := opts.NewID
	if newID == nil {
		newID = func(i int) string { return fmt.Sprintf("call_%d", i) }
	}

	rest := text
	if loc := thinkOpen.FindStringSubmatchIndex(rest); loc != nil {
		end := strings.Index(rest[loc[1]:], thinkClose)
		if end < 0 {
			return Parsed{}, parseErr("unterminated <think> block", rest[loc[0]:])
		}
		effort := ""
		if loc[2] >= 0 {
			effort = rest[loc[2]:loc[3]]
		}
		switch e, ok := ParseEffort(effort); {
		case ok:
			p.Effort = e
		case effort == "" && !opts.RequireReasoning:
			p.Effort = core.EffortModerate
		case effort == "":
			return Parsed{}, parseErr("missing effort level", rest[loc[0]:loc[1]])
		default:
			return Parsed{}, parseErr(fmt.Sprintf("unknown effort level %q", effort), rest[loc[0]:loc[1]])
		}
		p.Reasoning = strings.TrimSpace(rest[loc[1] : loc[1]+end])
		rest = rest[:loc[0]] + rest[loc[1]+end+len(thinkClose):]
	} else if opts.RequireReasoning {
		return Parsed{}, parseErr("missing reasoning: response must start with a <think type=\"...\"> block", strings.TrimSpace(text))
	}
	if opts.RequireReasoning && p.Reasoning == "" {
		return Parsed{}, parseErr("empty reasoning block", "")
	}

	var outside strings.Builder
	for {
		start := strings.Index(rest, toolCallOpen)
		if start < 0 {
			outside.WriteString(rest)
			break
		}
		outside.WriteString(rest[:start])
		body := rest[start+len(toolCallOpen):]
		end := strings.Index(body, toolCallClose)
		if end < 0 {
			return Parsed{}, parseErr("unterminated <tool_call> block", rest[start:])
		}
		call, err := decodeCall(newID(len(p.Calls)), strings.TrimSpace(body[:end]))
		if err != nil {
			return Parsed{}, err
		}
		p.Calls = append(p.Calls, call)
		rest = body[end+len(toolCallClose):]
	}
	p.Text = strings.TrimSpace(outside.String())

	if len(p.Calls) == 0 && p.Text == "" {
		return Parsed{}, parseErr("no tool call or answer after the reasoning", strings.TrimSpace(text))
	}
	return p, nil
}

type wireCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func decodeCall(id, body string) (core.ToolCall, error) {
	var w wireCall
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return core.ToolCall{}, parseErr("invalid JSON in <tool_call>: "+err.Error(), body)
	}
	if w.Name == "" {
		return core.ToolCall{}, parseErr("tool call is missing \"name\"", body)
	}
	raw := bytes.TrimSpace(w.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return core.ParseToolCall(id, w.Name, "{}"), nil
	}
	// Some models string-encode the arguments object.
	var encoded string
	if raw[0] == '"' && json.Unmarshal(raw, &encoded) == nil {
		return core.ParseToolCall(id, w.Name, encoded), nil
	}
	return core.ParseToolCall(id, w.Name, string(raw)), nil
}

// RenderAssistant produces the canonical text of a reasoning-annotated
// assistant turn.
func RenderAssistant(p Parsed) string {
	var blocks []string
	if p.Reasoning != "" {
		effort := p.Effort
		if effort == "" {
			effort = core.EffortModerate
		}
		blocks = append(blocks, fmt.Sprintf("<think type=%q>\n%s\n</think>", effort, p.Reasoning))
	}
	for _, c := range p.Calls {
		blocks = append(blocks, toolCallOpen+"\n"+encodeCall(c)+"\n"+toolCallClose)
	}
	if p.Text != "" {
		blocks = append(blocks, p.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// RenderToolResponse wraps one tool result for the model.
func RenderToolResponse(name, content string) string {
	return core.ToolResponseTag(name) + content + "</tool_response>"
}

func encodeCall(c core.ToolCall) string {
	args := strings.TrimSpace(c.RawArguments)
	if args == "" {
		args = "{}"
	}
	var v struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}
	v.Name = c.Name
	v.Arguments = args
	dec := json.NewDecoder(strings.NewReader(args))
	dec.UseNumber()
	var decoded any
	if dec.Decode(&decoded) == nil && !dec.More() {
		v.Arguments = decoded
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"name": %q, "arguments": {}}`, c.Name)
	}
	return strings.TrimSpace(buf.String())
}

package agent

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"

	"github.com/boristopalov/agentgym/pkg/core"
)

const defaultToolSystemPrompt = "You are an intelligent assistant that completes tasks by calling the provided tools. " +
	"When the task is complete, reply with your final answer and no tool calls."

// ErrRequestRejected is a model request the endpoint refused for a reason
// retrying cannot fix, such as a bad request or invalid credentials.
var ErrRequestRejected = errors.New("model request rejected")

// Chatter runs one raw chat completion. *providers.OpenAIClient implements it.
type Chatter interface {
	Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletionMessage, error)
}

// OpenAIAgent uses the endpoint's native function calling.
type OpenAIAgent struct {
	chat   Chatter
	params *AgentParams
}

func NewOpenAIAgent(chat Chatter, opts ...AgentOption) *OpenAIAgent {
	params := newAgentParams(opts)
	if params.SystemPrompt == "" {
		params.SystemPrompt = defaultToolSystemPrompt
	}
	return &OpenAIAgent{chat: chat, params: params}
}

func (a *OpenAIAgent) Act(ctx context.Context, history []core.Turn, schema core.ToolSchema) (core.Action, error) {
	req := openai.ChatCompletionNewParams{
		Messages:    openai.F(a.messages(history)),
		Model:       openai.F(a.params.Model),
		Temperature: openai.F(a.params.Temperature),
	}
	if tools := toolParams(schema); len(tools) > 0 {
		req.Tools = openai.F(tools)
	}

	msg, err := a.chat.Chat(ctx, req)
	if err != nil {
		return core.Action{}, classify("openai.Act", err)
	}

	if len(msg.ToolCalls) == 0 {
		action := core.TextAction(msg.Content)
		action.Raw = msg.Content
		return action, nil
	}
	calls := make([]core.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = a.params.NewCallID()
		}
		// Arguments stay raw when malformed; the runner reports the parse error.
		calls = append(calls, core.ParseToolCall(id, tc.Function.Name, tc.Function.Arguments))
	}
	action := core.CallsAction(calls...)
	action.Text = msg.Content
	action.Raw = msg.Content
	return action, nil
}

func (a *OpenAIAgent) messages(history []core.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(a.params.SystemPrompt)}
	for _, t := range history {
		if t.Role == core.RoleAssistant && t.IsError() {
			continue
		}
		switch t.Role {
		case core.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case core.RoleAssistant:
			if len(t.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(t.Content))
				continue
			}
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatCompletionMessageRoleAssistant,
				Content: t.Content,
			}
			for _, c := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCall{
					ID:   c.ID,
					Type: openai.ChatCompletionMessageToolCallTypeFunction,
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      c.Name,
						Arguments: c.RawArguments,
					},
				})
			}
			msgs = append(msgs, msg)
		case core.RoleTool:
			msgs = append(msgs, openai.ToolMessage(t.ToolCallID, t.Content))
		}
	}
	return msgs
}

func toolParams(schema core.ToolSchema) []openai.ChatCompletionToolParam {
	wire := schema.WireFormat()
	tools := make([]openai.ChatCompletionToolParam, 0, len(wire))
	for _, wt := range wire {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(wt.Function.Name),
				Description: openai.String(wt.Function.Description),
				Parameters:  openai.F(openai.FunctionParameters(wt.Function.Parameters)),
			}),
		})
	}
	return tools
}

// classify marks retryable failures as transport errors. Requests the
// endpoint rejected outright end the episode.
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
			return core.Wrap(core.ErrAgentTransport, op, err)
		default:
			return core.Wrap(ErrRequestRejected, op, err)
		}
	}
	return core.Wrap(core.ErrAgentTransport, op, err)
}

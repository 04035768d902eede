package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/boristopalov/agentgym/pkg/core"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

func newOpenAIClient(params ProviderParams) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithBaseURL(params.BaseURL),
		option.WithMaxRetries(params.MaxRetries),
	}
	if params.APIKey != "" {
		opts = append(opts, option.WithAPIKey(params.APIKey))
	}
	if params.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(params.HTTPClient))
	}
	slog.Debug("openai client", "base_url", params.BaseURL)
	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		baseURL: params.BaseURL,
	}
}

// OpenAi builds a client, falling back to OPENAI_API_BASE_URL and
// OPENAI_API_KEY for unset options.
func OpenAi(opts ...ProviderOption) *OpenAIClient {
	params := newParams(opts)
	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = defaultOpenAIBaseURL
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return newOpenAIClient(params)
}

func (c *OpenAIClient) BaseURL() string {
	return c.baseURL
}

// Complete sends a plain-text conversation. Tool messages are delivered as
// user messages, which is how tagged-protocol models expect tool results.
func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []core.Message) (string, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	msg, err := c.Chat(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F(params),
		Model:    openai.F(model),
	})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// Chat runs one raw chat completion and returns the first choice.
func (c *OpenAIClient) Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletionMessage, error) {
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &completion.Choices[0].Message, nil
}

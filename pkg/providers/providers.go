// Package providers wraps the model APIs used by agents, personas and the
// synthesizer behind a single chat completion interface.
package providers

import (
	"context"
	"net/http"

	"github.com/boristopalov/agentgym/pkg/core"
)

// Completer returns the assistant text for a chat conversation.
type Completer interface {
	Complete(ctx context.Context, model string, messages []core.Message) (string, error)
}

type ProviderParams struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *ProviderParams) {
		p.HTTPClient = c
	}
}

// WithMaxRetries sets the SDK-level retry count. The runner owns episode
// retries, so the default is zero.
func WithMaxRetries(n int) ProviderOption {
	return func(p *ProviderParams) {
		p.MaxRetries = n
	}
}

func newParams(opts []ProviderOption) ProviderParams {
	var params ProviderParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, model string, messages []core.Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, model string, messages []core.Message) (string, error) {
	return f(ctx, model, messages)
}

package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/resilience"
	"github.com/sells-group/rewards-engine/pkg/anthropic"
)

// AnthropicProvider answers with a forced tool call whose input schema is
// the requested object schema.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider wraps an Anthropic client.
func NewAnthropicProvider(client anthropic.Client) *AnthropicProvider {
	return &AnthropicProvider{client: client}
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

func (p *AnthropicProvider) GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: int64(maxTokens),
		System:    req.System,
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Tool: &anthropic.Tool{
			Name:        req.Schema.Name,
			Description: req.Schema.Description,
			Properties:  req.Schema.Properties,
			Required:    req.Schema.Required,
		},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.ClassifyStatus(err, apiErr.StatusCode)
		}
		return nil, err
	}

	input, ok := resp.ToolInput(req.Schema.Name)
	if !ok {
		return nil, eris.Errorf("llm: anthropic returned no %s tool call (stop reason %q)", req.Schema.Name, resp.StopReason)
	}
	return &ObjectResponse{
		Object: input,
		Model:  resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

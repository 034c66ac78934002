package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/resilience"
	"github.com/sells-group/rewards-engine/pkg/openai"
)

// OpenAIProvider answers with json_schema structured output.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider wraps an OpenAI client.
func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := p.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      &maxTokens,
		ResponseFormat: openai.SchemaFormat(req.Schema.Name, req.Schema.JSONSchema()),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.ClassifyStatus(err, apiErr.StatusCode)
		}
		return nil, err
	}

	content := resp.Content()
	if !json.Valid([]byte(content)) {
		return nil, eris.Errorf("llm: openai returned a non-JSON %s object", req.Schema.Name)
	}
	return &ObjectResponse{
		Object: json.RawMessage(content),
		Model:  resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

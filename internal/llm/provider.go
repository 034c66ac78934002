// Package llm routes AI-judged conditions to a language model and turns
// the structured answers into judgments.
package llm

import (
	"context"
	"encoding/json"
)

// Schema describes the object a model must return.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// JSONSchema renders s as a strict JSON-schema object.
func (s Schema) JSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           s.Properties,
		"required":             s.Required,
		"additionalProperties": false,
	}
}

// ObjectRequest asks a provider for one schema-constrained object.
type ObjectRequest struct {
	Model     string
	System    string
	Prompt    string
	Schema    Schema
	MaxTokens int
}

// Usage is provider-reported token consumption. Zero means unreported.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ObjectResponse is the raw JSON object a provider produced.
type ObjectResponse struct {
	Object json.RawMessage
	Model  string
	Usage  Usage
}

// Provider generates structured objects. Implementations mark retryable
// failures with resilience.TransientError.
type Provider interface {
	Name() string
	GenerateObject(ctx context.Context, req ObjectRequest) (*ObjectResponse, error)
}

const defaultMaxTokens = 1024

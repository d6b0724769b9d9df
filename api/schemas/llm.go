package schemas

import "context"

// -- LLM Schemas --

// GenerationOptions carries per-request tuning for an LLM call.
type GenerationOptions struct {
	// Temperature controls sampling randomness. Analysis prompts run cold.
	Temperature float32 `json:"temperature"`
	// ForceJSONFormat asks the provider to constrain output to valid JSON.
	ForceJSONFormat bool `json:"force_json_format"`
}

// GenerationRequest is a single prompt pair sent to an LLM provider.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the provider-agnostic contract the analysis stages depend on.
// Implementations live in internal/llmclient; tests substitute recording
// fakes.
type LLMClient interface {
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
}

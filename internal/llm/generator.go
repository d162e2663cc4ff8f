// Package llm provides text-generation clients for the evidence
// extraction engine.
//
// The package defines a provider-neutral TextGenerator interface with
// Anthropic and OpenAI implementations. Prompt construction belongs to
// callers; this package handles transport, retries, and provider error
// classification.
//
// Example usage:
//
//	gen, err := llm.NewTextGenerator(llm.FactoryConfig{
//		Provider: "anthropic",
//		APIKey:   key,
//		Model:    "claude-sonnet-4-20250514",
//	})
//	result, err := gen.Generate(ctx, llm.GenerateRequest{
//		System:   "You extract structured study data.",
//		Prompt:   prompt,
//		JSONMode: true,
//	})
package llm

import "context"

// GenerateRequest contains the prompt material for one completion.
type GenerateRequest struct {
	// System is the system-level instruction (optional).
	System string

	// Prompt is the user-level prompt text.
	Prompt string

	// MaxTokens caps the response length. Zero means the generator's
	// configured default.
	MaxTokens int

	// JSONMode requests structured JSON output where the provider API
	// supports enforcing it. Providers without such a switch rely on
	// the prompt alone.
	JSONMode bool
}

// GenerateResult contains the completion text and usage metadata.
type GenerateResult struct {
	// Text is the raw completion text.
	Text string

	// Model is the model that produced the completion.
	Model string

	// InputTokens is the number of prompt tokens consumed.
	InputTokens int

	// OutputTokens is the number of completion tokens produced.
	OutputTokens int
}

// TextGenerator is the interface for LLM text-generation providers.
//
// Implementations handle provider-specific API calls, retries on
// transient failures, and error classification while conforming to this
// unified interface.
type TextGenerator interface {
	// Generate produces a completion for the given request. The context
	// is used for cancellation and deadline propagation, including
	// between retries.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

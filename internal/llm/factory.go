package llm

import (
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a TextGenerator.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai" or "anthropic").
	Provider string
	// APIKey is the provider API key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL overrides the provider's default API base URL.
	BaseURL string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens is the default response token cap.
	MaxTokens int
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
}

// NewTextGenerator creates a TextGenerator based on the configuration.
// Supports "openai" and "anthropic" providers. Returns an error for
// unsupported or empty provider values.
func NewTextGenerator(cfg FactoryConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, cfg.Timeout, cfg.MaxRetries, cfg.RetryDelay), nil
	case "anthropic":
		return NewAnthropicGenerator(AnthropicConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, cfg.Timeout, cfg.MaxRetries, cfg.RetryDelay), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

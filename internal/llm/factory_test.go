package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextGenerator(t *testing.T) {
	t.Parallel()

	t.Run("anthropic", func(t *testing.T) {
		gen, err := NewTextGenerator(FactoryConfig{
			Provider:   "anthropic",
			APIKey:     "key",
			Model:      "claude-sonnet-4-20250514",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, gen)

		assert.Equal(t, "anthropic", gen.Provider())
		assert.Equal(t, "claude-sonnet-4-20250514", gen.Model())
		assert.IsType(t, (*AnthropicGenerator)(nil), gen)
	})

	t.Run("openai", func(t *testing.T) {
		gen, err := NewTextGenerator(FactoryConfig{
			Provider: "openai",
			APIKey:   "key",
			Model:    "gpt-4o",
		})
		require.NoError(t, err)
		require.NotNil(t, gen)

		assert.Equal(t, "openai", gen.Provider())
		assert.Equal(t, "gpt-4o", gen.Model())
		assert.IsType(t, (*OpenAIGenerator)(nil), gen)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		gen, err := NewTextGenerator(FactoryConfig{Provider: "mistral"})
		assert.Nil(t, gen)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported LLM provider: "mistral"`)
	})

	t.Run("empty provider", func(t *testing.T) {
		gen, err := NewTextGenerator(FactoryConfig{})
		assert.Nil(t, gen)
		require.Error(t, err)
	})
}

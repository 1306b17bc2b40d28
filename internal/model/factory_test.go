package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/model/llm"
	"civic-mesh/pkg/config"
)

func TestParseDefaultKey(t *testing.T) {
	p, m, err := ParseDefaultKey("openai.gpt_4o_mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt_4o_mini", m)

	for _, bad := range []string{"", "openai", ".x", "openai."} {
		_, _, err := ParseDefaultKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewLLM(t *testing.T) {
	ctx := context.Background()
	c, err := NewLLM(ctx, config.ModelConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg := config.ModelConfig{
		Defaults: config.DefaultsConfig{LLM: "openai.small"},
		LLM: config.LLMConfig{Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "k", Models: map[string]config.ModelInfo{"small": {Name: "gpt-4o-mini"}}},
		}},
	}
	c, err = NewLLM(ctx, cfg, llm.NewRateLimiter(nil, nil))
	require.NoError(t, err)
	assert.IsType(t, &llm.RateLimitedClient{}, c)
	assert.Equal(t, "gpt-4o-mini", c.Model())

	cfg.Defaults.LLM = "openai.large"
	_, err = NewLLM(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.ModelConfig{}, 128)
	require.NoError(t, err)
	assert.IsType(t, &embedding.HashEmbedder{}, e)
	assert.Equal(t, 128, e.Dimension())

	cfg := config.ModelConfig{
		Defaults: config.DefaultsConfig{Embedding: "openai.general"},
		Embedding: config.EmbeddingConfig{Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "k", Models: map[string]config.ModelInfo{
				"general": {Name: "text-embedding-3-small", Dimension: 1536},
				"legal":   {Name: "legal-embed"},
			}},
		}},
	}
	e, err = NewEmbedder(cfg, 128)
	require.NoError(t, err)
	assert.IsType(t, &embedding.OpenAIEmbedder{}, e)
	assert.Equal(t, 1536, e.Dimension())
}

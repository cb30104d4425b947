package ai_test

import (
	"testing"

	"github.com/ai-gateway-go/internal/config"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/stretchr/testify/assert"
)

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := ai.NewResolver(config.ModelsConfig{
		Default: "gpt-4o-mini",
		Aliases: map[string]string{
			"gpt-5-nano": "gpt-4o-mini",
			"GPT-5-Mini": "gpt-4o",
			// secondary prefix wins over aliases
			"claude-x": "gpt-4o",
		},
	}, nil)

	tests := []struct {
		in   string
		want models.ResolvedModel
	}{
		{in: "gpt-5-nano", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o-mini"}},
		{in: "gpt-5-mini", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o"}},
		{in: "claude-x", want: models.ResolvedModel{Provider: models.SecondaryProvider, UpstreamModelID: "claude-x"}},
		{in: "Claude-3-Haiku", want: models.ResolvedModel{Provider: models.SecondaryProvider, UpstreamModelID: "Claude-3-Haiku"}},
		{in: "GPT-5-NANO", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o-mini"}},
		{in: "ft:gpt-4o-mini:Acme:MyBot:9xYz", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "ft:gpt-4o-mini:Acme:MyBot:9xYz"}},
		{in: "gpt-4o", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o"}},
		{in: "", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o-mini"}},
		{in: "  some-new-model ", want: models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "some-new-model"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Resolve(tt.in), "resolve %q", tt.in)
	}
}

func TestResolver_Deterministic(t *testing.T) {
	t.Parallel()

	r := ai.NewResolver(config.ModelsConfig{Aliases: map[string]string{"gpt-5-nano": "gpt-4o-mini"}}, nil)
	first := r.Resolve("gpt-5-nano")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, r.Resolve("gpt-5-nano"))
	}
}

func TestResolver_OverridesTakePrecedence(t *testing.T) {
	t.Parallel()

	r := ai.NewResolver(
		config.ModelsConfig{Aliases: map[string]string{"gpt-5-nano": "gpt-4o-mini"}},
		map[string]string{"gpt-5-nano": "gpt-4.1-nano", "fast": "gpt-4o-mini"},
	)
	assert.Equal(t, "gpt-4.1-nano", r.Resolve("gpt-5-nano").UpstreamModelID)
	assert.Equal(t, "gpt-4o-mini", r.Resolve("fast").UpstreamModelID)
}

func TestResolver_CustomSecondaryPrefix(t *testing.T) {
	t.Parallel()

	r := ai.NewResolver(config.ModelsConfig{SecondaryPrefix: "anthropic/"}, nil)
	assert.Equal(t, models.SecondaryProvider, r.Resolve("anthropic/claude-3").Provider)
	assert.Equal(t, models.PrimaryProvider, r.Resolve("claude-3").Provider)
}

func TestResolver_CopiesConfig(t *testing.T) {
	t.Parallel()

	aliases := map[string]string{"fast": "gpt-4o-mini"}
	r := ai.NewResolver(config.ModelsConfig{Aliases: aliases}, nil)
	aliases["fast"] = "changed"
	assert.Equal(t, "gpt-4o-mini", r.Resolve("fast").UpstreamModelID)
}

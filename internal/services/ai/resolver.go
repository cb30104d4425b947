package ai

import (
	"strings"

	"github.com/ai-gateway-go/internal/config"
	"github.com/ai-gateway-go/internal/models"
)

// Resolver maps logical model names to a provider and upstream model id.
// It is immutable after construction.
type Resolver struct {
	defaultModel    string
	secondaryPrefix string
	aliases         map[string]string
}

// NewResolver copies the alias table; later changes to cfg have no effect.
// overrides take precedence over cfg.Aliases.
func NewResolver(cfg config.ModelsConfig, overrides map[string]string) *Resolver {
	aliases := make(map[string]string, len(cfg.Aliases)+len(overrides))
	for k, v := range cfg.Aliases {
		aliases[normalizeName(k)] = strings.TrimSpace(v)
	}
	for k, v := range overrides {
		aliases[normalizeName(k)] = strings.TrimSpace(v)
	}

	prefix := normalizeName(cfg.SecondaryPrefix)
	if prefix == "" {
		prefix = "claude"
	}

	return &Resolver{
		defaultModel:    strings.TrimSpace(cfg.Default),
		secondaryPrefix: prefix,
		aliases:         aliases,
	}
}

// Resolve never fails: unknown names pass through to the primary provider.
// Matching is case-insensitive; pass-through names keep their original case.
func (r *Resolver) Resolve(name string) models.ResolvedModel {
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultModel
	}
	key := normalizeName(name)

	if strings.HasPrefix(key, r.secondaryPrefix) {
		return models.ResolvedModel{Provider: models.SecondaryProvider, UpstreamModelID: name}
	}

	if target, ok := r.aliases[key]; ok && target != "" {
		return models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: target}
	}
	return models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: name}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

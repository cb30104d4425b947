package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/ai-gateway-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultLang := cfg.DefaultLanguage
	if defaultLang == "" {
		defaultLang = "en"
	}
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{defaultLang}
	}
	for _, lang := range langs {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLang,
	}, nil
}

// Get returns localized message. lang may be a tag or a raw Accept-Language value.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer := i18n.NewLocalizer(l.bundle, lang, l.defaultLanguage)

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgUnauthorized           = "unauthorized"
	MsgInvalidRequest         = "invalid_request"
	MsgBadRequest             = "bad_request"
	MsgRateLimited            = "rate_limited"
	MsgUnavailable            = "unavailable"
	MsgUpstreamAuthRejected   = "upstream_auth_rejected"
	MsgUpstreamInvalidRequest = "upstream_invalid_request"
	MsgUpstreamUnknown        = "upstream_unknown"
	MsgInternalError          = "internal_error"
)

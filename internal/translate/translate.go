// Package translate turns user prompts into the language the image models
// understand best.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Provider names a translation backend.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderOpenAI Provider = "openai"
)

var (
	// ErrEmptyTranslation is returned when a backend answers with no text.
	ErrEmptyTranslation = errors.New("translation returned empty text")
	// ErrUnknownProvider is returned by ParseProvider for unsupported names.
	ErrUnknownProvider = errors.New("unknown translation provider")
)

// Translator translates text between two languages.
type Translator interface {
	Translate(ctx context.Context, text string, source, target language.Tag) (string, error)
}

// ParseProvider validates a provider name, ignoring case and surrounding spaces.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderGoogle, ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// finish normalizes a backend answer.
func finish(out string) (string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}

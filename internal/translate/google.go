package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// translationAPI is the subset of *translate.Client used here.
type translationAPI interface {
	Translate(ctx context.Context, inputs []string, target language.Tag, opts *translate.Options) ([]translate.Translation, error)
	Close() error
}

// GoogleOpts holds configuration options for the Google Cloud Translation client.
type GoogleOpts struct {
	ClientEmail string
	PrivateKey  string
	ProjectID   string
}

// GoogleOption defines a configuration option for the Google client.
type GoogleOption func(*GoogleOpts)

// WithServiceAccount sets the service account used for authentication.
func WithServiceAccount(clientEmail, privateKey string) GoogleOption {
	return func(o *GoogleOpts) {
		o.ClientEmail = clientEmail
		o.PrivateKey = privateKey
	}
}

// WithProjectID sets the project recorded in the generated credentials.
func WithProjectID(id string) GoogleOption {
	return func(o *GoogleOpts) { o.ProjectID = id }
}

// GoogleTranslator translates with Google Cloud Translation (basic edition).
type GoogleTranslator struct {
	api translationAPI
}

var _ Translator = (*GoogleTranslator)(nil)

// NewGoogleTranslator creates a translator authenticated as a service account.
func NewGoogleTranslator(ctx context.Context, opts ...GoogleOption) (*GoogleTranslator, error) {
	var cfg GoogleOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("GoogleTranslator config loaded",
		"ClientEmail_set", cfg.ClientEmail != "",
		"PrivateKey_set", cfg.PrivateKey != "")

	creds, err := serviceAccountJSON(cfg)
	if err != nil {
		return nil, err
	}
	client, err := translate.NewClient(ctx, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create translate client: %w", err)
	}
	return &GoogleTranslator{api: client}, nil
}

// Translate implements Translator.
func (g *GoogleTranslator) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	if source == target {
		return text, nil
	}
	res, err := g.api.Translate(ctx, []string{text}, target, &translate.Options{
		Source: source,
		Format: translate.Text,
	})
	if err != nil {
		slog.Error("GoogleTranslator.Translate: request failed", "source", source, "target", target, "error", err)
		return "", fmt.Errorf("google translate: %w", err)
	}
	if len(res) == 0 {
		return "", ErrEmptyTranslation
	}
	return finish(res[0].Text)
}

// Close releases the underlying client.
func (g *GoogleTranslator) Close() error {
	return g.api.Close()
}

type serviceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id,omitempty"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// serviceAccountJSON builds a credentials file from the two environment
// values. Private keys pasted into .env files usually carry literal "\n"
// sequences, which are turned back into newlines.
func serviceAccountJSON(cfg GoogleOpts) ([]byte, error) {
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("google service account email and private key must be provided")
	}
	return json.Marshal(serviceAccount{
		Type:        "service_account",
		ProjectID:   cfg.ProjectID,
		ClientEmail: cfg.ClientEmail,
		PrivateKey:  strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n"),
		TokenURI:    "https://oauth2.googleapis.com/token",
	})
}

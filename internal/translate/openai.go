package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/text/language"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.ChatModelGPT4oMini

// ErrNoChoicesReturned is returned when the completion has no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatCompleter defines the minimal interface for chat completions.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOpts holds configuration options for the OpenAI translator.
type OpenAIOpts struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIOption defines a configuration option for the OpenAI translator.
type OpenAIOption func(*OpenAIOpts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.Model = model }
}

// WithBaseURL points the client at a compatible API.
func WithBaseURL(u string) OpenAIOption {
	return func(o *OpenAIOpts) { o.BaseURL = u }
}

// OpenAITranslator translates with a chat completion model.
type OpenAITranslator struct {
	chat  chatCompleter
	model openai.ChatModel
}

var _ Translator = (*OpenAITranslator)(nil)

// NewOpenAITranslator initializes the translator.
func NewOpenAITranslator(opts ...OpenAIOption) (*OpenAITranslator, error) {
	var cfg OpenAIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("OpenAITranslator config loaded", "APIKey_set", cfg.APIKey != "", "Model", cfg.Model)
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(clientOpts...)

	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAITranslator{chat: &client.Chat.Completions, model: model}, nil
}

// Translate implements Translator.
func (o *OpenAITranslator) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	if source == target {
		return text, nil
	}
	resp, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(source, target)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Error("OpenAITranslator.Translate: completion failed", "model", o.model, "error", err)
		return "", fmt.Errorf("openai translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return finish(resp.Choices[0].Message.Content)
}

func systemPrompt(source, target language.Tag) string {
	return fmt.Sprintf(
		"You translate image generation prompts. Translate the user's message from %s to %s. "+
			"Keep proper nouns and style keywords. Reply with the translation only.",
		source, target)
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Opts holds configuration options for the LINE client.
type Opts struct {
	ChannelAccessToken string
	Endpoint           string
	HTTPClient         *http.Client
}

// Option defines a configuration option for the LINE client.
type Option func(*Opts)

// WithChannelAccessToken sets the long-lived channel access token.
func WithChannelAccessToken(token string) Option {
	return func(o *Opts) { o.ChannelAccessToken = token }
}

// WithEndpoint overrides the Messaging API base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// LineClient sends messages through the LINE Messaging API.
type LineClient struct {
	api *messaging_api.MessagingApiAPI
}

var _ Client = (*LineClient)(nil)

// NewLineClient builds a LineClient from the given options.
func NewLineClient(opts ...Option) (*LineClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("LineClient config loaded",
		"ChannelAccessToken_set", cfg.ChannelAccessToken != "",
		"Endpoint", cfg.Endpoint)

	if cfg.ChannelAccessToken == "" {
		return nil, errors.New("channel access token must be provided")
	}

	var apiOpts []messaging_api.MessagingApiAPIOption
	if cfg.Endpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		apiOpts = append(apiOpts, messaging_api.WithHTTPClient(cfg.HTTPClient))
	}
	api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelAccessToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging api client: %w", err)
	}
	return &LineClient{api: api}, nil
}

// Reply answers an event using its reply token.
func (c *LineClient) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	msgs, err := toLineMessages(messages)
	if err != nil {
		return err
	}
	_, err = c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   msgs,
	})
	if err != nil {
		slog.Error("LineClient.Reply: failed", "messages", len(msgs), "error", err)
		return fmt.Errorf("failed to reply: %w", err)
	}
	slog.Debug("LineClient.Reply: sent", "messages", len(msgs))
	return nil
}

// Push sends messages to userID.
func (c *LineClient) Push(ctx context.Context, userID string, messages ...Message) error {
	msgs, err := toLineMessages(messages)
	if err != nil {
		return err
	}
	_, err = c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       userID,
		Messages: msgs,
	}, "")
	if err != nil {
		slog.Error("LineClient.Push: failed", "user_id", userID, "messages", len(msgs), "error", err)
		return fmt.Errorf("failed to push to %s: %w", userID, err)
	}
	slog.Debug("LineClient.Push: sent", "user_id", userID, "messages", len(msgs))
	return nil
}

func toLineMessages(messages []Message) ([]messaging_api.MessageInterface, error) {
	if err := checkBatch(messages); err != nil {
		return nil, err
	}
	out := make([]messaging_api.MessageInterface, 0, len(messages))
	for _, m := range messages {
		lm, err := toLineMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, lm)
	}
	return out, nil
}

func toLineMessage(m Message) (messaging_api.MessageInterface, error) {
	switch m := m.(type) {
	case Text:
		return &messaging_api.TextMessage{Text: m.Text}, nil
	case Image:
		return &messaging_api.ImageMessage{
			OriginalContentUrl: m.OriginalURL,
			PreviewImageUrl:    m.PreviewURL,
		}, nil
	case Choice:
		actions := make([]messaging_api.ActionInterface, 0, len(m.Buttons))
		for _, b := range m.Buttons {
			actions = append(actions, &messaging_api.PostbackAction{
				Label:       b.Label,
				Data:        b.Data,
				DisplayText: b.DisplayText,
			})
		}
		return &messaging_api.TemplateMessage{
			AltText: m.AltText,
			Template: &messaging_api.ButtonsTemplate{
				Text:    m.Text,
				Actions: actions,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}
}

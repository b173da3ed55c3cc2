package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/rjooske/tabiji/internal/models"
)

const (
	// DefaultBaseURL is the Replicate HTTP API.
	DefaultBaseURL = "https://api.replicate.com"
	// DefaultPollInterval is how long to wait between prediction status checks.
	DefaultPollInterval = time.Second

	// DefaultStableDiffusionVersion is stability-ai/stable-diffusion.
	DefaultStableDiffusionVersion = "db21e45d3f7023abc2a46ee38a23973f6dce16bb082a930b0c49861f96d1e5bf"
	// DefaultAnythingV4Version is cjwbw/anything-v4.0.
	DefaultAnythingV4Version = "42a996d39a96aedc57b2e0aa8105dea39c9c89d9d266caf6bb4327a1c191b061"

	// StableDiffusionOutputs is the number of images requested per prompt.
	StableDiffusionOutputs = 4
)

// Prediction statuses reported by Replicate.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// ReplicateOpts holds configuration options for the Replicate client.
type ReplicateOpts struct {
	Token        string
	BaseURL      string
	PollInterval time.Duration
}

// ReplicateOption defines a configuration option for the Replicate client.
type ReplicateOption func(*ReplicateOpts)

// WithToken sets the API token.
func WithToken(token string) ReplicateOption {
	return func(o *ReplicateOpts) { o.Token = token }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ReplicateOption {
	return func(o *ReplicateOpts) { o.BaseURL = u }
}

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) ReplicateOption {
	return func(o *ReplicateOpts) { o.PollInterval = d }
}

// ReplicateClient creates predictions on Replicate and waits for them.
type ReplicateClient struct {
	http         *resty.Client
	pollInterval time.Duration
}

type createPredictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// NewReplicateClient builds a client from the given options.
func NewReplicateClient(opts ...ReplicateOption) (*ReplicateClient, error) {
	cfg := ReplicateOpts{BaseURL: DefaultBaseURL, PollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("ReplicateClient config loaded", "Token_set", cfg.Token != "", "BaseURL", cfg.BaseURL, "PollInterval", cfg.PollInterval)
	if cfg.Token == "" {
		return nil, errors.New("replicate api token must be provided")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &ReplicateClient{http: client, pollInterval: cfg.PollInterval}, nil
}

// Run creates a prediction for the model version and polls until it
// finishes. It returns the validated output URLs.
func (c *ReplicateClient) Run(ctx context.Context, version string, input map[string]any) ([]string, error) {
	p, err := c.create(ctx, version, input)
	if err != nil {
		return nil, err
	}
	slog.Debug("ReplicateClient.Run: prediction created", "id", p.ID, "status", p.Status)

	for !isTerminal(p.Status) {
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if p, err = c.get(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	switch p.Status {
	case StatusSucceeded:
		return parseOutput(p.Output)
	default:
		slog.Warn("ReplicateClient.Run: prediction did not succeed", "id", p.ID, "status", p.Status)
		return nil, fmt.Errorf("%w: %s: %s", ErrPredictionFailed, p.Status, errorText(p.Error))
	}
}

func (c *ReplicateClient) create(ctx context.Context, version string, input map[string]any) (prediction, error) {
	var p prediction
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createPredictionRequest{Version: version, Input: input}).
		SetResult(&p).
		Post("/v1/predictions")
	if err != nil {
		return prediction{}, fmt.Errorf("replicate: create prediction: %w", err)
	}
	if resp.IsError() {
		return prediction{}, fmt.Errorf("replicate: create prediction status %d: %s", resp.StatusCode(), resp.String())
	}
	if p.ID == "" {
		return prediction{}, errors.New("replicate: create prediction returned no id")
	}
	return p, nil
}

func (c *ReplicateClient) get(ctx context.Context, id string) (prediction, error) {
	var p prediction
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&p).
		Get("/v1/predictions/{id}")
	if err != nil {
		return prediction{}, fmt.Errorf("replicate: get prediction %s: %w", id, err)
	}
	if resp.IsError() {
		return prediction{}, fmt.Errorf("replicate: get prediction %s status %d: %s", id, resp.StatusCode(), resp.String())
	}
	return p, nil
}

func isTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// parseOutput accepts either a single URL string or an array of URL strings.
func parseOutput(raw json.RawMessage) ([]string, error) {
	out := gjson.ParseBytes(raw)
	switch {
	case len(raw) == 0, out.Type == gjson.Null:
		return nil, ErrNoOutput
	case out.Type == gjson.String:
		if err := validateImageURL(out.Str); err != nil {
			return nil, err
		}
		return []string{out.Str}, nil
	case out.IsArray():
		items := out.Array()
		if len(items) == 0 {
			return nil, ErrNoOutput
		}
		urls := make([]string, 0, len(items))
		for _, item := range items {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("%w: element %s is not a string", ErrInvalidOutput, item.Raw)
			}
			if err := validateImageURL(item.Str); err != nil {
				return nil, err
			}
			urls = append(urls, item.Str)
		}
		return urls, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutput, out.Raw)
	}
}

func errorText(raw json.RawMessage) string {
	e := gjson.ParseBytes(raw)
	if e.Type == gjson.Null || len(raw) == 0 {
		return "no error reported"
	}
	return e.String()
}

// Model is one Replicate model version with fixed extra inputs.
type Model struct {
	client  *ReplicateClient
	version string
	input   map[string]any
}

var _ Generator = (*Model)(nil)

// Model returns a Generator for the given version. input is merged into
// every request; the prompt key is always overwritten.
func (c *ReplicateClient) Model(version string, input map[string]any) *Model {
	return &Model{client: c, version: version, input: input}
}

// Generate implements Generator.
func (m *Model) Generate(ctx context.Context, prompt string) ([]string, error) {
	input := make(map[string]any, len(m.input)+1)
	for k, v := range m.input {
		input[k] = v
	}
	input["prompt"] = prompt
	return m.client.Run(ctx, m.version, input)
}

// NewBackends wires both selectable backends to Replicate model versions.
// Empty versions fall back to the defaults.
func NewBackends(c *ReplicateClient, stableDiffusionVersion, anythingV4Version string) Backends {
	if stableDiffusionVersion == "" {
		stableDiffusionVersion = DefaultStableDiffusionVersion
	}
	if anythingV4Version == "" {
		anythingV4Version = DefaultAnythingV4Version
	}
	return Backends{
		models.BackendStableDiffusion: c.Model(stableDiffusionVersion, map[string]any{"num_outputs": StableDiffusionOutputs}),
		models.BackendAnythingV4:      c.Model(anythingV4Version, nil),
	}
}

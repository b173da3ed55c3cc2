// Package imagegen runs text-to-image models and returns the URLs of the
// generated images.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rjooske/tabiji/internal/models"
)

var (
	// ErrUnknownBackend is returned by Backends.Get for unconfigured backends.
	ErrUnknownBackend = errors.New("imagegen: backend not configured")
	// ErrNoOutput is returned when a finished prediction produced no images.
	ErrNoOutput = errors.New("imagegen: prediction produced no output")
	// ErrInvalidOutput is returned when the output is not a list of image URLs.
	ErrInvalidOutput = errors.New("imagegen: invalid prediction output")
	// ErrPredictionFailed is returned when the model run failed or was canceled.
	ErrPredictionFailed = errors.New("imagegen: prediction failed")
)

// Generator produces images for an English prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

// Backends maps each selectable backend to the generator that serves it.
type Backends map[models.Backend]Generator

// Get returns the generator for b.
func (bs Backends) Get(b models.Backend) (Generator, error) {
	g, ok := bs[b]
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
	return g, nil
}

// validateImageURL accepts absolute https URLs only; LINE rejects image
// messages served over plain http.
func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidOutput, raw, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute https url", ErrInvalidOutput, raw)
	}
	return nil
}

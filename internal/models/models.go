// Package models defines the core data structures for tabiji.
//
// It includes the inbound event model, the closed set of outbound actions the
// bot can decide on, generation history records and API response envelopes.
package models

import (
	"errors"
	"time"
)

// GenerationStatus is the terminal state of a generation job.
type GenerationStatus string

const (
	// GenerationStatusSucceeded indicates images were produced and pushed.
	GenerationStatusSucceeded GenerationStatus = "succeeded"
	// GenerationStatusFailed indicates translation, generation or delivery failed.
	GenerationStatusFailed GenerationStatus = "failed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID     = errors.New("user id cannot be empty")
	ErrInvalidBackend  = errors.New("invalid backend")
	ErrInvalidStatus   = errors.New("invalid generation status")
	ErrEmptyGeneration = errors.New("generation id cannot be empty")
)

// GenerationRecord is the history entry written when a generation job ends.
type GenerationRecord struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Backend          Backend          `json:"backend"`
	Prompt           string           `json:"prompt"`
	TranslatedPrompt string           `json:"translated_prompt,omitempty"`
	ImageURLs        []string         `json:"image_urls,omitempty"`
	Status           GenerationStatus `json:"status"`
	Error            string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// Validate checks that a record can be persisted.
func (r *GenerationRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyGeneration
	}
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidBackend(r.Backend) {
		return ErrInvalidBackend
	}
	switch r.Status {
	case GenerationStatusSucceeded, GenerationStatusFailed:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

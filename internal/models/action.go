package models

import "context"

// Backend identifies a remote image-generation model.
type Backend string

const (
	// BackendStableDiffusion is stability-ai/stable-diffusion.
	BackendStableDiffusion Backend = "stable-diffusion"
	// BackendAnythingV4 is the anime-style Anything V4 model.
	BackendAnythingV4 Backend = "anything-v4"
)

// IsValidBackend checks if the given backend is supported.
func IsValidBackend(b Backend) bool {
	switch b {
	case BackendStableDiffusion, BackendAnythingV4:
		return true
	default:
		return false
	}
}

// Action is the outbound decision made for one inbound event.
//
// The set of variants is closed: every variant implements Accept, and every
// consumer implements ActionVisitor, so adding a variant is a compile error
// until each consumer handles it.
type Action interface {
	Accept(ctx context.Context, v ActionVisitor) error
}

// NonImmediateAction is a long-running generation job tracked per user while
// it runs.
type NonImmediateAction interface {
	Action
	Initiator() string
	PromptText() string
	Backend() Backend
}

// ActionVisitor handles each Action variant.
type ActionVisitor interface {
	VisitChooseGeneratorOrCancel(ctx context.Context, a ChooseGeneratorOrCancel) error
	VisitCancel(ctx context.Context, a Cancel) error
	VisitGenerateStableDiffusion(ctx context.Context, a GenerateStableDiffusion) error
	VisitGenerateAnythingV4(ctx context.Context, a GenerateAnythingV4) error
	VisitTextTooLong(ctx context.Context, a TextTooLong) error
	VisitInProgressWarning(ctx context.Context, a InProgressWarning) error
}

// ChooseGeneratorOrCancel asks the user which backend to use, or to cancel.
type ChooseGeneratorOrCancel struct {
	ReplyToken string
	Prompt     string
}

// Cancel confirms that the user dropped a pending choice.
type Cancel struct {
	ReplyToken string
}

// GenerateStableDiffusion starts a Stable Diffusion job for the initiator.
type GenerateStableDiffusion struct {
	InitiatorUserID string
	Prompt          string
}

// GenerateAnythingV4 starts an Anything V4 job for the initiator.
type GenerateAnythingV4 struct {
	InitiatorUserID string
	Prompt          string
}

// TextTooLong rejects a prompt longer than MaxLength perceived characters.
type TextTooLong struct {
	ReplyToken string
	MaxLength  int
}

// InProgressWarning rejects a request because ActionInProgress is still
// running for the same user.
type InProgressWarning struct {
	ReplyToken       string
	ActionInProgress NonImmediateAction
}

func (a ChooseGeneratorOrCancel) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitChooseGeneratorOrCancel(ctx, a)
}

func (a Cancel) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitCancel(ctx, a)
}

func (a GenerateStableDiffusion) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitGenerateStableDiffusion(ctx, a)
}

func (a GenerateAnythingV4) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitGenerateAnythingV4(ctx, a)
}

func (a TextTooLong) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitTextTooLong(ctx, a)
}

func (a InProgressWarning) Accept(ctx context.Context, v ActionVisitor) error {
	return v.VisitInProgressWarning(ctx, a)
}

func (a GenerateStableDiffusion) Initiator() string  { return a.InitiatorUserID }
func (a GenerateStableDiffusion) PromptText() string { return a.Prompt }
func (a GenerateStableDiffusion) Backend() Backend   { return BackendStableDiffusion }

func (a GenerateAnythingV4) Initiator() string  { return a.InitiatorUserID }
func (a GenerateAnythingV4) PromptText() string { return a.Prompt }
func (a GenerateAnythingV4) Backend() Backend   { return BackendAnythingV4 }

// Compile-time checks for the generation variants.
var (
	_ NonImmediateAction = GenerateStableDiffusion{}
	_ NonImmediateAction = GenerateAnythingV4{}
)

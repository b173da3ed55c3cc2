// Package dispatch carries out the actions chosen by the decision engine:
// it replies to users, starts generation jobs and keeps the in-progress
// registry in step with the jobs it runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	"github.com/rjooske/tabiji/internal/flow"
	"github.com/rjooske/tabiji/internal/imagegen"
	"github.com/rjooske/tabiji/internal/messaging"
	"github.com/rjooske/tabiji/internal/models"
	"github.com/rjooske/tabiji/internal/postback"
	"github.com/rjooske/tabiji/internal/store"
	"github.com/rjooske/tabiji/internal/text"
	"github.com/rjooske/tabiji/internal/translate"
)

const (
	// DefaultInProgressEchoLength is how many perceived characters of the
	// running prompt the in-progress warning quotes.
	DefaultInProgressEchoLength = 30
	// MaxImages is the most images pushed for one job.
	MaxImages = 4
	// MaxChoiceTextLength is LINE's limit on buttons template text without a
	// title or image, in UTF-16 code units.
	MaxChoiceTextLength = 160
)

// User-facing texts.
const (
	msgChoiceAltText     = "生成方法を選んでください"
	msgCancelled         = "キャンセルしました"
	msgGenerating        = "🎨 生成中…"
	msgDone              = "🖼️ 完成！"
	msgFailed            = "⚠️ 生成に失敗しました。もう一度お試しください。"
	labelStableDiffusion = "Stable Diffusion"
	labelAnythingV4      = "Anything V4"
	labelCancel          = "キャンセル"
)

// Opts holds optional dependencies and settings for the Dispatcher.
type Opts struct {
	EchoLength   int
	MaxPromptLen int
	Dedup        store.DedupRepo
	History      store.HistoryRepo
	BotKind      flow.BotKind
	DeveloperID  string
	Now          func() time.Time
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithEchoLength sets how much of a running prompt the in-progress warning quotes.
func WithEchoLength(n int) Option {
	return func(o *Opts) { o.EchoLength = n }
}

// WithMaxPromptLength sets the decision engine's prompt limit.
func WithMaxPromptLength(n int) Option {
	return func(o *Opts) { o.MaxPromptLen = n }
}

// WithDedup enables redelivery dedup through repo.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = repo }
}

// WithHistory records every finished job in repo.
func WithHistory(repo store.HistoryRepo) Option {
	return func(o *Opts) { o.History = repo }
}

// WithBotKind selects which text messages this instance answers. developerID
// is the LINE user ID of the developer.
func WithBotKind(kind flow.BotKind, developerID string) Option {
	return func(o *Opts) {
		o.BotKind = kind
		o.DeveloperID = developerID
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher implements models.ActionVisitor.
type Dispatcher struct {
	client     messaging.Client
	registry   *flow.Registry
	decider    flow.Decider
	translator translate.Translator
	backends   imagegen.Backends
	dedup      store.DedupRepo
	history    store.HistoryRepo
	echoLength int
	now        func() time.Time
	wg         sync.WaitGroup
}

var _ models.ActionVisitor = (*Dispatcher)(nil)

// New creates a Dispatcher. registry must be shared with nothing else that
// starts jobs.
func New(client messaging.Client, registry *flow.Registry, translator translate.Translator, backends imagegen.Backends, opts ...Option) *Dispatcher {
	cfg := Opts{EchoLength: DefaultInProgressEchoLength, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.EchoLength <= 0 {
		cfg.EchoLength = DefaultInProgressEchoLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("Dispatcher config loaded",
		"echo_length", cfg.EchoLength,
		"max_prompt_length", cfg.MaxPromptLen,
		"dedup_set", cfg.Dedup != nil,
		"history_set", cfg.History != nil,
		"bot_kind", cfg.BotKind,
		"developer_set", cfg.DeveloperID != "")
	decider := flow.NewDecider(cfg.MaxPromptLen)
	if cfg.BotKind != "" {
		decider.Kind = cfg.BotKind
	}
	decider.DeveloperUserID = cfg.DeveloperID
	return &Dispatcher{
		client:     client,
		registry:   registry,
		decider:    decider,
		translator: translator,
		backends:   backends,
		dedup:      cfg.Dedup,
		history:    cfg.History,
		echoLength: cfg.EchoLength,
		now:        cfg.Now,
	}
}

// HandleEvent decides on and dispatches a single webhook event. Events that
// were already handled, judged by their webhook event ID, are skipped.
func (d *Dispatcher) HandleEvent(ctx context.Context, event models.Event) error {
	eventID := event.EventID()
	if d.dedup != nil && eventID != "" {
		fresh, err := d.dedup.RecordInbound(eventID, event.EventSource().UserID)
		if err != nil {
			slog.Error("Dispatcher.HandleEvent: dedup failed", "event_id", eventID, "error", err)
		} else if !fresh {
			slog.Info("Dispatcher.HandleEvent: skipping duplicate event", "event_id", eventID)
			return nil
		}
	}

	action := d.decider.Decide(event, d.registry)
	if action == nil {
		slog.Debug("Dispatcher.HandleEvent: no action", "event_id", eventID, "event_type", fmt.Sprintf("%T", event))
		return nil
	}
	err := action.Accept(ctx, d)

	if d.dedup != nil && eventID != "" {
		if mErr := d.dedup.MarkProcessed(eventID); mErr != nil {
			slog.Warn("Dispatcher.HandleEvent: mark processed failed", "event_id", eventID, "error", mErr)
		}
	}
	return err
}

// Wait blocks until every background job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// VisitChooseGeneratorOrCancel replies with the backend choice buttons.
func (d *Dispatcher) VisitChooseGeneratorOrCancel(ctx context.Context, a models.ChooseGeneratorOrCancel) error {
	return d.reply(ctx, a.ReplyToken, ChoiceMessage(a.Prompt))
}

// VisitCancel acknowledges a cancelled choice.
func (d *Dispatcher) VisitCancel(ctx context.Context, a models.Cancel) error {
	return d.reply(ctx, a.ReplyToken, messaging.Text{Text: msgCancelled})
}

// VisitGenerateStableDiffusion starts a Stable Diffusion job.
func (d *Dispatcher) VisitGenerateStableDiffusion(ctx context.Context, a models.GenerateStableDiffusion) error {
	return d.startGeneration(ctx, a)
}

// VisitGenerateAnythingV4 starts an Anything V4 job.
func (d *Dispatcher) VisitGenerateAnythingV4(ctx context.Context, a models.GenerateAnythingV4) error {
	return d.startGeneration(ctx, a)
}

// VisitTextTooLong tells the user the prompt limit.
func (d *Dispatcher) VisitTextTooLong(ctx context.Context, a models.TextTooLong) error {
	return d.reply(ctx, a.ReplyToken, messaging.Text{Text: TextTooLongMessage(a.MaxLength)})
}

// VisitInProgressWarning quotes the running prompt back to the user.
func (d *Dispatcher) VisitInProgressWarning(ctx context.Context, a models.InProgressWarning) error {
	return d.reply(ctx, a.ReplyToken, messaging.Text{Text: InProgressMessage(a.ActionInProgress.PromptText(), d.echoLength)})
}

// startGeneration registers the job before any external call and runs it in
// the background. A second job for the same user is refused here, which
// covers postbacks replayed from an old choice message.
func (d *Dispatcher) startGeneration(ctx context.Context, a models.NonImmediateAction) error {
	userID := a.Initiator()
	if err := d.registry.Put(userID, a); err != nil {
		if !errors.Is(err, flow.ErrAlreadyInProgress) {
			return err
		}
		running, ok := d.registry.Get(userID)
		if !ok {
			running = a
		}
		slog.Info("Dispatcher.startGeneration: refusing second job", "user_id", userID, "backend", a.Backend())
		return d.push(ctx, userID, messaging.Text{Text: InProgressMessage(running.PromptText(), d.echoLength)})
	}

	jobCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.registry.Remove(userID)
		d.runJob(jobCtx, a)
	}()
	return nil
}

func (d *Dispatcher) runJob(ctx context.Context, a models.NonImmediateAction) {
	rec := models.GenerationRecord{
		ID:        ulid.Make().String(),
		UserID:    a.Initiator(),
		Backend:   a.Backend(),
		Prompt:    a.PromptText(),
		StartedAt: d.now(),
	}
	slog.Info("Dispatcher.runJob: started", "id", rec.ID, "user_id", rec.UserID, "backend", rec.Backend)

	translated, urls, err := d.generate(ctx, a)
	rec.TranslatedPrompt = translated
	rec.FinishedAt = d.now()
	if err != nil {
		rec.Status = models.GenerationStatusFailed
		rec.Error = err.Error()
		slog.Error("Dispatcher.runJob: failed", "id", rec.ID, "user_id", rec.UserID, "backend", rec.Backend, "error", err)
		if pErr := d.push(ctx, rec.UserID, messaging.Text{Text: msgFailed}); pErr != nil {
			slog.Error("Dispatcher.runJob: failure notice not delivered", "id", rec.ID, "error", pErr)
		}
	} else {
		rec.Status = models.GenerationStatusSucceeded
		rec.ImageURLs = urls
		slog.Info("Dispatcher.runJob: finished", "id", rec.ID, "user_id", rec.UserID, "images", len(urls),
			"duration", rec.FinishedAt.Sub(rec.StartedAt))
	}

	if d.history != nil {
		if hErr := d.history.AddGeneration(rec); hErr != nil {
			slog.Error("Dispatcher.runJob: history not recorded", "id", rec.ID, "error", hErr)
		}
	}
}

// generate runs one job from the progress notice to the delivered images.
func (d *Dispatcher) generate(ctx context.Context, a models.NonImmediateAction) (string, []string, error) {
	userID := a.Initiator()
	gen, err := d.backends.Get(a.Backend())
	if err != nil {
		return "", nil, err
	}
	if err := d.push(ctx, userID, messaging.Text{Text: msgGenerating}); err != nil {
		return "", nil, fmt.Errorf("push progress: %w", err)
	}

	translated, err := d.translator.Translate(ctx, a.PromptText(), language.Japanese, language.English)
	if err != nil {
		return "", nil, fmt.Errorf("translate: %w", err)
	}
	slog.Debug("Dispatcher.generate: translated", "user_id", userID, "prompt", a.PromptText(), "translated", translated)

	urls, err := gen.Generate(ctx, translated)
	if err != nil {
		return translated, nil, fmt.Errorf("generate: %w", err)
	}
	if len(urls) == 0 {
		return translated, nil, imagegen.ErrNoOutput
	}
	if len(urls) > MaxImages {
		urls = urls[:MaxImages]
	}

	if err := d.push(ctx, userID, ResultMessages(urls)...); err != nil {
		return translated, urls, fmt.Errorf("push result: %w", err)
	}
	return translated, urls, nil
}

func (d *Dispatcher) reply(ctx context.Context, token string, msgs ...messaging.Message) error {
	if err := d.client.Reply(ctx, token, msgs...); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func (d *Dispatcher) push(ctx context.Context, userID string, msgs ...messaging.Message) error {
	if err := d.client.Push(ctx, userID, msgs...); err != nil {
		return fmt.Errorf("push to %s: %w", userID, err)
	}
	return nil
}

// ChoiceMessage builds the backend choice offered for prompt. The template
// text quotes the prompt, shortened to MaxChoiceTextLength. Each generation
// button carries the whole prompt in its postback data.
func ChoiceMessage(prompt string) messaging.Choice {
	return messaging.Choice{
		AltText: msgChoiceAltText,
		Text:    text.TruncateUTF16(prompt, MaxChoiceTextLength),
		Buttons: []messaging.Button{
			{
				Label:       labelStableDiffusion,
				Data:        postback.Encode(postback.GeneratePayload(models.BackendStableDiffusion, prompt)),
				DisplayText: labelStableDiffusion,
			},
			{
				Label:       labelAnythingV4,
				Data:        postback.Encode(postback.GeneratePayload(models.BackendAnythingV4, prompt)),
				DisplayText: labelAnythingV4,
			},
			{
				Label:       labelCancel,
				Data:        postback.Encode(postback.CancelPayload()),
				DisplayText: labelCancel,
			},
		},
	}
}

// ResultMessages is the completion notice followed by one image per URL.
func ResultMessages(urls []string) []messaging.Message {
	msgs := make([]messaging.Message, 0, len(urls)+1)
	msgs = append(msgs, messaging.Text{Text: msgDone})
	for _, u := range urls {
		msgs = append(msgs, messaging.Image{OriginalURL: u, PreviewURL: u})
	}
	return msgs
}

// TextTooLongMessage tells the user the prompt limit.
func TextTooLongMessage(limit int) string {
	return fmt.Sprintf("⚠️ %d文字以内で入力してください", limit)
}

// InProgressMessage quotes the running prompt, shortened to echoLength.
func InProgressMessage(prompt string, echoLength int) string {
	return fmt.Sprintf("⚠️ 「%s」を生成中です！", text.Truncate(prompt, echoLength))
}

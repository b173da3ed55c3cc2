package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rjooske/tabiji/internal/flow"
	"github.com/rjooske/tabiji/internal/imagegen"
	"github.com/rjooske/tabiji/internal/messaging"
	"github.com/rjooske/tabiji/internal/models"
	"github.com/rjooske/tabiji/internal/postback"
	"github.com/rjooske/tabiji/internal/store"
	"github.com/rjooske/tabiji/internal/testutil"
	"github.com/rjooske/tabiji/internal/text"
)

var fourURLs = []string{
	"https://replicate.delivery/pbxt/a/out-0.png",
	"https://replicate.delivery/pbxt/b/out-1.png",
	"https://replicate.delivery/pbxt/c/out-2.png",
	"https://replicate.delivery/pbxt/d/out-3.png",
}

type harness struct {
	client     *messaging.MockClient
	registry   *flow.Registry
	translator *testutil.FakeTranslator
	sd         *testutil.FakeGenerator
	av4        *testutil.FakeGenerator
	store      *store.InMemoryStore
	d          *Dispatcher
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		client:     messaging.NewMockClient(),
		registry:   flow.NewRegistry(),
		translator: &testutil.FakeTranslator{},
		sd:         &testutil.FakeGenerator{URLs: fourURLs},
		av4:        &testutil.FakeGenerator{URLs: fourURLs[:1]},
		store:      store.NewInMemoryStore(),
	}
	backends := imagegen.Backends{
		models.BackendStableDiffusion: h.sd,
		models.BackendAnythingV4:      h.av4,
	}
	opts = append([]Option{WithDedup(h.store), WithHistory(h.store)}, opts...)
	h.d = New(h.client, h.registry, h.translator, backends, opts...)
	return h
}

func user(id string) models.Source {
	return models.Source{Kind: models.SourceUser, UserID: id}
}

func textEvent(eventID, userID, replyToken, body string) models.MessageEvent {
	return models.MessageEvent{
		Delivery:   models.Delivery{WebhookEventID: eventID},
		Source:     user(userID),
		ReplyToken: replyToken,
		Message:    models.TextMessage{Text: body},
	}
}

func postbackEvent(eventID, userID, replyToken string, p postback.Payload) models.PostbackEvent {
	return models.PostbackEvent{
		Delivery:   models.Delivery{WebhookEventID: eventID},
		Source:     user(userID),
		ReplyToken: replyToken,
		Data:       postback.Encode(p),
	}
}

func texts(msgs []messaging.Message) []string {
	var out []string
	for _, m := range msgs {
		if t, ok := m.(messaging.Text); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

func TestHandleEvent_TextOffersChoice(t *testing.T) {
	h := newHarness()
	if err := h.d.HandleEvent(context.Background(), textEvent("E1", "U1", "R1", "　いろは　\n")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	replies := h.client.Replies()
	if len(replies) != 1 || replies[0].To != "R1" || len(replies[0].Messages) != 1 {
		t.Fatalf("unexpected replies %+v", replies)
	}
	choice, ok := replies[0].Messages[0].(messaging.Choice)
	if !ok {
		t.Fatalf("expected Choice, got %T", replies[0].Messages[0])
	}
	if choice.Text != "いろは" {
		t.Errorf("choice text = %q", choice.Text)
	}

	wantLabels := []string{"Stable Diffusion", "Anything V4", "キャンセル"}
	wantPayloads := []postback.Payload{
		postback.GeneratePayload(models.BackendStableDiffusion, "いろは"),
		postback.GeneratePayload(models.BackendAnythingV4, "いろは"),
		postback.CancelPayload(),
	}
	if len(choice.Buttons) != len(wantLabels) {
		t.Fatalf("expected %d buttons, got %d", len(wantLabels), len(choice.Buttons))
	}
	for i, b := range choice.Buttons {
		if b.Label != wantLabels[i] {
			t.Errorf("button %d label = %q, want %q", i, b.Label, wantLabels[i])
		}
		p, err := postback.Decode(b.Data)
		if err != nil {
			t.Errorf("button %d data does not decode: %v", i, err)
			continue
		}
		if p != wantPayloads[i] {
			t.Errorf("button %d payload = %+v, want %+v", i, p, wantPayloads[i])
		}
	}
	if len(h.client.Pushes()) != 0 {
		t.Error("choice must not push")
	}
}

func TestHandleEvent_Cancel(t *testing.T) {
	h := newHarness()
	if err := h.d.HandleEvent(context.Background(), postbackEvent("E1", "U1", "AAAA", postback.CancelPayload())); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	replies := h.client.Replies()
	if len(replies) != 1 || replies[0].To != "AAAA" {
		t.Fatalf("unexpected replies %+v", replies)
	}
	if got := texts(replies[0].Messages); !reflect.DeepEqual(got, []string{"キャンセルしました"}) {
		t.Errorf("unexpected reply %v", got)
	}
	if h.registry.Len() != 0 {
		t.Error("cancel must not touch the registry")
	}
}

func TestHandleEvent_TextTooLong(t *testing.T) {
	h := newHarness()
	body := strings.Repeat("⚠️", 101)
	if err := h.d.HandleEvent(context.Background(), textEvent("E1", "U1", "R1", body)); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	replies := h.client.Replies()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if got := texts(replies[0].Messages); !reflect.DeepEqual(got, []string{"⚠️ 100文字以内で入力してください"}) {
		t.Errorf("unexpected reply %v", got)
	}
}

func TestHandleEvent_ConfiguredPromptLimit(t *testing.T) {
	h := newHarness(WithMaxPromptLength(3))
	if err := h.d.HandleEvent(context.Background(), textEvent("E1", "U1", "R1", "あいうえ")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if got := texts(h.client.Replies()[0].Messages); !reflect.DeepEqual(got, []string{"⚠️ 3文字以内で入力してください"}) {
		t.Errorf("unexpected reply %v", got)
	}
}

func TestHandleEvent_IgnoredEvents(t *testing.T) {
	h := newHarness()
	events := []models.Event{
		models.OtherEvent{Type: "follow", Source: user("U1")},
		models.MessageEvent{Source: models.Source{Kind: models.SourceGroup, UserID: "U1"}, Message: models.TextMessage{Text: "hi"}},
		models.MessageEvent{Source: user("U1"), Message: models.OtherMessage{Type: "sticker"}},
		models.MessageEvent{Source: user("U1"), Message: models.TextMessage{Text: " \n "}},
		models.PostbackEvent{Source: user("U1"), Data: "malformed json"},
	}
	for _, e := range events {
		if err := h.d.HandleEvent(context.Background(), e); err != nil {
			t.Errorf("HandleEvent(%#v) failed: %v", e, err)
		}
	}
	if len(h.client.Replies()) != 0 || len(h.client.Pushes()) != 0 {
		t.Errorf("expected no messages, got replies=%v pushes=%v", h.client.Replies(), h.client.Pushes())
	}
}

func TestHandleEvent_GenerateSuccess(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(WithClock(func() time.Time { return now }))
	ev := postbackEvent("E1", "U1", "R1", postback.GeneratePayload(models.BackendStableDiffusion, "テスト"))

	if err := h.d.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	h.d.Wait()

	pushes := h.client.Pushes()
	if len(pushes) != 2 {
		t.Fatalf("expected 2 pushes, got %d: %+v", len(pushes), pushes)
	}
	if pushes[0].To != "U1" || !reflect.DeepEqual(texts(pushes[0].Messages), []string{"🎨 生成中…"}) {
		t.Errorf("unexpected progress push %+v", pushes[0])
	}
	wantResult := ResultMessages(fourURLs)
	if !reflect.DeepEqual(pushes[1].Messages, wantResult) {
		t.Errorf("result push = %+v, want %+v", pushes[1].Messages, wantResult)
	}
	if img, ok := pushes[1].Messages[1].(messaging.Image); !ok || img.OriginalURL != fourURLs[0] || img.PreviewURL != fourURLs[0] {
		t.Errorf("unexpected first image %+v", pushes[1].Messages[1])
	}

	if got := h.sd.PromptsSeen(); !reflect.DeepEqual(got, []string{"en:テスト"}) {
		t.Errorf("generator saw %v", got)
	}
	if len(h.av4.PromptsSeen()) != 0 {
		t.Error("wrong backend was called")
	}
	if h.registry.Len() != 0 {
		t.Error("registry entry not removed after success")
	}

	history, err := h.store.ListGenerations("U1", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected 1 history record, got %v, %v", history, err)
	}
	rec := history[0]
	if rec.Status != models.GenerationStatusSucceeded || rec.Backend != models.BackendStableDiffusion ||
		rec.Prompt != "テスト" || rec.TranslatedPrompt != "en:テスト" || len(rec.ImageURLs) != 4 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.StartedAt.Equal(now) || rec.ID == "" {
		t.Errorf("unexpected record metadata %+v", rec)
	}
}

func TestHandleEvent_GenerateAnythingV4(t *testing.T) {
	h := newHarness()
	ev := postbackEvent("E1", "schwa", "", postback.GeneratePayload(models.BackendAnythingV4, "いろはにほへと"))
	if err := h.d.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	h.d.Wait()
	if got := h.av4.PromptsSeen(); !reflect.DeepEqual(got, []string{"en:いろはにほへと"}) {
		t.Errorf("anything-v4 saw %v", got)
	}
	pushes := h.client.Pushes()
	if len(pushes) != 2 || len(pushes[1].Messages) != 2 {
		t.Errorf("expected done text plus one image, got %+v", pushes)
	}
}

func TestHandleEvent_CapsImages(t *testing.T) {
	h := newHarness()
	h.sd.URLs = append(append([]string(nil), fourURLs...), "https://example.com/5.png", "https://example.com/6.png")
	ev := postbackEvent("E1", "U1", "", postback.GeneratePayload(models.BackendStableDiffusion, "x"))
	if err := h.d.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	h.d.Wait()
	pushes := h.client.Pushes()
	if len(pushes) != 2 || len(pushes[1].Messages) != 1+MaxImages {
		t.Fatalf("expected %d result messages, got %+v", 1+MaxImages, pushes)
	}
}

func TestHandleEvent_GenerateFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		progress bool
	}{
		{"generator error", func(h *harness) { h.sd.Err = imagegen.ErrPredictionFailed }, true},
		{"translator error", func(h *harness) { h.translator.Err = errors.New("quota exceeded") }, true},
		{"empty output", func(h *harness) { h.sd.URLs = nil }, true},
		{"progress push fails", func(h *harness) { h.client.SetPushErr(errors.New("line down")) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			ev := postbackEvent("E1", "U1", "", postback.GeneratePayload(models.BackendStableDiffusion, "テスト"))
			if err := h.d.HandleEvent(context.Background(), ev); err != nil {
				t.Fatalf("HandleEvent failed: %v", err)
			}
			h.d.Wait()

			if h.registry.Len() != 0 {
				t.Error("registry entry not removed after failure")
			}
			if tt.progress {
				pushes := h.client.Pushes()
				if len(pushes) != 2 {
					t.Fatalf("expected progress and failure pushes, got %+v", pushes)
				}
				if got := texts(pushes[1].Messages); !reflect.DeepEqual(got, []string{msgFailed}) {
					t.Errorf("unexpected failure notice %v", got)
				}
			}
			history, err := h.store.ListGenerations("U1", 10)
			if err != nil || len(history) != 1 {
				t.Fatalf("expected 1 history record, got %v, %v", history, err)
			}
			if history[0].Status != models.GenerationStatusFailed || history[0].Error == "" {
				t.Errorf("unexpected record %+v", history[0])
			}
		})
	}
}

func TestHandleEvent_OneJobPerUser(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	h.sd.Release = release
	ctx := context.Background()
	prompt := strings.Repeat("あ", 40)

	if err := h.d.HandleEvent(ctx, postbackEvent("E1", "U1", "", postback.GeneratePayload(models.BackendStableDiffusion, prompt))); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if _, ok := h.registry.Get("U1"); !ok {
		t.Fatal("registry entry must exist as soon as the job is started")
	}

	// A new text while the job runs is answered with the in-progress warning.
	if err := h.d.HandleEvent(ctx, textEvent("E2", "U1", "R2", "別のプロンプト")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	want := "⚠️ 「" + strings.Repeat("あ", 29) + "…」を生成中です！"
	replies := h.client.Replies()
	if len(replies) != 1 || !reflect.DeepEqual(texts(replies[0].Messages), []string{want}) {
		t.Errorf("unexpected in-progress reply %+v", replies)
	}

	// A replayed generate postback starts nothing and warns instead.
	if err := h.d.HandleEvent(ctx, postbackEvent("E3", "U1", "", postback.GeneratePayload(models.BackendAnythingV4, "古い"))); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	// Another user is independent.
	if err := h.d.HandleEvent(ctx, textEvent("E4", "U2", "R4", "お")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if replies := h.client.Replies(); len(replies) != 2 {
		t.Errorf("expected choice reply for other user, got %+v", replies)
	} else if _, ok := replies[1].Messages[0].(messaging.Choice); !ok {
		t.Errorf("expected Choice for other user, got %T", replies[1].Messages[0])
	}

	close(release)
	h.d.Wait()

	if len(h.av4.PromptsSeen()) != 0 {
		t.Error("replayed postback must not start a second job")
	}
	if got := h.sd.PromptsSeen(); len(got) != 1 {
		t.Errorf("expected exactly one generation, got %v", got)
	}
	var warned bool
	for _, p := range h.client.Pushes() {
		if reflect.DeepEqual(texts(p.Messages), []string{want}) {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected pushed in-progress warning, got %+v", h.client.Pushes())
	}
	if h.registry.Len() != 0 {
		t.Error("registry not empty after Wait")
	}

	// After completion the user can start again.
	if err := h.d.HandleEvent(ctx, textEvent("E5", "U1", "R5", "次")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	last := h.client.Replies()[len(h.client.Replies())-1]
	if _, ok := last.Messages[0].(messaging.Choice); !ok {
		t.Errorf("expected Choice after job finished, got %T", last.Messages[0])
	}
}

func TestHandleEvent_SkipsRedelivery(t *testing.T) {
	h := newHarness()
	ev := textEvent("E-dup", "U1", "R1", "あ")
	for i := 0; i < 3; i++ {
		if err := h.d.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}
	if n := len(h.client.Replies()); n != 1 {
		t.Errorf("expected 1 reply for a redelivered event, got %d", n)
	}

	noID := textEvent("", "U1", "R2", "あ")
	for i := 0; i < 2; i++ {
		if err := h.d.HandleEvent(context.Background(), noID); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}
	if n := len(h.client.Replies()); n != 3 {
		t.Errorf("events without ID are never deduplicated, got %d replies", n)
	}
}

func TestHandleEvent_ReplyErrorReturned(t *testing.T) {
	h := newHarness()
	h.client.ReplyErr = errors.New("invalid reply token")
	err := h.d.HandleEvent(context.Background(), textEvent("E1", "U1", "R1", "あ"))
	if err == nil || !strings.Contains(err.Error(), "invalid reply token") {
		t.Errorf("expected reply error, got %v", err)
	}
}

func TestInProgressMessage(t *testing.T) {
	tests := []struct {
		prompt string
		n      int
		want   string
	}{
		{"あ", 30, "⚠️ 「あ」を生成中です！"},
		{strings.Repeat("a", 30), 30, "⚠️ 「" + strings.Repeat("a", 30) + "」を生成中です！"},
		{strings.Repeat("a", 31), 30, "⚠️ 「" + strings.Repeat("a", 29) + "…」を生成中です！"},
		{"馬に乗っている宇宙飛行士", 5, "⚠️ 「馬に乗っ…」を生成中です！"},
	}
	for _, tt := range tests {
		if got := InProgressMessage(tt.prompt, tt.n); got != tt.want {
			t.Errorf("InProgressMessage(%q, %d) = %q, want %q", tt.prompt, tt.n, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(messaging.NewMockClient(), flow.NewRegistry(), &testutil.FakeTranslator{}, imagegen.Backends{}, WithEchoLength(0))
	if d.echoLength != DefaultInProgressEchoLength {
		t.Errorf("echoLength = %d", d.echoLength)
	}
	if d.decider.MaxPromptLength != flow.DefaultMaxPromptLength {
		t.Errorf("MaxPromptLength = %d", d.decider.MaxPromptLength)
	}
}

func TestChoiceMessage_FitsLineLimits(t *testing.T) {
	prompts := []string{
		strings.Repeat("あ", 100),
		strings.Repeat("あ", 200),
		strings.Repeat("👨‍👩‍👧‍👦", 20),
		strings.Repeat("🇯🇵", 60),
	}
	for _, p := range prompts {
		if !postback.Fits(p) {
			continue
		}
		choice := ChoiceMessage(p)
		if n := text.UTF16Length(choice.Text); n > MaxChoiceTextLength {
			t.Errorf("choice text for %q has %d units", p, n)
		}
		for _, b := range choice.Buttons {
			if n := text.UTF16Length(b.Data); n > postback.MaxDataLength {
				t.Errorf("button %s data has %d units", b.Label, n)
			}
			if got, err := postback.Decode(b.Data); err == nil && got.Prompt != "" && got.Prompt != p {
				t.Errorf("button %s lost the full prompt", b.Label)
			}
		}
	}

	short := ChoiceMessage("猫")
	if short.Text != "猫" {
		t.Errorf("short prompt text = %q", short.Text)
	}
	long := ChoiceMessage(strings.Repeat("👨‍👩‍👧‍👦", 20))
	if !strings.HasSuffix(long.Text, text.Ellipsis) || !strings.HasPrefix(long.Text, "👨‍👩‍👧‍👦") {
		t.Errorf("long prompt text = %q", long.Text)
	}
}

func TestHandleEvent_PromptTooLongForButtons(t *testing.T) {
	h := newHarness()
	body := strings.Repeat("👨‍👩‍👧‍👦", 100)
	if err := h.d.HandleEvent(context.Background(), textEvent("E1", "U1", "R1", body)); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	replies := h.client.Replies()
	if len(replies) != 1 {
		t.Fatalf("unexpected replies %+v", replies)
	}
	if got := texts(replies[0].Messages); !reflect.DeepEqual(got, []string{"⚠️ 100文字以内で入力してください"}) {
		t.Errorf("unexpected reply %v", got)
	}
}

func TestHandleEvent_DevelopmentBot(t *testing.T) {
	h := newHarness(WithBotKind(flow.BotDevelopment, "U-dev"))
	ctx := context.Background()
	if err := h.d.HandleEvent(ctx, textEvent("E1", "U1", "R1", "!猫")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if err := h.d.HandleEvent(ctx, textEvent("E2", "U-dev", "R2", "猫")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if n := len(h.client.Replies()); n != 0 {
		t.Fatalf("development bot answered %d messages not meant for it", n)
	}

	if err := h.d.HandleEvent(ctx, textEvent("E3", "U-dev", "R3", "!猫")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	replies := h.client.Replies()
	if len(replies) != 1 || replies[0].To != "R3" {
		t.Fatalf("unexpected replies %+v", replies)
	}
	if choice, ok := replies[0].Messages[0].(messaging.Choice); !ok || choice.Text != "猫" {
		t.Errorf("expected a choice for the stripped prompt, got %#v", replies[0].Messages[0])
	}
}

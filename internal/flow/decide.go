package flow

import (
	"log/slog"
	"strings"

	"github.com/rjooske/tabiji/internal/models"
	"github.com/rjooske/tabiji/internal/postback"
	"github.com/rjooske/tabiji/internal/text"
)

// DefaultMaxPromptLength is the longest prompt, in perceived characters, the
// bot accepts.
const DefaultMaxPromptLength = 100

// Decider maps inbound events to actions. It only reads the in-progress state
// and never blocks, so it needs no lock of its own.
type Decider struct {
	MaxPromptLength int
	// Kind and DeveloperUserID select which text messages this instance
	// answers; see BotKind.ShouldRespond.
	Kind            BotKind
	DeveloperUserID string
}

// NewDecider returns a production Decider with the given prompt limit,
// falling back to DefaultMaxPromptLength for non-positive values.
func NewDecider(maxPromptLength int) Decider {
	if maxPromptLength <= 0 {
		maxPromptLength = DefaultMaxPromptLength
	}
	return Decider{MaxPromptLength: maxPromptLength, Kind: BotProduction}
}

// Decide returns the action for event, or nil when the bot should not react.
// Unknown event kinds are not errors; they simply produce no action.
func (d Decider) Decide(event models.Event, inProgress InProgress) models.Action {
	switch e := event.(type) {
	case models.MessageEvent:
		return d.DecideFromMessage(e, inProgress)
	case models.PostbackEvent:
		return d.DecideFromPostback(e)
	default:
		return nil
	}
}

// DecideFromMessage handles a message event. Messages meant for the other
// bot kind are dropped first. Emptiness and length are checked before the
// in-progress lookup, so an empty or over-long message never shows the
// in-progress warning. A prompt too long to fit in the choice buttons counts
// as over-long.
func (d Decider) DecideFromMessage(e models.MessageEvent, inProgress InProgress) models.Action {
	if !e.Source.IsSingleUser() {
		return nil
	}
	msg, ok := e.Message.(models.TextMessage)
	if !ok {
		return nil
	}

	raw := msg.Text
	devMessage := strings.HasPrefix(raw, DevPrefix)
	fromDeveloper := d.DeveloperUserID != "" && e.Source.UserID == d.DeveloperUserID
	if !d.Kind.ShouldRespond(fromDeveloper, devMessage) {
		return nil
	}
	if devMessage {
		raw = strings.TrimPrefix(raw, DevPrefix)
	}

	prompt := text.Normalize(raw)
	length := text.Length(prompt)
	if length == 0 {
		return nil
	}
	if length > d.MaxPromptLength || !postback.Fits(prompt) {
		return models.TextTooLong{ReplyToken: e.ReplyToken, MaxLength: d.MaxPromptLength}
	}

	if running, ok := inProgress.Get(e.Source.UserID); ok {
		return models.InProgressWarning{ReplyToken: e.ReplyToken, ActionInProgress: running}
	}
	return models.ChooseGeneratorOrCancel{ReplyToken: e.ReplyToken, Prompt: prompt}
}

// DecideFromPostback handles a button press. The registry and the prompt
// length are not re-checked here: both were checked when the buttons were
// offered, and the payload echoes that prompt.
func (d Decider) DecideFromPostback(e models.PostbackEvent) models.Action {
	if !e.Source.IsSingleUser() {
		return nil
	}
	p, err := postback.Decode(e.Data)
	if err != nil {
		slog.Debug("Decider.DecideFromPostback: ignoring payload", "user_id", e.Source.UserID, "error", err)
		return nil
	}

	switch p.Type {
	case postback.KindCancel:
		return models.Cancel{ReplyToken: e.ReplyToken}
	case postback.KindStableDiffusion:
		return models.GenerateStableDiffusion{InitiatorUserID: e.Source.UserID, Prompt: p.Prompt}
	case postback.KindAnythingV4:
		return models.GenerateAnythingV4{InitiatorUserID: e.Source.UserID, Prompt: p.Prompt}
	default:
		return nil
	}
}

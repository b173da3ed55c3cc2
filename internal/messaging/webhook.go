package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/rjooske/tabiji/internal/models"
)

// ErrInvalidSignature is returned by ParseWebhook when the request was not
// signed with the channel secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ParseWebhook verifies the request signature against channelSecret and
// converts every event in the body into a models.Event.
func ParseWebhook(channelSecret string, r *http.Request) ([]models.Event, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}
	events := make([]models.Event, 0, len(cb.Events))
	for _, ev := range cb.Events {
		events = append(events, ConvertEvent(ev))
	}
	slog.Debug("ParseWebhook: parsed", "destination", cb.Destination, "events", len(events))
	return events, nil
}

// ConvertEvent maps a LINE webhook event to the bot's event model. Event kinds
// the bot does not act on become models.OtherEvent.
func ConvertEvent(ev webhook.EventInterface) models.Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return convertMessageEvent(&e)
	case *webhook.MessageEvent:
		return convertMessageEvent(e)
	case webhook.PostbackEvent:
		return convertPostbackEvent(&e)
	case *webhook.PostbackEvent:
		return convertPostbackEvent(e)
	default:
		return models.OtherEvent{Type: ev.GetType(), Source: models.Source{Kind: models.SourceUnknown}}
	}
}

func convertMessageEvent(e *webhook.MessageEvent) models.MessageEvent {
	return models.MessageEvent{
		Delivery:   convertDelivery(e.WebhookEventId, e.DeliveryContext),
		Source:     convertSource(e.Source),
		ReplyToken: e.ReplyToken,
		Message:    convertMessage(e.Message),
	}
}

func convertPostbackEvent(e *webhook.PostbackEvent) models.PostbackEvent {
	var data string
	if e.Postback != nil {
		data = e.Postback.Data
	}
	return models.PostbackEvent{
		Delivery:   convertDelivery(e.WebhookEventId, e.DeliveryContext),
		Source:     convertSource(e.Source),
		ReplyToken: e.ReplyToken,
		Data:       data,
	}
}

func convertDelivery(id string, dc *webhook.DeliveryContext) models.Delivery {
	d := models.Delivery{WebhookEventID: id}
	if dc != nil {
		d.Redelivery = dc.IsRedelivery
	}
	return d
}

func convertSource(src webhook.SourceInterface) models.Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return models.Source{Kind: models.SourceUser, UserID: s.UserId}
	case *webhook.UserSource:
		return models.Source{Kind: models.SourceUser, UserID: s.UserId}
	case webhook.GroupSource:
		return models.Source{Kind: models.SourceGroup, UserID: s.UserId}
	case *webhook.GroupSource:
		return models.Source{Kind: models.SourceGroup, UserID: s.UserId}
	case webhook.RoomSource:
		return models.Source{Kind: models.SourceRoom, UserID: s.UserId}
	case *webhook.RoomSource:
		return models.Source{Kind: models.SourceRoom, UserID: s.UserId}
	default:
		return models.Source{Kind: models.SourceUnknown}
	}
}

func convertMessage(m webhook.MessageContentInterface) models.Message {
	switch c := m.(type) {
	case webhook.TextMessageContent:
		return models.TextMessage{Text: c.Text}
	case *webhook.TextMessageContent:
		return models.TextMessage{Text: c.Text}
	case nil:
		return nil
	default:
		return models.OtherMessage{Type: c.GetType()}
	}
}

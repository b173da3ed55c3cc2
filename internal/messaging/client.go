// Package messaging delivers bot replies to LINE users and turns signed
// webhook requests into inbound events.
package messaging

import (
	"context"
	"errors"
)

// ErrNoMessages is returned when Reply or Push is called with nothing to send.
var ErrNoMessages = errors.New("no messages to send")

// ErrTooManyMessages is returned when a single call carries more messages than
// the platform accepts at once.
var ErrTooManyMessages = errors.New("too many messages in one request")

// MaxMessagesPerRequest is the most messages one reply or push may carry.
const MaxMessagesPerRequest = 5

// Client defines a pluggable message delivery abstraction.
type Client interface {
	// Reply answers an inbound event. A reply token can be used only once and
	// only shortly after the event arrived.
	Reply(ctx context.Context, replyToken string, messages ...Message) error

	// Push sends messages to a user at any time.
	Push(ctx context.Context, userID string, messages ...Message) error
}

// Message is one outbound message. It is implemented by Text, Image and Choice.
type Message interface {
	isMessage()
}

// Text is a plain text message.
type Text struct {
	Text string
}

// Image is an image message. Both URLs must be absolute https URLs.
type Image struct {
	OriginalURL string
	PreviewURL  string
}

// Choice is a buttons template: a short text with up to four postback
// buttons. AltText is shown where templates cannot be rendered.
type Choice struct {
	AltText string
	Text    string
	Buttons []Button
}

// Button is one postback button of a Choice. Data is delivered back in the
// postback event; DisplayText is echoed into the chat as if the user typed it.
type Button struct {
	Label       string
	Data        string
	DisplayText string
}

func (Text) isMessage()   {}
func (Image) isMessage()  {}
func (Choice) isMessage() {}

func checkBatch(messages []Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	if len(messages) > MaxMessagesPerRequest {
		return ErrTooManyMessages
	}
	return nil
}

package models

// SourceKind is the kind of conversation an event came from.
type SourceKind string

const (
	SourceUser    SourceKind = "user"
	SourceGroup   SourceKind = "group"
	SourceRoom    SourceKind = "room"
	SourceUnknown SourceKind = "unknown"
)

// Source identifies who sent an event. UserID may be empty for group and room
// sources when the member has not consented to share it.
type Source struct {
	Kind   SourceKind
	UserID string
}

// IsSingleUser reports whether the event comes from a one-on-one chat.
func (s Source) IsSingleUser() bool {
	return s.Kind == SourceUser
}

// Event is an inbound webhook event that has already been authenticated and
// parsed. Concrete types are MessageEvent, PostbackEvent and OtherEvent.
type Event interface {
	EventSource() Source
	// EventID is the platform's webhook event ID, used for redelivery dedup.
	EventID() string
}

// Delivery carries the metadata shared by every event kind.
type Delivery struct {
	WebhookEventID string
	Redelivery     bool
}

// Message is the content of a MessageEvent.
type Message interface {
	MessageType() string
}

// TextMessage is a plain text message.
type TextMessage struct {
	Text string
}

// OtherMessage is any non-text message (image, sticker, location, ...).
type OtherMessage struct {
	Type string
}

func (TextMessage) MessageType() string    { return "text" }
func (m OtherMessage) MessageType() string { return m.Type }

// MessageEvent is a message sent by a user.
type MessageEvent struct {
	Delivery
	Source     Source
	ReplyToken string
	Message    Message
}

// PostbackEvent is a button press carrying data this bot generated.
type PostbackEvent struct {
	Delivery
	Source     Source
	ReplyToken string
	Data       string
}

// OtherEvent covers follow, unfollow, join, leave, member changes, beacon and
// every other event kind the bot does not act on.
type OtherEvent struct {
	Delivery
	Type   string
	Source Source
}

func (e MessageEvent) EventSource() Source  { return e.Source }
func (e PostbackEvent) EventSource() Source { return e.Source }
func (e OtherEvent) EventSource() Source    { return e.Source }

func (d Delivery) EventID() string { return d.WebhookEventID }

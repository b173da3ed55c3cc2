package flow

import (
	"errors"
	"fmt"
	"strings"
)

// BotKind says whether this instance is the production bot or the
// developer's bot sharing the same audience.
type BotKind string

const (
	BotProduction  BotKind = "production"
	BotDevelopment BotKind = "development"
)

// DevPrefix marks a message meant for the development bot. It is stripped
// before the text is used as a prompt.
const DevPrefix = "!"

// ErrUnknownBotKind is returned by ParseBotKind.
var ErrUnknownBotKind = errors.New("unknown bot kind")

// ParseBotKind parses a case-insensitive bot kind. The empty string is
// production.
func ParseBotKind(s string) (BotKind, error) {
	switch k := BotKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", BotProduction:
		return BotProduction, nil
	case BotDevelopment:
		return BotDevelopment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBotKind, s)
	}
}

// ShouldRespond reports whether a bot of this kind answers a message. The
// development bot answers only the developer's prefixed messages and the
// production bot answers everything else.
func (k BotKind) ShouldRespond(fromDeveloper, devMessage bool) bool {
	forDevBot := fromDeveloper && devMessage
	if k == BotDevelopment {
		return forDevBot
	}
	return !forDevBot
}

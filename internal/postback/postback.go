// Package postback encodes the choice buttons' data and validates it when the
// platform echoes it back in a postback event.
//
// The data crosses a trust boundary: it round-trips through the user's client,
// so Decode treats it as untrusted input and never panics.
package postback

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/rjooske/tabiji/internal/models"
	"github.com/rjooske/tabiji/internal/text"
)

const (
	// Version is the schema version written by Encode.
	Version = 1
	// MaxDataLength is LINE's limit on postback action data, in UTF-16 code units.
	MaxDataLength = 300
)

// Kind is the discriminant of a payload.
type Kind string

const (
	KindCancel          Kind = "cancel"
	KindStableDiffusion Kind = Kind(models.BackendStableDiffusion)
	KindAnythingV4      Kind = Kind(models.BackendAnythingV4)
)

// ErrInvalidPayload is returned for every payload Decode rejects.
var ErrInvalidPayload = errors.New("invalid postback payload")

// Payload is one of the closed set of postback shapes. Prompt is set only for
// the generation kinds.
type Payload struct {
	Type   Kind
	Prompt string
}

// CancelPayload returns the payload of the cancel button.
func CancelPayload() Payload {
	return Payload{Type: KindCancel}
}

// GeneratePayload returns the payload of the button that starts backend b.
func GeneratePayload(b models.Backend, prompt string) Payload {
	return Payload{Type: Kind(b), Prompt: prompt}
}

// Backend returns the backend a generation payload selects.
func (p Payload) Backend() (models.Backend, bool) {
	switch p.Type {
	case KindStableDiffusion, KindAnythingV4:
		return models.Backend(p.Type), true
	default:
		return "", false
	}
}

// Encode serializes p as a version 1 JSON object.
func Encode(p Payload) string {
	out := mustSet("", "v", Version)
	out = mustSet(out, "type", string(p.Type))
	if p.Type != KindCancel {
		out = mustSet(out, "prompt", p.Prompt)
	}
	return out
}

// mustSet panics only for an invalid path, and every path here is a constant.
func mustSet(json, path string, value interface{}) string {
	out, err := sjson.Set(json, path, value)
	if err != nil {
		panic(fmt.Sprintf("postback: set %q: %v", path, err))
	}
	return out
}

// Fits reports whether every generation button's data for prompt stays within
// MaxDataLength once encoded.
func Fits(prompt string) bool {
	for _, k := range []Kind{KindStableDiffusion, KindAnythingV4} {
		if text.UTF16Length(Encode(Payload{Type: k, Prompt: prompt})) > MaxDataLength {
			return false
		}
	}
	return true
}

// Decode parses raw and validates it against the known payload shapes.
// A payload without "v" is the unversioned form and is read as version 1.
// Unknown keys are ignored. When a key repeats, the first occurrence wins,
// unlike encoding/json which keeps the last.
func Decode(raw string) (Payload, error) {
	if !gjson.Valid(raw) {
		return Payload{}, fmt.Errorf("%w: not JSON", ErrInvalidPayload)
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return Payload{}, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}

	if v := root.Get("v"); v.Exists() {
		if v.Type != gjson.Number || v.Num != Version {
			return Payload{}, fmt.Errorf("%w: unsupported version %s", ErrInvalidPayload, v.Raw)
		}
	}

	typ := root.Get("type")
	if typ.Type != gjson.String {
		return Payload{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}

	switch kind := Kind(typ.Str); kind {
	case KindCancel:
		return CancelPayload(), nil
	case KindStableDiffusion, KindAnythingV4:
		prompt := root.Get("prompt")
		if prompt.Type != gjson.String || prompt.Str == "" {
			return Payload{}, fmt.Errorf("%w: %s without prompt", ErrInvalidPayload, kind)
		}
		return Payload{Type: kind, Prompt: prompt.Str}, nil
	default:
		return Payload{}, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, typ.Str)
	}
}

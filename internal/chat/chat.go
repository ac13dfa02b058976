// Package chat defines the contracts between the responder and a chat
// platform: the inbound event envelope, reply publishing and the user
// directory.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types the responder acts on.
const (
	EventMessage    = "message"
	EventAppMention = "app_mention"
)

// ErrMalformedEvent is returned when a webhook body is not a JSON object.
var ErrMalformedEvent = errors.New("chat: malformed event")

// Envelope is the outer webhook body. A non-empty Challenge marks a
// handshake that must be echoed back verbatim.
type Envelope struct {
	Challenge json.RawMessage `json:"challenge,omitempty"`
	Type      string          `json:"type"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Event     *Event          `json:"event,omitempty"`
}

// IsHandshake reports whether the body carried a challenge field.
func (e Envelope) IsHandshake() bool {
	return len(e.Challenge) > 0
}

// Event is the inner event payload.
type Event struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	Channel     string `json:"channel"`
	User        string `json:"user"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
}

// IdempotencyKey returns the platform-assigned message id, or "" when the
// delivery carries none.
func (e Event) IdempotencyKey() string {
	return e.ClientMsgID
}

// ParseEnvelope decodes a webhook body. Anything other than a JSON object
// yields ErrMalformedEvent.
func ParseEnvelope(body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrMalformedEvent
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return env, nil
}

// Profile is what the directory knows about a platform user.
type Profile struct {
	Username string
	Email    string // empty when the platform did not share one
}

// Publisher posts text to a channel. A non-empty threadTS makes the post a
// thread reply. It returns the platform-issued timestamp of the new message.
type Publisher interface {
	Publish(ctx context.Context, channel, text, threadTS string) (string, error)
}

// Directory resolves a platform user token to a profile.
type Directory interface {
	LookupUser(ctx context.Context, externalID string) (Profile, error)
}

// PublishError wraps a failed channel post.
type PublishError struct {
	Channel string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("chat: publish to %s: %v", e.Channel, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DirectoryError wraps a failed user lookup.
type DirectoryError struct {
	ExternalID string
	Err        error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("chat: lookup user %s: %v", e.ExternalID, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

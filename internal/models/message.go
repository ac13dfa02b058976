package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Author validation errors.
var (
	ErrNoAuthor        = errors.New("models: message has no author")
	ErrAmbiguousAuthor = errors.New("models: message has both a user and an agent author")
	ErrBotFlagMismatch = errors.New("models: is_bot does not match author kind")
)

// Message is one chat message, inbound from a User or outbound from an
// Agent. Messages are append-only.
//
// IdempotencyKey is globally unique when present. The composite
// idx_messages_fallback covers deliveries that carry no key.
type Message struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	Channel        string  `gorm:"size:100;not null;uniqueIndex:idx_messages_fallback,priority:1"`
	Text           string  `gorm:"type:text;not null"`
	ExternalTS     string  `gorm:"size:50;uniqueIndex:idx_messages_fallback,priority:2"`
	IdempotencyKey *string `gorm:"size:100;uniqueIndex"`
	IsBot          bool    `gorm:"default:false;uniqueIndex:idx_messages_fallback,priority:3"`
	UserID         *uint   `gorm:"index"`
	AgentID        *uint   `gorm:"index"`
	CreatedAt      time.Time
}

// Validate checks the author invariant: exactly one of UserID and AgentID
// is set, and IsBot is true exactly when the author is an Agent.
func (m *Message) Validate() error {
	switch {
	case m.UserID == nil && m.AgentID == nil:
		return ErrNoAuthor
	case m.UserID != nil && m.AgentID != nil:
		return ErrAmbiguousAuthor
	case m.IsBot != (m.AgentID != nil):
		return ErrBotFlagMismatch
	}
	return nil
}

// BeforeCreate rejects rows that break the author invariant.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	return m.Validate()
}

// Package store is the gorm-backed repository for agents, documents, users
// and messages. It returns plain model values and never exposes relation
// traversal.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *gorm.DB. It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// UserByExternalID looks up a user by platform token.
func (s *Store) UserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error
	if err != nil {
		return models.User{}, notFound(err, "user %s", externalID)
	}
	return u, nil
}

// CreateUser inserts u unless a user with the same ExternalID already
// exists, and returns the stored row either way. Two concurrent creators
// for one token both get the same user.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	db := s.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(&u)
	if result.Error != nil {
		return models.User{}, fmt.Errorf("store: create user %s: %w", u.ExternalID, result.Error)
	}
	if result.RowsAffected == 1 {
		return u, nil
	}
	return s.UserByExternalID(ctx, u.ExternalID)
}

// AgentByExternalID looks up an agent by its platform identity token.
func (s *Store) AgentByExternalID(ctx context.Context, externalID string) (models.Agent, error) {
	var a models.Agent
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&a).Error
	if err != nil {
		return models.Agent{}, notFound(err, "agent %s", externalID)
	}
	return a, nil
}

// Agents returns the full roster ordered by id.
func (s *Store) Agents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return agents, nil
}

// Documents returns an agent's documents in stored (creation) order.
func (s *Store) Documents(ctx context.Context, agentID uint) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).
		Order("created_at ASC").Order("id ASC").Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("store: documents for agent %d: %w", agentID, err)
	}
	return docs, nil
}

// RecentMessages returns up to limit messages authored by the agent in the
// channel, newest first.
func (s *Store) RecentMessages(ctx context.Context, agentID uint, channel string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND channel = ?", agentID, channel).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent messages for agent %d in %s: %w", agentID, channel, err)
	}
	return msgs, nil
}

// MessageExistsByKey reports whether a message with the idempotency key is stored.
func (s *Store) MessageExistsByKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("idempotency_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("store: lookup idempotency key %s: %w", key, err)
	}
	return count > 0, nil
}

// MessageExistsByFallback reports whether a message with the compound
// (channel, external timestamp, is_bot) key is stored.
func (s *Store) MessageExistsByFallback(ctx context.Context, channel, externalTS string, isBot bool) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("channel = ? AND external_ts = ? AND is_bot = ?", channel, externalTS, isBot).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("store: lookup %s/%s: %w", channel, externalTS, err)
	}
	return count > 0, nil
}

// ClaimInbound inserts an inbound message and reports whether this call
// created it. A false result with a nil error means a row with the same
// idempotency key or fallback key already exists; that is the
// authoritative duplicate signal.
func (s *Store) ClaimInbound(ctx context.Context, m *models.Message) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if result.Error != nil {
		return false, fmt.Errorf("store: claim inbound %s/%s: %w", m.Channel, m.ExternalTS, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// InsertMessage appends a message. Messages are never updated or deleted.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("store: insert message in %s: %w", m.Channel, err)
	}
	return nil
}

// notFound maps gorm.ErrRecordNotFound to ErrNotFound and wraps anything else.
func notFound(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("store: lookup %s: %w", what, err)
}

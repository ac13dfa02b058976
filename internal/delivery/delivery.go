// Package delivery publishes agent replies and records them.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
)

// Store is the subset of the repository delivery writes to.
type Store interface {
	InsertMessage(ctx context.Context, m *models.Message) error
}

// PersistError means the reply was published but could not be recorded.
type PersistError struct {
	Channel string
	TS      string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("delivery: record reply %s/%s: %v", e.Channel, e.TS, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Reply is one agent reply to deliver.
type Reply struct {
	Agent    models.Agent
	Channel  string
	Text     string
	ThreadTS string // empty for a top-level post
}

// Deliverer publishes then persists.
type Deliverer struct {
	publisher chat.Publisher
	store     Store
	log       *slog.Logger
}

// New creates a Deliverer. A nil logger uses slog.Default().
func New(p chat.Publisher, s Store, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{publisher: p, store: s, log: log}
}

// Deliver publishes r and records it as a bot message authored by r.Agent
// with the platform-issued timestamp. A publish failure records nothing.
// Neither step is retried.
func (d *Deliverer) Deliver(ctx context.Context, r Reply) (*models.Message, error) {
	ts, err := d.publisher.Publish(ctx, r.Channel, r.Text, r.ThreadTS)
	if err != nil {
		d.log.Error("publish failed", "channel", r.Channel, "agent", r.Agent.Name, "error", err)
		return nil, err
	}

	agentID := r.Agent.ID
	msg := &models.Message{
		Channel:    r.Channel,
		Text:       r.Text,
		ExternalTS: ts,
		IsBot:      true,
		AgentID:    &agentID,
	}
	if err := d.store.InsertMessage(ctx, msg); err != nil {
		perr := &PersistError{Channel: r.Channel, TS: ts, Err: err}
		d.log.Error("reply published but not recorded", "channel", r.Channel, "ts", ts, "agent", r.Agent.Name, "error", err)
		return nil, perr
	}
	d.log.Info("reply delivered", "channel", r.Channel, "ts", ts, "agent", r.Agent.Name, "message_id", msg.ID)
	return msg, nil
}

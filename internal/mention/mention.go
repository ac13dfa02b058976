// Package mention decides which agents an inbound message addresses.
package mention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/store"
)

var tokenPattern = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// Store is the subset of the repository the resolver reads.
type Store interface {
	AgentByExternalID(ctx context.Context, externalID string) (models.Agent, error)
	Agents(ctx context.Context) ([]models.Agent, error)
}

// Resolver finds candidate agents for a message.
type Resolver struct {
	store Store
	log   *slog.Logger
}

// New creates a Resolver. A nil logger uses slog.Default().
func New(s Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: s, log: log}
}

// FirstToken returns the identity token of the first <@TOKEN> mention in text.
func FirstToken(text string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolve returns the candidates for a message of the given event type.
//
// app_mention events address the single agent named by the first mention
// token. message events address every agent whose name occurs in the text,
// ignoring case, in roster order. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, eventType, text string) ([]models.Agent, error) {
	switch eventType {
	case chat.EventAppMention:
		return r.explicit(ctx, text)
	case chat.EventMessage:
		return r.byName(ctx, text)
	default:
		return nil, nil
	}
}

func (r *Resolver) explicit(ctx context.Context, text string) ([]models.Agent, error) {
	token, ok := FirstToken(text)
	if !ok {
		r.log.Warn("app mention without a mention token")
		return nil, nil
	}
	agent, err := r.store.AgentByExternalID(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Warn("mentioned agent not registered", "token", token)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mention: %w", err)
	}
	return []models.Agent{agent}, nil
}

func (r *Resolver) byName(ctx context.Context, text string) ([]models.Agent, error) {
	agents, err := r.store.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("mention: %w", err)
	}
	lower := strings.ToLower(text)
	var out []models.Agent
	for _, a := range agents {
		if a.Name == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(a.Name)) {
			out = append(out, a)
		}
	}
	return out, nil
}

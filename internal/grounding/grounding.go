// Package grounding assembles the per-agent context sent with every
// completion: the agent's documents followed by its recent messages in the
// channel.
package grounding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
)

// HistoryLimit is the number of recent messages included.
const HistoryLimit = 10

// Store is the subset of the repository the assembler reads.
type Store interface {
	Documents(ctx context.Context, agentID uint) ([]models.Document, error)
	RecentMessages(ctx context.Context, agentID uint, channel string, limit int) ([]models.Message, error)
}

// Assembler builds grounding context.
type Assembler struct {
	store Store
}

// New creates an Assembler.
func New(s Store) *Assembler {
	return &Assembler{store: s}
}

// DocumentContext returns the agent's document contents in stored order,
// joined by a single space.
func (a *Assembler) DocumentContext(ctx context.Context, agentID uint) (string, error) {
	docs, err := a.store.Documents(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("grounding: %w", err)
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, " "), nil
}

// BuildContext returns the document context, followed by a blank line and
// up to HistoryLimit of the agent's messages in channel, oldest first, when
// any exist. No size cap is applied.
func (a *Assembler) BuildContext(ctx context.Context, agent models.Agent, channel string) (string, error) {
	docs, err := a.DocumentContext(ctx, agent.ID)
	if err != nil {
		return "", err
	}
	recent, err := a.store.RecentMessages(ctx, agent.ID, channel, HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("grounding: %w", err)
	}
	if len(recent) == 0 {
		return docs, nil
	}

	var w strings.Builder
	w.WriteString(docs)
	w.WriteString("\n\n")
	writeHistory(&w, recent)
	return w.String(), nil
}

// writeHistory writes newest-first messages as chronological role-tagged lines.
func writeHistory(w *strings.Builder, newestFirst []models.Message) {
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		fmt.Fprintf(w, "%s: %s", roleTag(m), m.Text)
		if i > 0 {
			w.WriteString("\n")
		}
	}
}

func roleTag(m models.Message) string {
	if m.IsBot {
		return "Bot"
	}
	return "User"
}

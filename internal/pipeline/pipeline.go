// Package pipeline processes one webhook envelope end to end: filtering,
// deduplication, identity, inbound recording, candidate resolution and
// Direct-mode routing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/router"
)

// Status is where an envelope left the pipeline.
type Status string

const (
	StatusIgnored      Status = "ignored"
	StatusDuplicate    Status = "duplicate"
	StatusNoCandidates Status = "no_candidates"
	StatusRouted       Status = "routed"
	StatusFailed       Status = "failed"
)

// Deduper is the advisory duplicate check.
type Deduper interface {
	IsDuplicate(ctx context.Context, channel, externalTS, idempotencyKey string, isBot bool) (bool, error)
}

// Identities resolves platform users.
type Identities interface {
	Resolve(ctx context.Context, externalID string) (models.User, error)
}

// Claimer records inbound messages. A false result means the message is
// already stored.
type Claimer interface {
	ClaimInbound(ctx context.Context, m *models.Message) (bool, error)
}

// Mentions resolves candidate agents.
type Mentions interface {
	Resolve(ctx context.Context, eventType, text string) ([]models.Agent, error)
}

// Router generates replies.
type Router interface {
	Direct(ctx context.Context, in router.Inbound, candidates []models.Agent) []router.Result
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	Dedup      Deduper
	Identities Identities
	Claimer    Claimer
	Mentions   Mentions
	Router     Router
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline wires the stages together.
type Pipeline struct {
	dedup      Deduper
	identities Identities
	claimer    Claimer
	mentions   Mentions
	router     Router
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	switch {
	case opts.Dedup == nil:
		return nil, fmt.Errorf("pipeline: dedup is required")
	case opts.Identities == nil:
		return nil, fmt.Errorf("pipeline: identities is required")
	case opts.Claimer == nil:
		return nil, fmt.Errorf("pipeline: claimer is required")
	case opts.Mentions == nil:
		return nil, fmt.Errorf("pipeline: mentions is required")
	case opts.Router == nil:
		return nil, fmt.Errorf("pipeline: router is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		dedup:      opts.Dedup,
		identities: opts.Identities,
		claimer:    opts.Claimer,
		mentions:   opts.Mentions,
		router:     opts.Router,
		metrics:    opts.Metrics,
		log:        log,
	}, nil
}

// Handle processes env for the dispatcher.
func (p *Pipeline) Handle(ctx context.Context, env chat.Envelope) error {
	_, err := p.Process(ctx, env)
	return err
}

// Process runs env through every stage and reports where it stopped.
// Only storage failures are returned as errors; per-candidate reply
// failures are logged and counted.
func (p *Pipeline) Process(ctx context.Context, env chat.Envelope) (status Status, err error) {
	defer func() {
		if err != nil {
			status = StatusFailed
		}
		p.metrics.Event(string(status))
	}()

	ev := env.Event
	if ev == nil {
		p.log.Info("envelope has no event", "type", env.Type, "event_id", env.EventID)
		return StatusIgnored, nil
	}
	if reason := ignoreReason(ev); reason != "" {
		p.log.Debug("ignoring event", "type", ev.Type, "subtype", ev.Subtype, "reason", reason)
		return StatusIgnored, nil
	}

	log := p.log.With("channel", ev.Channel, "ts", ev.TS, "user", ev.User)
	key := ev.IdempotencyKey()

	dup, err := p.dedup.IsDuplicate(ctx, ev.Channel, ev.TS, key, false)
	if err != nil {
		return StatusFailed, fmt.Errorf("pipeline: %w", err)
	}
	if dup {
		log.Info("duplicate delivery, skipping", "client_msg_id", key)
		return StatusDuplicate, nil
	}

	user, err := p.identities.Resolve(ctx, ev.User)
	if err != nil {
		return StatusFailed, fmt.Errorf("pipeline: %w", err)
	}

	inbound := &models.Message{
		Channel:    ev.Channel,
		Text:       ev.Text,
		ExternalTS: ev.TS,
		UserID:     &user.ID,
	}
	if key != "" {
		inbound.IdempotencyKey = &key
	}
	created, err := p.claimer.ClaimInbound(ctx, inbound)
	if err != nil {
		return StatusFailed, fmt.Errorf("pipeline: %w", err)
	}
	if !created {
		log.Info("delivery already recorded by a concurrent task, skipping", "client_msg_id", key)
		return StatusDuplicate, nil
	}
	log.Info("message recorded", "message_id", inbound.ID)

	candidates, err := p.mentions.Resolve(ctx, ev.Type, ev.Text)
	if err != nil {
		return StatusFailed, fmt.Errorf("pipeline: %w", err)
	}
	if len(candidates) == 0 {
		log.Info("no agents addressed")
		return StatusNoCandidates, nil
	}

	results := p.router.Direct(ctx, router.Inbound{Channel: ev.Channel, Text: ev.Text, TS: ev.TS}, candidates)
	for _, r := range results {
		if r.Err != nil {
			log.Warn("reply not delivered", "agent", r.Agent.Name, "outcome", r.Outcome, "error", r.Err)
			continue
		}
		log.Info("reply delivered", "agent", r.Agent.Name, "reply_ts", r.Reply.ExternalTS)
	}
	return StatusRouted, nil
}

// ignoreReason returns why an event is not processed, or "" to process it.
func ignoreReason(ev *chat.Event) string {
	switch {
	case ev.Type != chat.EventMessage && ev.Type != chat.EventAppMention:
		return "unsupported type"
	case ev.BotID != "":
		return "sent by a bot"
	case ev.Subtype != "":
		return "message subtype"
	case ev.User == "" || ev.Channel == "" || ev.TS == "":
		return "missing user, channel or ts"
	}
	return ""
}

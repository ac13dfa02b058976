// Package router turns resolved candidates into delivered replies.
//
// Direct mode answers once per candidate, each independently. Arbitration
// mode asks the backend to pick a single agent from the whole roster and
// draft its reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/delivery"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"golang.org/x/sync/errgroup"
)

// PreviewRunes caps each agent's context preview in the arbitration prompt.
const PreviewRunes = 200

// DefaultMaxParallel bounds concurrent candidates in Direct mode.
const DefaultMaxParallel = 4

// ErrUnresolvedAgent is returned when an arbitration decision does not name
// a registered agent. Nothing is delivered.
var ErrUnresolvedAgent = errors.New("router: decision does not name a registered agent")

// Outcome classifies how one reply attempt ended.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeContextFailed    Outcome = "context_failed"
	OutcomeCompletionFailed Outcome = "completion_failed"
	OutcomePublishFailed    Outcome = "publish_failed"
	OutcomePersistFailed    Outcome = "persist_failed"
	OutcomeUnresolved       Outcome = "unresolved"
	OutcomePanicked         Outcome = "panicked"
)

// Inbound is the triggering message.
type Inbound struct {
	Channel string
	Text    string
	TS      string // thread anchor for replies; empty posts top-level
}

// Result is the outcome for one candidate.
type Result struct {
	Agent      models.Agent
	Outcome    Outcome
	Reply      *models.Message // set when Outcome is OutcomeDelivered
	Confidence float64         // arbitration only
	Err        error
}

// Grounder builds agent context.
type Grounder interface {
	BuildContext(ctx context.Context, agent models.Agent, channel string) (string, error)
	DocumentContext(ctx context.Context, agentID uint) (string, error)
}

// Completer talks to the completion backend.
type Completer interface {
	Complete(ctx context.Context, query, background, persona string) (string, error)
	CompleteStructured(ctx context.Context, prompt string) (*llm.Decision, error)
}

// Deliverer publishes and records replies.
type Deliverer interface {
	Deliver(ctx context.Context, r delivery.Reply) (*models.Message, error)
}

// Roster lists every registered agent.
type Roster interface {
	Agents(ctx context.Context) ([]models.Agent, error)
}

// Opts holds parameters for creating a Router.
type Opts struct {
	Grounder    Grounder
	Completer   Completer
	Deliverer   Deliverer
	Roster      Roster
	MaxParallel int // default DefaultMaxParallel
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Router runs reply generation.
type Router struct {
	grounder    Grounder
	completer   Completer
	deliverer   Deliverer
	roster      Roster
	maxParallel int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Grounder == nil {
		return nil, fmt.Errorf("router: grounder is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("router: completer is required")
	}
	if opts.Deliverer == nil {
		return nil, fmt.Errorf("router: deliverer is required")
	}
	if opts.Roster == nil {
		return nil, fmt.Errorf("router: roster is required")
	}
	r := &Router{
		grounder:    opts.Grounder,
		completer:   opts.Completer,
		deliverer:   opts.Deliverer,
		roster:      opts.Roster,
		maxParallel: opts.MaxParallel,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if r.maxParallel <= 0 {
		r.maxParallel = DefaultMaxParallel
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r, nil
}

// Direct generates one reply per candidate. Candidates run concurrently
// and in isolation: a failure is recorded in that candidate's Result and
// never affects the others. Results are in candidate order.
func (r *Router) Direct(ctx context.Context, in Inbound, candidates []models.Agent) []Result {
	results := make([]Result, len(candidates))
	var g errgroup.Group
	g.SetLimit(r.maxParallel)
	for i, agent := range candidates {
		i, agent := i, agent
		g.Go(func() error {
			results[i] = r.directOne(ctx, in, agent)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Router) directOne(ctx context.Context, in Inbound, agent models.Agent) (res Result) {
	res.Agent = agent
	log := r.log.With("agent", agent.Name, "channel", in.Channel, "ts", in.TS)
	defer func() {
		if p := recover(); p != nil {
			res = Result{Agent: agent, Outcome: OutcomePanicked, Err: fmt.Errorf("router: panic: %v", p)}
			log.Error("candidate panicked", "panic", p)
		}
		r.metrics.Reply("direct", string(res.Outcome))
	}()

	background, err := r.grounder.BuildContext(ctx, agent, in.Channel)
	if err != nil {
		log.Error("build context failed", "error", err)
		res.Outcome, res.Err = OutcomeContextFailed, err
		return res
	}
	log.Debug("context assembled", "context_len", len(background))

	text, err := r.completer.Complete(ctx, in.Text, background, agent.Name)
	if err != nil {
		log.Error("completion failed", "error", err)
		res.Outcome, res.Err = OutcomeCompletionFailed, err
		return res
	}

	return r.deliver(ctx, res, in, text)
}

// Arbitrate asks the backend to choose one agent from the full roster and
// draft its reply, then delivers it. The chosen agent id must name a
// registered agent; otherwise the result is OutcomeUnresolved with
// ErrUnresolvedAgent. Confidence is recorded but not thresholded.
func (r *Router) Arbitrate(ctx context.Context, in Inbound) (res Result, err error) {
	defer func() { r.metrics.Reply("arbitration", string(res.Outcome)) }()

	agents, err := r.roster.Agents(ctx)
	if err != nil {
		return Result{Outcome: OutcomeContextFailed, Err: err}, fmt.Errorf("router: load roster: %w", err)
	}
	if len(agents) == 0 {
		err := fmt.Errorf("%w: roster is empty", ErrUnresolvedAgent)
		return Result{Outcome: OutcomeUnresolved, Err: err}, err
	}

	prompt, err := r.arbitrationPrompt(ctx, agents, in.Text)
	if err != nil {
		return Result{Outcome: OutcomeContextFailed, Err: err}, err
	}

	decision, err := r.completer.CompleteStructured(ctx, prompt)
	if err != nil {
		r.log.Error("arbitration completion failed", "channel", in.Channel, "error", err)
		return Result{Outcome: OutcomeCompletionFailed, Err: err}, err
	}

	agent, ok := findAgent(agents, decision.AgentID)
	if !ok {
		err := fmt.Errorf("%w: agent_id %d (%q)", ErrUnresolvedAgent, decision.AgentID, decision.AgentName)
		r.log.Warn("arbitration picked an unknown agent", "agent_id", decision.AgentID, "agent_name", decision.AgentName)
		return Result{Outcome: OutcomeUnresolved, Confidence: decision.Confidence, Err: err}, err
	}
	if decision.AgentName != "" && !strings.EqualFold(decision.AgentName, agent.Name) {
		r.log.Warn("arbitration agent name disagrees with roster", "agent_id", agent.ID, "agent_name", decision.AgentName, "roster_name", agent.Name)
	}
	if strings.TrimSpace(decision.ReplyText) == "" {
		err := fmt.Errorf("router: arbitration reply for %s is empty", agent.Name)
		return Result{Agent: agent, Outcome: OutcomeCompletionFailed, Confidence: decision.Confidence, Err: err}, err
	}

	res = r.deliver(ctx, Result{Agent: agent, Confidence: decision.Confidence}, in, decision.ReplyText)
	return res, res.Err
}

func (r *Router) deliver(ctx context.Context, res Result, in Inbound, text string) Result {
	msg, err := r.deliverer.Deliver(ctx, delivery.Reply{
		Agent:    res.Agent,
		Channel:  in.Channel,
		Text:     text,
		ThreadTS: in.TS,
	})
	if err != nil {
		var perr *delivery.PersistError
		if errors.As(err, &perr) {
			res.Outcome = OutcomePersistFailed
		} else {
			res.Outcome = OutcomePublishFailed
		}
		res.Err = err
		return res
	}
	res.Outcome = OutcomeDelivered
	res.Reply = msg
	return res
}

func (r *Router) arbitrationPrompt(ctx context.Context, agents []models.Agent, text string) (string, error) {
	var w strings.Builder
	w.WriteString("Agents:\n")
	for _, a := range agents {
		docs, err := r.grounder.DocumentContext(ctx, a.ID)
		if err != nil {
			return "", fmt.Errorf("router: preview for %s: %w", a.Name, err)
		}
		fmt.Fprintf(&w, "- id: %d, name: %s, context: %s\n", a.ID, a.Name, truncate(docs, PreviewRunes))
	}
	w.WriteString("\nMessage:\n")
	w.WriteString(text)
	return w.String(), nil
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func findAgent(agents []models.Agent, id uint) (models.Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return models.Agent{}, false
}

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/config"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/dedup"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/delivery"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/grounding"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/identity"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/mention"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/pipeline"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/router"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/store"
	"gorm.io/gorm"
)

// platform is everything the responder needs from the chat workspace.
type platform interface {
	chat.Publisher
	chat.Directory
}

// app is the wired responder.
type app struct {
	store    *store.Store
	router   *router.Router
	pipeline *pipeline.Pipeline
}

type appDeps struct {
	DB          *gorm.DB
	Platform    platform
	LLM         *llm.Client
	MaxParallel int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// buildApp wires the processing stack over an already-migrated database.
func buildApp(deps appDeps) (*app, error) {
	s, err := store.New(deps.DB)
	if err != nil {
		return nil, err
	}
	ids, err := identity.New(identity.Opts{Store: s, Directory: deps.Platform, Logger: deps.Logger})
	if err != nil {
		return nil, err
	}
	r, err := router.New(router.Opts{
		Grounder:    grounding.New(s),
		Completer:   deps.LLM,
		Deliverer:   delivery.New(deps.Platform, s, deps.Logger),
		Roster:      s,
		MaxParallel: deps.MaxParallel,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Opts{
		Dedup:      dedup.New(s),
		Identities: ids,
		Claimer:    s,
		Mentions:   mention.New(s, deps.Logger),
		Router:     r,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{store: s, router: r, pipeline: p}, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// connectFromConfig loads config and opens a migrated database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

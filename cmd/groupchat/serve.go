package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat/slack"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/dispatch"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/gateway"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: "Migrates the database, seeds configured agents and serves the Slack\n" +
			"Events API webhook until interrupted. In-flight events are drained on shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := db.SeedAgents(gormDB, cfg.Agents); err != nil {
		return err
	}
	log.Info("database ready", "driver", cfg.Database.Driver, "agents", len(cfg.Agents))

	m := metrics.New()
	slackClient, err := slack.New(slack.ClientOpts{BotToken: cfg.Slack.BotToken})
	if err != nil {
		return err
	}
	llmClient, err := llm.New(llm.Opts{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout(),
		Observe: m.ObserveLLM,
	})
	if err != nil {
		return err
	}

	a, err := buildApp(appDeps{
		DB:          gormDB,
		Platform:    slackClient,
		LLM:         llmClient,
		MaxParallel: cfg.Router.MaxParallel,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Opts{
		Handler:     a.pipeline.Handle,
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		TaskTimeout: cfg.Dispatch.TaskTimeout(),
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	m.RegisterQueueDepth(dispatcher.Len)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	dispatcher.Start(ctx)

	if port == 0 {
		port = cfg.Server.Port
	}
	serveErr := gateway.Start(ctx, gateway.Opts{
		Submitter:     dispatcher,
		WebhookPath:   cfg.Server.WebhookPath,
		SigningSecret: cfg.Slack.SigningSecret,
		RateLimit:     cfg.Server.RateLimit.RPS,
		Burst:         cfg.Server.RateLimit.Burst,
		Metrics:       m,
		Logger:        log,
		Port:          port,
		Out:           out,
	})

	fmt.Fprintln(out, "Draining in-flight events...")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.TaskTimeout())
	defer cancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn("drain incomplete", "error", err)
	}
	return serveErr
}

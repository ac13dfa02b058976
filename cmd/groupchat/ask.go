package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat/slack"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/llm"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/router"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		thread     string
	)

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Let the model pick one agent to answer a message",
		Long: "Runs arbitration: the model chooses the best agent for the message\n" +
			"and that agent's reply is posted to the channel.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slackClient, err := slack.New(slack.ClientOpts{BotToken: cfg.Slack.BotToken})
			if err != nil {
				return err
			}
			llmClient, err := llm.New(llm.Opts{
				APIKey:  cfg.LLM.APIKey,
				BaseURL: cfg.LLM.BaseURL,
				Model:   cfg.LLM.Model,
				Timeout: cfg.LLM.Timeout(),
			})
			if err != nil {
				return err
			}
			a, err := buildApp(appDeps{DB: gormDB, Platform: slackClient, LLM: llmClient, Logger: log})
			if err != nil {
				return err
			}
			return runAsk(context.Background(), cmd.OutOrStdout(), a.router, router.Inbound{
				Channel: channel,
				Text:    strings.Join(args, " "),
				TS:      thread,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to post the reply in")
	cmd.Flags().StringVar(&thread, "thread", "", "thread timestamp to reply under")
	cmd.MarkFlagRequired("channel")
	return cmd
}

type arbitrator interface {
	Arbitrate(ctx context.Context, in router.Inbound) (router.Result, error)
}

func runAsk(ctx context.Context, out io.Writer, r arbitrator, in router.Inbound) error {
	res, err := r.Arbitrate(ctx, in)
	if res.Agent.ID != 0 {
		fmt.Fprintf(out, "Agent:      %s (id %d)\n", res.Agent.Name, res.Agent.ID)
		fmt.Fprintf(out, "Confidence: %.2f\n", res.Confidence)
	}
	fmt.Fprintf(out, "Outcome:    %s\n", res.Outcome)
	if res.Reply != nil {
		fmt.Fprintf(out, "Reply ts:   %s\n", res.Reply.ExternalTS)
	}
	if err != nil {
		return fmt.Errorf("arbitration: %w", err)
	}
	return nil
}

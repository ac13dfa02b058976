package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "groupchat.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groupchat",
		Short: "Groupchat: multi-agent LLM responder for Slack",
		Long: "Groupchat receives Slack Events API webhooks and answers as the agents\n" +
			"mentioned in a message, each grounded on its own documents and the\n" +
			"channel's recent history.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newAskCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "groupchat %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	// A missing .env is normal in production; real env vars still apply.
	_ = godotenv.Load()
	os.Exit(execute(newRootCmd()))
}

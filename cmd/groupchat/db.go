package main

import (
	"fmt"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func newDBSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the agents and documents listed in config",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := db.SeedAgents(gormDB, cfg.Agents); err != nil {
				return err
			}
			fmt.Fprintf(out, "Seeded %d agents:", len(cfg.Agents))
			for _, a := range cfg.Agents {
				fmt.Fprintf(out, " %s", a.Name)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

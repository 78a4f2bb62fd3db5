package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"soundmint.org/internal/config"
	"soundmint.org/internal/migrate"
	"soundmint.org/internal/store/pg"
)

type commandContext struct {
	configFlag string
	envFlag    string
	timeout    time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}
	rootCmd := &cobra.Command{
		Use:           "soundmint-migrate",
		Short:         "Manage the soundmint database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.envFlag, "env-dir", "config/", "Directory holding .env files")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 30*time.Second, "Overall command timeout")

	rootCmd.AddCommand(
		newUpCommand(ctx),
		newDownCommand(ctx),
		newStatusCommand(ctx),
		newPendingCommand(ctx),
		newPruneCommand(ctx),
	)
	return rootCmd
}

// withStore opens the configured database for the duration of fn.
func (c *commandContext) withStore(parent context.Context, fn func(context.Context, *pg.Store) error) error {
	cfg, err := config.Load(c.configFlag, c.envFlag)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("database is not configured: set database.host and database.name")
	}
	store, err := pg.Open(cfg.Database.DSN(), pg.Pool{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()
	return fn(ctx, store)
}

func newUpCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(ctx context.Context, store *pg.Store) error {
				applied, err := migrate.NewManager(store.DB()).Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func newDownCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(ctx context.Context, store *pg.Store) error {
				name, err := migrate.NewManager(store.DB()).Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			})
		},
	}
}

func newStatusCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(ctx context.Context, store *pg.Store) error {
				history, err := migrate.NewManager(store.DB()).Status(ctx)
				if err != nil {
					return err
				}
				if len(history) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(statusRows(history)))
				return nil
			})
		},
	}
}

func newPendingCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List migrations not yet applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(ctx context.Context, store *pg.Store) error {
				pending, err := migrate.NewManager(store.DB()).Pending(ctx)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
					return nil
				}
				for _, name := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newPruneCommand(c *commandContext) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune-snapshots",
		Short: "Delete all but the newest engine snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1")
			}
			return c.withStore(cmd.Context(), func(ctx context.Context, store *pg.Store) error {
				removed, err := store.PruneSnapshots(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d snapshot(s), kept %d\n", removed, keep)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "Number of newest snapshots to keep")
	return cmd
}

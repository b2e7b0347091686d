package main

import (
	"InsureLedger/internal/persistence"
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres event log schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					pending, err := m.Pending(ctx)
					if err != nil {
						return err
					}
					if len(pending) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
						return nil
					}
					for _, name := range pending {
						fmt.Fprintf(cmd.OutOrStdout(), "pending: %s\n", name)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *persistence.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.PostgresEnabled() {
		return fmt.Errorf("postgres.dsn is not configured")
	}

	logger := commonLogger("migrate")
	db, err := persistence.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger))
}

package main

import (
	"context"
	"fmt"

	pgstore "github.com/nidhogg/nuka-heartbeat/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if cfg.Database.Postgres.DSN == "" {
				return fmt.Errorf("database.postgres.dsn is not set")
			}
			logger, err := newLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
			if err != nil {
				return err
			}
			defer ps.Close()
			if err := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("dir", cfg.Database.Postgres.Migrations))
			return nil
		},
	}
}

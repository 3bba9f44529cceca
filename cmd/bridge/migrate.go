package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/bridge/internal/audit"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the audit log schema migrations to DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Audit.DatabaseURL == "" {
				return errors.New("migrate: no database configured (set DATABASE_URL or audit.database_url)")
			}
			db, err := audit.OpenPostgres(cmd.Context(), cfg.Audit.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := audit.Migrate(db); err != nil {
				return err
			}
			log.Info("audit schema up to date", zap.String("database", "postgres"))
			return nil
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.StoreDriver != app.StoreDriverPostgres {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}
			version, err := db.Migrate(cfg.PGDSN, migrations.FS)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", slog.Uint64("version", uint64(version)))
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

// Command gatekeeper serves and administers the role-based access control
// core.
//
// Subcommands:
//
//	serve        run the HTTP API
//	migrate      apply embedded database migrations and exit
//	seed         create the catalog, default roles and bootstrap admin
//	permissions  print the permission catalog
//	check        answer an authorization query for a user
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Role-based access control for the document workflow admin",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		seedCmd(),
		permissionsCmd(),
		checkCmd(),
	)
	return root
}

func loadConfig() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

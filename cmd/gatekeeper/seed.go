package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/bootstrap"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the permission catalog, default roles and bootstrap admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			bundle, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer bundle.Close()

			registry, err := rbac.LoadRegistry(cfg.PermissionCatalog)
			if err != nil {
				return fmt.Errorf("permission catalog: %w", err)
			}
			res, err := bootstrap.Seed(cmd.Context(), bundle.Store, registry, users.BcryptHasher{}, seedOptions(cfg), logger)
			if err != nil {
				return err
			}
			printSeedResult(cmd, cfg.BootstrapAdminUsername, res)
			return nil
		},
	}
}

func printSeedResult(cmd *cobra.Command, admin string, res bootstrap.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "permissions synced: %d\n", res.PermissionsSynced)
	if len(res.RolesCreated) > 0 {
		fmt.Fprintf(out, "roles created: %s\n", strings.Join(res.RolesCreated, ", "))
	} else {
		fmt.Fprintln(out, "roles created: none")
	}
	switch {
	case res.AdminCreated:
		fmt.Fprintf(out, "admin user created: %s\n", admin)
	case res.AdminSkipped:
		fmt.Fprintln(out, "admin user skipped: BOOTSTRAP_ADMIN_PASSWORD not set")
	default:
		fmt.Fprintln(out, "admin user already exists")
	}
}

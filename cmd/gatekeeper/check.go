package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

func checkCmd() *cobra.Command {
	var role bool
	cmd := &cobra.Command{
		Use:   "check <user-id> <permission|role>",
		Short: "Report whether a user holds a permission or role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			bundle, err := app.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer bundle.Close()
			return runCheck(cmd, rbac.NewAuthorizer(bundle.Store, nil), userID, args[1], role)
		},
	}
	cmd.Flags().BoolVar(&role, "role", false, "treat the second argument as a role name")
	return cmd
}

func runCheck(cmd *cobra.Command, authz *rbac.Authorizer, userID int64, subject string, role bool) error {
	var (
		granted bool
		err     error
	)
	if role {
		granted, err = authz.HasRole(cmd.Context(), userID, subject)
	} else {
		perm, perr := rbac.ParsePermissionID(subject)
		if perr != nil {
			return perr
		}
		granted, err = authz.HasPermission(cmd.Context(), userID, perm)
	}
	if err != nil {
		return err
	}
	verdict := "denied"
	if granted {
		verdict = "granted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %d %s: %s\n", userID, subject, verdict)
	return nil
}

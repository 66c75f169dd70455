package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

func permissionsCmd() *cobra.Command {
	var (
		catalog string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Print the permission catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := rbac.LoadRegistry(catalog)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(registry.List())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDESCRIPTION")
			for _, p := range registry.List() {
				fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "additional catalog YAML file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

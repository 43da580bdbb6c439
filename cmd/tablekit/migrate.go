package main

import (
	"github.com/spf13/cobra"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and seed system data",
		Long:  "Create every table the registered specs need, then seed permissions and the built-in roles. Safe to run repeatedly.",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	cmd.Flags().StringSlice(adminFlag, nil, "user ids granted the admin role")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	adminUsers, err := cmd.Flags().GetStringSlice(adminFlag)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.prepare(cmd.Context(), adminUsers); err != nil {
		return err
	}
	cmd.Printf("schema ready for %d tables\n", len(rt.specs))
	return nil
}

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/bootstrap"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
)

func NewWipeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Drop every table the engine manages",
		Args:  cobra.NoArgs,
		RunE:  runWipe,
	}
	cmd.Flags().Bool("yes", false, "confirm dropping all data")
	return cmd
}

func runWipe(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return errors.New("refusing to wipe without --yes")
	}
	rt, err := openRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	repo := persistence.NewSchemaRepository(rt.conn.DB(), rt.conn.Dialect())
	defs := bootstrap.TableDefinitions(rt.specs)
	// join tables reference their owners, so drop in reverse
	for i := len(defs) - 1; i >= 0; i-- {
		rt.log.Info("dropping table", zap.String("table", defs[i].TableName))
		if err := repo.DropTable(cmd.Context(), defs[i].TableName); err != nil {
			return err
		}
	}
	cmd.Printf("dropped %d tables\n", len(defs))
	return nil
}

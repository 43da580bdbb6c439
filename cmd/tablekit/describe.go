package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/tablekit/internal/bootstrap"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

const outputFlag = "output"

func NewDescribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe [table]",
		Short: "Print the capability description of the built-in tables",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDescribe,
	}
	cmd.Flags().StringP(outputFlag, "o", "yaml", "output format, yaml or json")
	return cmd
}

func runDescribe(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString(outputFlag)
	if err != nil {
		return err
	}
	specs, err := bootstrap.StandardSpecs()
	if err != nil {
		return err
	}

	var out []tablespec.Description
	for _, spec := range specs {
		if len(args) == 1 && spec.Name() != args[0] {
			continue
		}
		out = append(out, spec.Describe())
	}
	if len(args) == 1 && len(out) == 0 {
		return fmt.Errorf("unknown table %q", args[0])
	}

	w := cmd.OutOrStdout()
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return fmt.Errorf("unknown output format %q", format)
}

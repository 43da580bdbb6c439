package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscrm/tablekit/pkg/auth"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().String("name", "", "display name carried in the token")
	cmd.Flags().String("email", "", "email carried in the token")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	if name == "" {
		name = args[0]
	}

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	token, err := issuer.GenerateToken(visibility.User{ID: args[0], Name: name, Email: email})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

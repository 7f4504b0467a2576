/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/online-library/apiserver/internal/server"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/types"
	"github.com/spf13/cobra"
)

var (
	setRoleEmail string
	setRoleRole  string
)

// setRoleCmd grants or revokes admin rights outside the HTTP API.
var setRoleCmd = &cobra.Command{
	Use:   "set-role",
	Short: "Set the role of a user by email",
	Long: `Set the role of a user by email. Usage:

	library set-role --email alice@example.com --role admin

Exit codes: 0 success (including no change), 1 error, 2 bad usage,
3 user not found.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return usageError("unexpected arguments: %s", strings.Join(args, " "))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		email := types.NormalizeEmail(setRoleEmail)
		if email == "" {
			return usageError("--email is required")
		}
		role, ok := types.ParseRole(setRoleRole)
		if !ok {
			return usageError("--role must be one of: %s, %s", types.RoleAdmin, types.RoleClient)
		}

		svc, err := server.OpenServices(cmd.Context(), withoutEvents(cfg))
		if err != nil {
			return err
		}
		defer svc.Close()

		user, changed, err := svc.Users.SetRole(cmd.Context(), email, role)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return withExitCode(exitNotFound, fmt.Errorf("user %s not found", email))
			}
			return err
		}

		if changed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Email, user.Role)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", user.Email, user.Role)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setRoleCmd)

	setRoleCmd.Flags().StringVar(&setRoleEmail, "email", "", "email of the account to change")
	setRoleCmd.Flags().StringVar(&setRoleRole, "role", "", "new role: admin or client")
}

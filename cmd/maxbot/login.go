package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in with the configured phone number and store the session",
		Long: `login requests an SMS code for --phone (or max.phone), reads it from
the terminal and stores the issued session token in the database, so that
"maxbot run" can start without asking again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			me, err := a.bot.Login(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (id %d)\n", me.Contact.DisplayName(), me.ID())
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Terminate the stored session on the server and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.bot.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

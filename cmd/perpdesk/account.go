package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				email = cfg.Account.Email
			}
			if password == "" {
				password = cfg.Account.Password
			}
			if err := desk.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, balance %.2f\n", email, desk.Balance.Float())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (default from config)")
	cmd.Flags().StringVar(&password, "password", "", "account password (default from config)")
	return cmd
}

func registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := desk.Register(cmd.Context(), name, email, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and all per-account state",
		Run: func(cmd *cobra.Command, args []string) {
			desk.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, balance, selection and the simulated lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			desk.Session.CheckAndRefresh(cmd.Context())
			if err := desk.Simulator.Restore(); err != nil {
				return err
			}
			return printJSON(cmd, desk.Snapshot())
		},
	}
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the account profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			profile, err := desk.API.Me(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Fetch and show the account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			if err := desk.SyncBalance(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", desk.Balance.Float())
			return nil
		},
	}
}

func cardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "card",
		Short: "Show the card to deposit to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			info, err := desk.API.CardNumber(cmd.Context())
			if err == nil {
				return printJSON(cmd, info)
			}
			// Older backends only expose the payments card endpoint.
			fallback, ferr := desk.API.CardInfo(cmd.Context())
			if ferr != nil {
				return errors.Join(err, ferr)
			}
			return printJSON(cmd, fallback)
		},
	}
}

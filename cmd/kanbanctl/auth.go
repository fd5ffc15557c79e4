package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-studio/api"
	"github.com/CrowderSoup/kanban-studio/apiclient"
)

func registerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.authenticate(cmd, args[0], a.client.Register)
		},
	}
	cmd.Flags().StringP("password", "p", "", "Password (read from stdin when empty)")
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.authenticate(cmd, args[0], a.client.Login)
		},
	}
	cmd.Flags().StringP("password", "p", "", "Password (read from stdin when empty)")
	return cmd
}

type authFunc func(ctx context.Context, creds api.Credentials) (*apiclient.Session, error)

func (a *app) authenticate(cmd *cobra.Command, username string, auth authFunc) error {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		var err error
		password, err = readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	session, err := auth(cmd.Context(), api.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	if err := session.Save(a.cfg.Client.SessionFile); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (user %d)\n", session.Username, session.UserID)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if err := a.client.Logout(cmd.Context()); err != nil && !apiclient.IsStatus(err, 401) {
				return err
			}
			if err := apiclient.RemoveSession(a.cfg.Client.SessionFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/panyam/storefront/client"
)

// readSecret returns flagValue, or the first line of stdin when it is empty
func readSecret(in io.Reader, flagValue, name string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in and keep the credentials for later commands.

The password is read from stdin when --password is not given.

Examples:
  storefront login --email owner@example.com --password s3cret
  echo s3cret | storefront login --email owner@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			secret, err := readSecret(cmd.InOrStdin(), password, "password")
			if err != nil {
				return err
			}
			user, err := a.client.Login(cmd.Context(), email, secret)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			return a.print(cmd, user)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var req client.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a business and its owner account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Email == "" {
				return fmt.Errorf("--email is required")
			}
			secret, err := readSecret(cmd.InOrStdin(), req.Password, "password")
			if err != nil {
				return err
			}
			req.Password = secret
			user, err := a.client.Register(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			return a.print(cmd, user)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Your name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Account password")
	cmd.Flags().StringVar(&req.BusinessName, "business", "", "Business name")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and forget the credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.client.Session().IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := a.client.Logout(cmd.Context()); err != nil {
				// local credentials are gone either way
				a.logger.Warn("server did not confirm logout", "err", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Long: `Show the signed-in user from the stored session.

With --remote the user is fetched from the backend and the stored session
is updated, which also picks up plan changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := a.client.Session()
			if !session.IsAuthenticated() {
				return fmt.Errorf("not logged in")
			}
			if remote {
				user, err := a.client.Me(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(cmd, user)
			}
			attrs := session.Attributes()
			if attrs == nil {
				attrs = &client.SessionAttributes{}
			}
			return a.print(cmd, attrs)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Fetch the user from the backend")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := a.client.Session()
			if !session.IsAuthenticated() {
				return fmt.Errorf("not logged in")
			}
			if !a.client.Refresh(cmd.Context()) {
				return fmt.Errorf("token refresh failed; run `storefront login` if this persists")
			}
			expiry := client.TokenExpiry(session.AccessToken())
			if expiry.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "Access token renewed")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Access token renewed, valid until %s\n", expiry.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newForgotPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Request a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.ForgotPassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "If the address is registered, a reset link is on its way")
			return nil
		},
	}
}

func newResetPasswordCmd(a *app) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			secret, err := readSecret(cmd.InOrStdin(), password, "password")
			if err != nil {
				return err
			}
			if err := a.client.ResetPassword(cmd.Context(), token, secret); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Reset token from the email")
	cmd.Flags().StringVar(&password, "password", "", "New password")
	return cmd
}

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in")

func (a *App) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			state, ok := m.Session()
			if !ok {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			fmt.Fprintf(out, "Signed in as %s\n", state.User.DisplayName())
			fmt.Fprintf(out, "  provider: %s\n", state.Session.Provider)
			fmt.Fprintf(out, "  session:  %s\n", state.Session.ID)
			fmt.Fprintf(out, "  expires:  %s\n", state.Session.Expiry().Format(time.RFC3339))
			return nil
		},
	}
}

func (a *App) newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the signed in user from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			if !m.IsAuthenticated() {
				return errNotSignedIn
			}
			u, err := m.FetchUser(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(u)
		},
	}
}

func (a *App) newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			if !m.IsAuthenticated() {
				return errNotSignedIn
			}
			resp, err := m.RefreshNow(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.ExpiresAt > 0 {
				fmt.Fprintf(out, "Token refreshed, expires %s\n", time.UnixMilli(resp.ExpiresAt).Format(time.RFC3339))
				return nil
			}
			fmt.Fprintln(out, "Token refreshed")
			return nil
		},
	}
}

func (a *App) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Log the device out and clear the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			if key == "" {
				key = a.cfg.ConnectionKey
			}

			if err := a.sessions.Logout(cmd.Context(), key); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "connection key (defaults to the configured one)")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLoginCommand creates the login command: a one-shot device login that
// persists the session and performs the initial pull.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the device in and pull the directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			if key == "" {
				key = a.cfg.ConnectionKey
			}

			sess, err := a.sessions.Login(cmd.Context(), key)
			if err != nil {
				return err
			}

			// Login triggers a pull; run it to completion here since this
			// is a one-shot command.
			if err := a.engine.Pull(cmd.Context()); err != nil {
				a.log.Warn("initial pull failed, cache unchanged", "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", sess.DeviceName, sess.DeviceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "connection key (defaults to the configured one)")
	return cmd
}

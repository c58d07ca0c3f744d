package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResyncCommand creates the resync command: the manual force-resync.
// Stuck attendance rows get a fresh retry budget, then a full pull and
// push run to completion.
func NewResyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Force a full pull and push, requeueing stuck rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			requeued, err := a.cache.RequeueStuck(cmd.Context())
			if err != nil {
				return err
			}

			if err := a.engine.Pull(cmd.Context()); err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}
			if err := a.engine.Push(cmd.Context()); err != nil {
				return fmt.Errorf("push failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "resync complete (%d stuck rows requeued)\n", requeued)
			return nil
		},
	}
}

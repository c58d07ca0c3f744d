package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapin/kioskd/internal/session"
)

// statusReport is the status command's output payload.
type statusReport struct {
	KioskID    string `json:"kiosk_id"`
	Session    string `json:"session"`
	DeviceName string `json:"device_name,omitempty"`
	Online     bool   `json:"online"`
	Identities int    `json:"identities"`
	Schedules  int    `json:"schedules"`
	Today      int    `json:"today"`
	Pending    int    `json:"pending"`
	Synced     int    `json:"synced"`
	Stuck      int    `json:"stuck"`
}

// NewStatusCommand creates the status command: cache and session counts,
// computed purely locally so it works identically offline.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cache and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			counts, err := a.cache.Counts(cmd.Context(), a.today())
			if err != nil {
				return err
			}

			report := statusReport{
				KioskID:    a.cfg.KioskID,
				Session:    session.StateLoggedOut.String(),
				Online:     a.remote.Online(),
				Identities: counts.Identities,
				Schedules:  counts.Schedules,
				Today:      counts.Today,
				Pending:    counts.Pending,
				Synced:     counts.Synced,
				Stuck:      counts.Stuck,
			}
			if sess, state := a.sessions.Current(); sess != nil {
				report.Session = state.String()
				report.DeviceName = sess.DeviceName
			} else if cached := a.sessions.Cached(); cached != nil {
				report.DeviceName = cached.DeviceName
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "kiosk:      %s\n", report.KioskID)
			fmt.Fprintf(out, "session:    %s", report.Session)
			if report.DeviceName != "" {
				fmt.Fprintf(out, " (%s)", report.DeviceName)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "online:     %v\n", report.Online)
			fmt.Fprintf(out, "identities: %d\n", report.Identities)
			fmt.Fprintf(out, "schedules:  %d\n", report.Schedules)
			fmt.Fprintf(out, "today:      %d (%d pending, %d synced, %d stuck)\n",
				report.Today, report.Pending, report.Synced, report.Stuck)
			return nil
		},
	}
}

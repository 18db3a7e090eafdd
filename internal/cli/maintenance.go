package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
)

// NewPromoteCommand creates the promote command. It re-runs waitlist
// promotion for a session, e.g. after a crash between cancel and promote.
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <session-id>",
		Short: "Promote the next eligible waitlisted booking of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), rootOpts.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			promoted, err := a.engine.PromoteNext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writePromotion(cmd.OutOrStdout(), rootOpts.Format, promoted)
		},
	}
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile <session-id>",
		Short: "Check a session's counters, waitlist and audit log for consistency",
		Long: `Compare a session's confirmed-seat counter and waitlist with its booking
records and verify its audit log is gap-free. With --repair the counter and
waitlist are corrected and promotion is re-run; the audit log is never
rewritten. Exits non-zero when inconsistencies were found and not repaired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), rootOpts.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Reconcile(cmd.Context(), args[0], repair)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), rootOpts.Format, report); err != nil {
				return err
			}
			if !report.Consistent() && !report.Repaired {
				return fmt.Errorf("session %s: %d inconsistencies found", report.SessionID, len(report.Findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "fix counter and waitlist mismatches")
	return cmd
}

func writePromotion(w io.Writer, format string, b *model.Booking) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]any{"promoted": b})
	}
	if b == nil {
		_, err := fmt.Fprintln(w, "nothing promoted")
		return err
	}
	_, err := fmt.Fprintf(w, "promoted booking %s (user %s)\n", b.ID, b.UserID)
	return err
}

func writeReport(w io.Writer, format string, r service.ReconcileReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "session:            %s\n", r.SessionID)
	fmt.Fprintf(w, "confirmed counter:  %d\n", r.ConfirmedCount)
	fmt.Fprintf(w, "confirmed bookings: %d\n", r.ConfirmedBookings)
	fmt.Fprintf(w, "waitlist entries:   %d\n", r.WaitlistEntries)
	if r.Consistent() {
		fmt.Fprintln(w, "status:             consistent")
	} else {
		fmt.Fprintf(w, "status:             %d finding(s)\n", len(r.Findings))
		for _, f := range r.Findings {
			if f.BookingID != "" {
				fmt.Fprintf(w, "  - [%s] %s: %s\n", f.Rule, f.BookingID, f.Detail)
			} else {
				fmt.Fprintf(w, "  - [%s] %s\n", f.Rule, f.Detail)
			}
		}
	}
	if r.Repaired {
		fmt.Fprintln(w, "repaired:           yes")
	}
	if r.Promoted != "" {
		fmt.Fprintf(w, "promoted:           %s\n", r.Promoted)
	}
	return nil
}

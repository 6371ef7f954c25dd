package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/service"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

func sweepCmd() *cobra.Command {
	var claim, contact bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the SLA sweeps once and print their reports",
		Long: `Run the claim-window and contact-window sweeps once.

With no flags both sweeps run. Breach events are persisted so running
servers deliver them to connected agents.

Examples:
  leadclaim sweep
  leadclaim sweep --claim`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !claim && !contact {
				claim, contact = true, true
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			s := store.New(a.db.DB)
			// The poller is never started: events only need persisting here.
			broker, closeRelay := newBroker(a, s, events.NewPoller(s, events.DefaultPollerConfig(), a.log))
			defer closeRelay()

			sla := service.NewSLAService(s, broker, service.SLAConfig{
				ClaimWindow:    a.cfg.SLA.ClaimWindow,
				ContactWindow:  a.cfg.SLA.ContactWindow,
				DefaultAdminID: a.cfg.SLA.DefaultAdminID,
			}, a.log)

			ctx := cmd.Context()
			var reports []*service.SweepReport
			if claim {
				r, err := sla.SweepClaimWindows(ctx)
				if err != nil {
					return err
				}
				reports = append(reports, r)
			}
			if contact {
				r, err := sla.SweepContactWindows(ctx)
				if err != nil {
					return err
				}
				reports = append(reports, r)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		},
	}

	cmd.Flags().BoolVar(&claim, "claim", false, "run the claim-window sweep")
	cmd.Flags().BoolVar(&contact, "contact", false, "run the contact-window sweep")

	return cmd
}

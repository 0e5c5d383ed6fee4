package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nuclight.org/gatekeeper/internal/telegram"
)

func sweepCmd() *cobra.Command {
	var chatID int64

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close expired votes once and print the status report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.RequireToken(); err != nil {
				return err
			}
			api, err := telegram.NewAPI(a.cfg.TelegramToken)
			if err != nil {
				return err
			}
			w, err := a.wire(ctx, api)
			if err != nil {
				return err
			}

			report, err := w.manager.ReportStatus(ctx, chatID)
			if err != nil {
				return err
			}
			text, err := report.Render()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if report.SweepErr != nil {
				return fmt.Errorf("sweep failed: %w", report.SweepErr)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat", 0, "limit the sweep to one chat (0 means every chat)")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		agentID string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one heartbeat cycle in-process and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if agentID != "" {
				summary, err := a.heartbeat.RunAgent(ctx, agentID)
				if err != nil {
					return err
				}
				return enc.Encode(summary)
			}
			report, err := a.heartbeat.RunCycle(ctx, force)
			if err != nil {
				return err
			}
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "wake only this agent")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the schedule gate")
	return cmd
}

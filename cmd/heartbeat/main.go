// nuka-heartbeat wakes the world's agents on a schedule and lets each one
// act for a few rounds.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "nuka-heartbeat",
		Short: "Autonomous heartbeat engine for Nuka World agents",
		Long: `nuka-heartbeat periodically wakes every agent in the world.

Each agent reads what happened since it last woke up, then acts through a
small catalog (browse, view, post, reply, give, remember, end) for a bounded
number of rounds before falling asleep again.`,
		SilenceUsage: true,
	}

	def := os.Getenv("CONFIG_PATH")
	if def == "" {
		def = "configs/heartbeat.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", def, "config file (yaml or json)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shiftwatch/fieldagent/internal/buildinfo"
	"github.com/shiftwatch/fieldagent/internal/config"
)

var (
	envFile  string
	agentURL string
)

var rootCmd = &cobra.Command{
	Use:   "fieldagent",
	Short: "Local resilience agent for the ShiftWatch safety client",
	Long: `fieldagent keeps a shift worker's safety client functional without
connectivity: incident reports are queued durably and delivered when the
link returns, emergency contacts and broadcast messages are cached
locally, and push subscriptions are managed against the ShiftWatch
gateway.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				log.Printf("⚠️ Could not load env file %s: %v", envFile, err)
			}
		} else {
			// Best effort; a missing .env is fine
			_ = godotenv.Load()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fieldagent %s (commit %s, built %s)\n",
			buildinfo.CommitTime, buildinfo.CommitHash, buildinfo.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to an env file to load before running")
	rootCmd.PersistentFlags().StringVar(&agentURL, "agent-url", "http://localhost:"+config.DefaultPort, "base URL of a running agent (for client commands)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

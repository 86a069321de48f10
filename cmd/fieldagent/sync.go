package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncWait bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a sync pass on a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/sync/trigger"
		if syncWait {
			path += "?wait=true"
		}

		body, err := agentPost(path, nil)
		if err != nil {
			return fmt.Errorf("sync trigger failed: %w", err)
		}

		printJSON(body)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncWait, "wait", false, "run the pass inline and print the full result")
}

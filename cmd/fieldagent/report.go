package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiftwatch/fieldagent/internal/models"
)

var (
	reportSeverity int
	reportShiftRef string
	reportOffShift bool
	reportQueue    bool
)

var reportCmd = &cobra.Command{
	Use:   "report <message>",
	Short: "File an incident report through a running agent",
	Long: `Creates an incident report draft on the local agent. With --queue the
report is immediately queued for delivery; otherwise it stays a draft
until queued from the client UI.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := models.ReportPayload{
			Severity:   reportSeverity,
			Message:    args[0],
			ShiftRef:   reportShiftRef,
			IsOffShift: reportOffShift,
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		body, err := agentPost("/api/reports", bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("report creation failed: %w", err)
		}

		var created models.QueuedReport
		if err := json.Unmarshal(body, &created); err != nil {
			return fmt.Errorf("unexpected agent response: %w", err)
		}
		fmt.Printf("Created report %s (%s)\n", created.ID, created.Status)

		if reportQueue {
			if _, err := agentPost("/api/reports/"+created.ID+"/queue", nil); err != nil {
				return fmt.Errorf("queueing failed: %w", err)
			}
			fmt.Println("Report queued for delivery")
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportSeverity, "severity", 1, "report severity level (1=info, 2=warning, 3=critical)")
	reportCmd.Flags().StringVar(&reportShiftRef, "shift", "", "shift reference the report belongs to")
	reportCmd.Flags().BoolVar(&reportOffShift, "off-shift", false, "mark the report as filed off shift")
	reportCmd.Flags().BoolVar(&reportQueue, "queue", false, "queue the report for delivery immediately")
}

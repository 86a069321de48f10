package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and push status of a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, err := agentGet("/api/sync/status")
		if err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", agentURL, err)
		}
		push, err := agentGet("/api/push/status")
		if err != nil {
			return err
		}
		pending, err := agentGet("/api/reports/pending")
		if err != nil {
			return err
		}

		fmt.Println("Sync:")
		printJSON(sync)
		fmt.Println("Push:")
		printJSON(push)
		fmt.Println("Pending reports:")
		printJSON(pending)
		return nil
	},
}

var agentClient = &http.Client{Timeout: 10 * time.Second}

func agentGet(path string) ([]byte, error) {
	resp, err := agentClient.Get(agentURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func agentPost(path string, payload io.Reader) ([]byte, error) {
	resp, err := agentClient.Post(agentURL+path, "application/json", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agent returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func printJSON(raw []byte) {
	var buf map[string]interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Printf("  %s\n", raw)
		return
	}
	pretty, _ := json.MarshalIndent(buf, "  ", "  ")
	fmt.Printf("  %s\n", pretty)
}

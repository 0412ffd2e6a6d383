package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func triggerCmd() *cobra.Command {
	var (
		server  string
		secret  string
		agentID string
		force   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running server to run a heartbeat cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("HEARTBEAT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("no secret: pass --secret or set HEARTBEAT_SECRET")
			}
			body, err := json.Marshal(map[string]interface{}{"agent_id": agentID, "force": force})
			if err != nil {
				return err
			}
			url := strings.TrimRight(server, "/") + "/api/heartbeat"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Heartbeat-Secret", secret)

			resp, err := (&http.Client{Timeout: timeout}).Do(req)
			if err != nil {
				return fmt.Errorf("trigger %s: %w", url, err)
			}
			defer resp.Body.Close()
			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("trigger %s: %s: %s", url, resp.Status, strings.TrimSpace(string(out)))
			}
			var pretty bytes.Buffer
			if json.Indent(&pretty, out, "", "  ") != nil {
				pretty.Reset()
				pretty.Write(out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:3210", "heartbeat server URL")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (default $HEARTBEAT_SECRET)")
	cmd.Flags().StringVar(&agentID, "agent", "", "wake only this agent")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the schedule gate")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "request timeout")
	return cmd
}

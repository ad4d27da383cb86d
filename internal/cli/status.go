package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check service health",
	Long:  "Probe the ChatRelay health and readiness endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, _ := cmd.Flags().GetString("url")
		baseURL = strings.TrimRight(baseURL, "/")

		client := &http.Client{Timeout: 5 * time.Second}

		type probe struct {
			Endpoint string `json:"endpoint"`
			Status   string `json:"status"`
			Detail   string `json:"detail,omitempty"`
		}

		probes := make([]probe, 0, 2)
		for _, path := range []string{"/healthz", "/readyz"} {
			p := probe{Endpoint: path}
			resp, err := client.Get(baseURL + path)
			if err != nil {
				p.Status = "unreachable"
				p.Detail = err.Error()
				probes = append(probes, p)
				continue
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				p.Status = "ok"
			} else {
				p.Status = fmt.Sprintf("http %d", resp.StatusCode)
			}

			var parsed map[string]string
			if err := json.Unmarshal(body, &parsed); err == nil {
				p.Detail = parsed["status"]
			}
			probes = append(probes, p)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(probes)
		}

		table := output.NewTable("ENDPOINT", "STATUS", "DETAIL")
		healthy := true
		for _, p := range probes {
			table.AddRow(p.Endpoint, p.Status, p.Detail)
			if p.Status != "ok" {
				healthy = false
			}
		}
		table.Render()

		if !healthy {
			return fmt.Errorf("service at %s is not healthy", baseURL)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("url", "http://localhost:8085", "base URL of the ChatRelay service")
	rootCmd.AddCommand(statusCmd)
}

package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/thumbsup-team/securenas/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the appliance is running",
	Long: `Query the local admin API's readiness endpoint and report the
appliance state. This does not require an admin token.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	cfg.API.ApplyDefaults()

	client := &http.Client{Timeout: 3 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/health/ready", cfg.API.Port)

	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("SecureNAS is not running")
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		State  string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unexpected response from API: %w", err)
	}

	fmt.Printf("SecureNAS is running\n")
	fmt.Printf("  State:    %s\n", body.State)
	fmt.Printf("  API port: %d\n", cfg.API.Port)
	return nil
}

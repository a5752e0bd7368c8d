package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gaugewatch/internal/app"
)

var (
	simulateSiteID   string
	simulateSiteName string
	simulateFlow     float64
	simulateP90      float64
	simulatePct      float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSiteID == "" {
			return fmt.Errorf("--site is required")
		}
		opts := app.SimulateAlertOptions{
			SiteID:      simulateSiteID,
			SiteName:    simulateSiteName,
			Flow:        simulateFlow,
			P90Flow:     simulateP90,
			PctChange3h: simulatePct,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSiteID, "site", "", "Site id to report in the alert")
	simulateCmd.Flags().StringVar(&simulateSiteName, "name", "Test Station", "Site name to report in the alert")
	simulateCmd.Flags().Float64Var(&simulateFlow, "flow", 1500, "Latest flow in cfs")
	simulateCmd.Flags().Float64Var(&simulateP90, "p90", 1000, "Historical P90 flow in cfs")
	simulateCmd.Flags().Float64Var(&simulatePct, "pct", 40, "Simulated 3-hour percent change")
}

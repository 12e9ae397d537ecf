package main

import (
	"github.com/spf13/cobra"

	"uavnetsim/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards",
	Long: "dashboard renders the Grafana dashboard JSON for the GreptimeDB tables and " +
		"the Prometheus metrics. GREPTIMEDB_DATASOURCE_UID and PROMETHEUS_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboard.Render(dashboardOut, dashboard.DefaultTables())
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}

package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the history store, broker and registration API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Health == nil {
			return fmt.Errorf("app not initialized")
		}

		results := app.Health.Check(cmd.Context())
		out := cmd.OutOrStdout()
		for _, r := range results {
			line := fmt.Sprintf("%-18s %-9s %s", r.Name, r.Status, r.Duration.Round(time.Millisecond))
			if r.Message != "" {
				line += "  " + r.Message
			}
			fmt.Fprintln(out, statusStyle(r.Status).Render(line))
		}

		overall := observability.OverallStatus(results)
		fmt.Fprintln(out, HeaderStyle.Render("overall: "+string(overall)))
		if overall == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func statusStyle(s observability.HealthStatus) lipgloss.Style {
	switch s {
	case observability.HealthStatusHealthy:
		return SuccessStyle
	case observability.HealthStatusDegraded:
		return MutedStyle
	default:
		return ErrorStyle
	}
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// Package history shows recorded dispatch runs.
package history

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var limit int

// Cmd is the history command group. Without a subcommand it lists runs.
var Cmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long: `List recorded runs, newest first, or show one run with its failures.

Examples:
  bulkreg history
  bulkreg history list --limit 5
  bulkreg history show 3f0c9a8e-2d8b-4a51-9d61-1f3c1f2b7a10`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recorded runs",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its failed registrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Service == nil {
			return fmt.Errorf("application not initialized")
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		run, err := app.Service.Run(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.HeaderStyle.Render("Run "+run.ID().String()))
		fmt.Fprintf(out, "  Event:    %s\n", run.EventID())
		fmt.Fprintf(out, "  Verb:     %s\n", run.Verb())
		fmt.Fprintf(out, "  State:    %s\n", run.State())
		fmt.Fprintf(out, "  Started:  %s\n", formatTime(run.StartedAt()))
		fmt.Fprintf(out, "  Finished: %s\n", formatTime(run.FinishedAt()))
		fmt.Fprintf(out, "  Resolved: %d of %d (%d succeeded, %d failed)\n",
			run.Completed(), run.Total(), run.Succeeded(), run.Failed())

		if len(run.Failures()) == 0 {
			fmt.Fprintln(out, "No failed registrations.")
			return nil
		}
		fmt.Fprintln(out, cli.HeaderStyle.Render("Failed registrations"))
		for _, group := range run.Failures() {
			fmt.Fprintf(out, "  session %d: %s\n", group.SessionID, strings.Join(group.TicketIDs, ", "))
		}
		return nil
	},
}

func runList(cmd *cobra.Command, args []string) error {
	app := cli.GetApp()
	if app == nil || app.Service == nil {
		return fmt.Errorf("application not initialized")
	}

	runs, err := app.Service.Runs(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	printRuns(out, runs)
	return nil
}

func printRuns(out io.Writer, runs []*domain.DispatchRun) {
	fmt.Fprintln(out, cli.HeaderStyle.Render(fmt.Sprintf("%-36s  %-8s  %-9s  %-16s  %s", "RUN", "VERB", "STATE", "STARTED", "RESULT")))
	for _, run := range runs {
		fmt.Fprintf(out, "%-36s  %-8s  %-9s  %-16s  %d/%d ok, %d failed\n",
			run.ID(),
			run.Verb(),
			run.State(),
			formatTime(run.StartedAt()),
			run.Succeeded(), run.Total(), run.Failed(),
		)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	Cmd.PersistentFlags().IntVarP(&limit, "limit", "l", 20, "maximum runs to list; 0 lists all")
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
}

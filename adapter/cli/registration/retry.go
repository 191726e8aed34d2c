package registration

import (
	"fmt"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type retryFlags struct {
	credentialFlags
	verb         string
	concurrency  int
	failedOutput string
}

func newRetryCmd() *cobra.Command {
	flags := &retryFlags{}

	cmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Re-send the failed registrations of an earlier run",
		Long: `Dispatch again every target that failed in a recorded run. The verb of the
original run is reused unless --verb is given.

Examples:
  bulkreg retry 3f0c9a8e-2d8b-4a51-9d61-1f3c1f2b7a10
  bulkreg retry 3f0c9a8e-2d8b-4a51-9d61-1f3c1f2b7a10 --verb remove`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp()
			if err != nil {
				return err
			}

			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			verb, err := parseVerb(flags.verb)
			if err != nil {
				return err
			}
			concurrency := flags.concurrency
			if concurrency == 0 {
				concurrency = app.Config.Concurrency
			}

			printer := cli.NewPrinter(cmd.OutOrStdout())
			report, err := app.Service.Retry(cmd.Context(), application.RetryRequest{
				Credentials:  flags.resolve(app),
				RunID:        runID,
				Verb:         verb,
				Concurrency:  concurrency,
				FailedOutput: flags.failedOutput,
			}, printer.Handle)
			if err != nil {
				return err
			}
			if report.Run.ID() == runID {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s has no failed registrations to retry.\n", runID)
				return nil
			}
			printer.Summary(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.verb, "verb", "", "add or remove (default: the verb of the original run)")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "n", 0, "maximum requests in flight (default $BULKREG_CONCURRENCY or 25)")
	cmd.Flags().StringVarP(&flags.failedOutput, "failed-output", "o", DefaultFailedOutput, "where to write failures that remain; empty disables the export")
	flags.credentialFlags.register(cmd)
	return cmd
}

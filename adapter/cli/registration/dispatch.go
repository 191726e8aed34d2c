package registration

import (
	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/spf13/cobra"
)

type dispatchFlags struct {
	credentialFlags
	file         string
	event        string
	concurrency  int
	failedOutput string
}

func newDispatchCmd(verb domain.Verb) *cobra.Command {
	flags := &dispatchFlags{}

	cmd := &cobra.Command{
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp()
			if err != nil {
				return err
			}

			concurrency := flags.concurrency
			if concurrency == 0 {
				concurrency = app.Config.Concurrency
			}

			printer := cli.NewPrinter(cmd.OutOrStdout())
			report, err := app.Service.Execute(cmd.Context(), application.Request{
				Credentials:  flags.resolve(app),
				EventID:      firstNonEmpty(flags.event, app.Config.EventID),
				File:         flags.file,
				Verb:         verb,
				Concurrency:  concurrency,
				FailedOutput: flags.failedOutput,
			}, printer.Handle)
			if report != nil {
				printer.Summary(report)
			}
			return err
		},
	}

	if verb == domain.VerbRegister {
		cmd.Use = "add"
		cmd.Short = "Register tickets to sessions from a spreadsheet"
		cmd.Long = `Register every ticket listed in the spreadsheet to the session named in its
column header. Requests are sent concurrently (PUT). Press Ctrl-C once to stop
admitting new requests and wait for those in flight; press it again to quit.

Examples:
  bulkreg add --file sessions.xlsx --event 123456
  bulkreg add -f sessions.xlsx -e 123456 -n 10 -o retry.xlsx`
	} else {
		cmd.Use = "remove"
		cmd.Short = "Unregister tickets from sessions listed in a spreadsheet"
		cmd.Long = `Unregister every ticket listed in the spreadsheet from the session named in
its column header. Requests are sent concurrently (DELETE).

Examples:
  bulkreg remove --file sessions.xlsx --event 123456`
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "spreadsheet with session ids in row 1 (required)")
	cmd.Flags().StringVarP(&flags.event, "event", "e", "", "event id (default $BULKREG_EVENT_ID)")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "n", 0, "maximum requests in flight (default $BULKREG_CONCURRENCY or 25)")
	cmd.Flags().StringVarP(&flags.failedOutput, "failed-output", "o", DefaultFailedOutput, "where to write failed registrations; empty disables the export")
	flags.credentialFlags.register(cmd)
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

package registration

import (
	"fmt"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	flags := &credentialFlags{}

	cmd := &cobra.Command{
		Use:   "request <url> [url...]",
		Short: "Register single registration URLs",
		Long: `Send one PUT per registration URL, retrying each up to three times. Only
whether an attempt succeeded is reported. URLs are sent in order with one
token; once the registration API keeps failing the circuit breaker opens and
the remaining URLs are not sent.

Example:
  bulkreg request https://api.bizzabo.com/v1/events/123456/agenda/sessions/101/registrations/5001`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp()
			if err != nil {
				return err
			}

			results, err := app.Service.SendURLs(cmd.Context(), flags.resolve(app), args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, result := range results {
				if result.Recognized {
					fmt.Fprintln(out, cli.MutedStyle.Render(fmt.Sprintf("session %d, ticket %s", result.SessionID, result.TicketID)))
				}
				if !result.OK {
					failed++
					fmt.Fprintln(out, result.URL+" "+cli.ErrorStyle.Render("Error: request failed"))
					continue
				}
				fmt.Fprintln(out, result.URL+" "+cli.SuccessStyle.Render("Success!"))
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", domain.ErrRequestFailed, failed, len(results))
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// Package registration holds the commands that send registration requests.
package registration

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
	"github.com/spf13/cobra"
)

// DefaultFailedOutput is where failures are exported unless --failed-output
// says otherwise.
const DefaultFailedOutput = "failed_registrations.xlsx"

// Commands returns the top-level registration commands.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		newDispatchCmd(domain.VerbRegister),
		newDispatchCmd(domain.VerbUnregister),
		newRequestCmd(),
		newRetryCmd(),
	}
}

// credentialFlags are shared by every command that needs a token. Empty
// flags fall back to the configuration.
type credentialFlags struct {
	clientID     string
	clientSecret string
	accountID    string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "API client id (default $BULKREG_CLIENT_ID)")
	cmd.Flags().StringVar(&f.clientSecret, "client-secret", "", "API client secret (default $BULKREG_CLIENT_SECRET)")
	cmd.Flags().StringVar(&f.accountID, "account-id", "", "account id (default $BULKREG_ACCOUNT_ID)")
}

func (f *credentialFlags) resolve(app *cli.App) application.Credentials {
	return application.Credentials{
		ClientID:     firstNonEmpty(f.clientID, app.Config.ClientID),
		ClientSecret: firstNonEmpty(f.clientSecret, app.Config.ClientSecret),
		AccountID:    firstNonEmpty(f.accountID, app.Config.AccountID),
	}
}

func requireApp() (*cli.App, error) {
	app := cli.GetApp()
	if app == nil || app.Service == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return app, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseVerb accepts the command names and the HTTP methods.
func parseVerb(s string) (domain.Verb, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "add", "register", "put":
		return domain.VerbRegister, nil
	case "remove", "unregister", "delete":
		return domain.VerbUnregister, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidVerb, s)
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/felixgeelhaar/bulkreg/pkg/observability"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	verbose  bool
	logger   *slog.Logger
	logLevel *slog.LevelVar
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bulkreg",
	Short: "bulkreg - bulk session registration",
	Long: `bulkreg registers or unregisters event tickets to agenda sessions in bulk.

Sessions and tickets are read from a spreadsheet: the first row holds session
ids and the cells below each header hold the ticket ids to register. Requests
run concurrently; failures are exported to a spreadsheet in the same layout so
they can be retried.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		if verbose && logLevel != nil {
			logLevel.Set(slog.LevelDebug)
		}
		info := commandContext{
			correlationID: uuid.New(),
			startedAt:     time.Now(),
		}
		ctx := observability.WithCorrelationID(cmd.Context(), info.correlationID.String())
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.DebugContext(cmd.Context(), "command start", "command", cmd.CommandPath())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.DebugContext(cmd.Context(), "command end",
			"command", cmd.CommandPath(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute runs the root command with ctx. The error has already been
// printed to stderr.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: "+err.Error()))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
	slog.SetDefault(l)
}

// SetLogLevel hands the CLI the level of the application logger so
// --verbose can lower it to debug.
func SetLogLevel(level *slog.LevelVar) {
	logLevel = level
}

// Logger returns the CLI logger.
func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

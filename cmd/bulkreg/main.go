package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/bulkreg/adapter/cli"
	"github.com/felixgeelhaar/bulkreg/adapter/cli/history"
	"github.com/felixgeelhaar/bulkreg/adapter/cli/registration"
	"github.com/felixgeelhaar/bulkreg/internal/app"
	"github.com/felixgeelhaar/bulkreg/pkg/config"
	"github.com/felixgeelhaar/bulkreg/pkg/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	logCfg.ServiceVersion = cli.Version
	logCfg.LevelVar = new(slog.LevelVar)
	logger := observability.NewLogger(logCfg)
	cli.SetLogger(logger)
	cli.SetLogLevel(logCfg.LevelVar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first signal stops admitting requests and lets in-flight ones
	// finish; the second exits immediately.
	go func() {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Fprintln(os.Stderr, "Cancelling: waiting for requests in flight. Press Ctrl-C again to quit.")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		return 1
	}
	defer container.Close()

	cli.SetApp(cli.NewApp(container.Service, cfg, container.Health))

	for _, cmd := range registration.Commands() {
		cli.AddCommand(cmd)
	}
	cli.AddCommand(history.Cmd)

	if err := cli.Execute(ctx); err != nil {
		return 1
	}
	return 0
}

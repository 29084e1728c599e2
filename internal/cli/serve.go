package cli

import (
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine"
	"os"
	"os/signal"
	"syscall"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled payment monitor",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return e.Serve(ctx)
}

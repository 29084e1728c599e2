package cli

import (
	"encoding/json"
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine"
)

func newForwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward <payment-id>",
		Short: "Forward a confirmed or failed payment",
		Long:  `Retries forwarding for a payment in confirmed or forwarding_failed status. Forwarding is never retried automatically.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runForward,
	}
}

func runForward(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	e, err := engine.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	result, err := e.Forwarding().Forward(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

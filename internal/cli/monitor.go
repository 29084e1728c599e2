package cli

import (
	"encoding/json"
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine"
)

func newMonitorCmd() *cobra.Command {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Payment monitor commands",
	}

	monitorCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one monitor cycle and print its result",
		Long:  `Checks one batch of pending payments, waits for the forwarding and webhooks it started, then prints the cycle counts as JSON.`,
		RunE:  runMonitorOnce,
	})

	return monitorCmd
}

func runMonitorOnce(cmd *cobra.Command, args []string) error {
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

	result, err := e.Monitor().RunCycle(cmd.Context())
	if err != nil {
		return err
	}
	e.Monitor().Wait()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

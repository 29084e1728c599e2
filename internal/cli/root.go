package cli

import (
	"fmt"
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine/internal/config"
	"go.uber.org/zap"
	"os"
)

var configPath string

// NewRootCmd builds the coinpayd command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coinpayd",
		Short: "CoinPay payment monitor and forwarding engine",
		Long: `coinpayd watches deposit addresses for pending crypto payments, confirms them, forwards
the funds to merchant and platform wallets and notifies merchants with signed webhooks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newForwardCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVaultCmd())

	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd := NewRootCmd()
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return cfg, logger, nil
}

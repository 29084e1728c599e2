package cli

import (
	"fmt"
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return err
	}

	if err := db.Migrate(gdb); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"go.coinpayportal.com/engine/internal/vault"
	"io"
)

func newVaultCmd() *cobra.Command {
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Deposit key encryption",
	}

	vaultCmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a private key read from stdin",
		Long:  `Reads a private key from stdin and prints it encrypted with forwarding.encryption_key, in the iv:authTag:ciphertext form stored on payment addresses.`,
		RunE:  runVaultEncrypt,
	})

	return vaultCmd
}

func runVaultEncrypt(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}

	v, err := vault.New(cfg.Forwarding.EncryptionKey)
	if err != nil {
		return err
	}

	input, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	secret := vault.NewSecret(input)
	defer secret.Wipe()

	key := secret.Trimmed()
	if len(key) == 0 {
		return errors.New("no key on stdin")
	}
	if bytes.ContainsAny(key, "\n") {
		return errors.New("expected a single key on stdin")
	}

	encoded, err := v.Encrypt(key)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), encoded)
	return nil
}

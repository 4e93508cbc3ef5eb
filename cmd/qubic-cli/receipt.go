package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	qubic "github.com/computor-tools/qubic-go"
	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/transfer"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "export and import transfer receipts",
}

var receiptExportCmd = &cobra.Command{
	Use:   "export <transfer-hash>",
	Short: "print the stored receipt envelope of a settled transfer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseHash(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		id, err := deriveIdentity(cfg)
		if err != nil {
			return err
		}

		envelope, err := transfer.FetchReceipt(cfg.DataDir, id, hash)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(envelope))
		return nil
	},
}

var receiptImportCmd = &cobra.Command{
	Use:   "import <envelope-base64>",
	Short: "verify a receipt envelope and integrate it into the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, logger, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := client.Launch(cmd.Context()); err != nil {
			return err
		}
		defer func() { _ = client.Terminate(qubic.TerminateOptions{CloseConnection: true}) }()

		if err := client.ImportReceipt(args[0]); err != nil {
			return err
		}
		logger.Info("receipt imported", zap.Uint64("energy", client.Energy()))

		t, _, err := transfer.DecodeEnvelope(args[0])
		if err != nil {
			return err
		}
		envelope, err := base64.StdEncoding.DecodeString(args[0])
		if err != nil {
			return err
		}
		if err := transfer.PersistReceipt(cfg.DataDir, client.Identity(), t.Hash(), envelope); err != nil {
			logger.Warn("persisting receipt", zap.Error(err))
		}
		return nil
	},
}

// parseHash decodes a 64-character shifted-hex transfer hash.
func parseHash(s string) ([32]byte, error) {
	var hash [32]byte
	raw, err := identity.ShiftedHexToBytes(strings.ToLower(s))
	if err != nil {
		return hash, fmt.Errorf("invalid `transfer-hash`; %w", err)
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("invalid `transfer-hash`; expected: %d bytes, given: %d", len(hash), len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

func init() {
	receiptCmd.AddCommand(receiptExportCmd)
	receiptCmd.AddCommand(receiptImportCmd)
	rootCmd.AddCommand(receiptCmd)
}

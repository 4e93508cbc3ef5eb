package main

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	qubic "github.com/computor-tools/qubic-go"
	"github.com/computor-tools/qubic-go/transfer"
)

var transferTimeout time.Duration

var transferCmd = &cobra.Command{
	Use:   "transfer <destination> <energy>",
	Short: "submit an energy transfer and wait for its receipt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		energy, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid `energy`; expected: unsigned integer, given: %q", args[1])
		}

		client, cfg, logger, err := newClient(cmd)
		if err != nil {
			return err
		}

		events := client.Subscribe(4096)
		if err := client.Launch(cmd.Context()); err != nil {
			return err
		}
		defer func() { _ = client.Terminate(qubic.TerminateOptions{CloseConnection: true}) }()
		reportLedgerSize(cfg, client.Identity(), logger)

		deadline := time.After(transferTimeout)

		// Submitting needs an agreed computer state for settlement; wait
		// for the engine to reach it.
		logger.Info("waiting for computer state agreement")
	waitAgreement:
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return fmt.Errorf("event stream closed")
				}
				if info, isInfo := event.(qubic.InfoEvent); isInfo && info.Status >= 2 {
					break waitAgreement
				}
			case <-deadline:
				return fmt.Errorf("timed out waiting for computer state agreement")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}

		t, err := client.Transfer(args[0], energy)
		if err != nil {
			return err
		}
		hash := t.Hash()
		logger.Info("transfer submitted",
			zap.String("destination", args[0]), zap.Uint64("energy", energy))

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return fmt.Errorf("event stream closed")
				}
				printEvent(logger, event)
				settled, isReceipt := event.(qubic.ReceiptEvent)
				if !isReceipt || settled.Hash != hash {
					continue
				}

				envelope, err := base64.StdEncoding.DecodeString(settled.ReceiptBase64)
				if err != nil {
					return err
				}
				if err := transfer.PersistReceipt(cfg.DataDir, client.Identity(), hash, envelope); err != nil {
					logger.Warn("persisting receipt", zap.Error(err))
				}
				fmt.Println(settled.ReceiptBase64)
				return nil
			case <-deadline:
				return fmt.Errorf("timed out waiting for the receipt; the transfer stays pending")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	},
}

func init() {
	transferCmd.Flags().DurationVar(&transferTimeout, "timeout", 5*time.Minute, "how long to wait for settlement")
	rootCmd.AddCommand(transferCmd)
}

package main

import (
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	qubic "github.com/computor-tools/qubic-go"
	"github.com/computor-tools/qubic-go/config"
)

// newClient builds a client from the effective config. Launch is left to
// the caller so event subscriptions can be set up first.
func newClient(cmd *cobra.Command) (*qubic.Client, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := buildLogger()
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := qubic.New(cfg, qubic.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, err
	}
	return client, cfg, logger, nil
}

// reportLedgerSize logs the on-disk size of the identity's database.
func reportLedgerSize(cfg *config.Config, id string, logger *zap.Logger) {
	var total uint64
	_ = filepath.Walk(cfg.DatabaseDir(id), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	logger.Info("ledger database",
		zap.String("dir", cfg.DatabaseDir(id)), zap.String("size", bytefmt.ByteSize(total)))
}

// printEvent renders one client event on the console.
func printEvent(logger *zap.Logger, event qubic.Event) {
	switch e := event.(type) {
	case qubic.OpenEvent:
		logger.Info("peer socket open", zap.Int("slot", e.Slot), zap.String("address", e.Address))
	case qubic.CloseEvent:
		logger.Info("peer socket closed", zap.Int("slot", e.Slot), zap.String("address", e.Address), zap.Error(e.Err))
	case qubic.InfoEvent:
		fields := []zap.Field{zap.Int("status", e.Status)}
		if e.ComputerState != nil {
			fields = append(fields, zap.Uint16("epoch", e.ComputerState.Epoch), zap.Uint32("tick", e.ComputerState.Tick))
		}
		logger.Info("computer state", fields...)
	case qubic.TransferEvent:
		logger.Info("transfer broadcast",
			zap.Uint64("energy", e.Transfer.Energy), zap.Uint64("timestamp", e.Transfer.Timestamp))
	case qubic.TransferStatusEvent:
		logger.Info("transfer status",
			zap.Int("unseen", e.Unseen), zap.Int("seen", e.Seen), zap.Int("processed", e.Processed),
			zap.Uint16("epoch", e.Epoch), zap.Uint32("tick", e.Tick))
	case qubic.EnergyEvent:
		logger.Info("energy", zap.Uint64("energy", e.Energy))
	case qubic.ReceiptEvent:
		logger.Info("transfer settled", zap.String("receipt", e.ReceiptBase64))
	case qubic.EnvironmentEvent:
		logger.Info("environment update",
			zap.String("environment", e.Environment), zap.Uint32("tick", e.Tick), zap.Int("bytes", len(e.Data)))
	case qubic.ErrorEvent:
		logger.Warn("client error", zap.Error(e.Err))
	}
}

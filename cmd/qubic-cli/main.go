// Command qubic-cli is the wallet and operations console: it derives
// identities, connects a client to the computer, submits transfers and
// exports and imports receipts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/spacemeshos/smutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/computor-tools/qubic-go/config"
)

const defaultConfigFileName = "qubic.yaml"

var (
	defaultConfigFile = filepath.Join(smutil.GetUserHomeDirectory(), "qubic", defaultConfigFileName)

	cfgFile     string
	logLevel    string
	printConfig bool

	// flagCfg receives flag values; changed flags override the file.
	flagCfg = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:          "qubic-cli",
	Short:        "wallet and operations console for the qubic computer",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !printConfig {
			return nil
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		spew.Dump(cfg)
		os.Exit(0)
		return nil
	}

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", defaultConfigFile, "path to configuration file")
	flags.StringVar(&logLevel, "log-level", zapcore.InfoLevel.String(), "log level (debug, info, warn, error)")
	flags.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")

	flags.StringVar(&flagCfg.Seed, "qubic-seed",
		flagCfg.Seed, "identity seed: 55 lowercase letters")
	flags.Uint64Var(&flagCfg.Index, "qubic-index",
		flagCfg.Index, "identity sub-derivation index of the seed")
	flags.StringSliceVar(&flagCfg.Peers, "qubic-peers",
		flagCfg.Peers, "initial peer addresses, one per connection slot")
	flags.StringVar(&flagCfg.AdminPublicKey, "qubic-admin-public-key",
		flagCfg.AdminPublicKey, "shifted-hex admin public key computer-state snapshots are verified against")
	flags.StringVar(&flagCfg.DataDir, "qubic-datadir",
		flagCfg.DataDir, "directory holding the per-identity ledger databases and receipts")
	flags.DurationVar(&flagCfg.ConnectionTimeout, "qubic-connection-timeout",
		flagCfg.ConnectionTimeout, "peer dial deadline")
	flags.DurationVar(&flagCfg.ReconnectTimeout, "qubic-reconnect-timeout",
		flagCfg.ReconnectTimeout, "delay before a failed peer socket is redialed")
	flags.DurationVar(&flagCfg.ComputerStateSyncInterval, "qubic-computer-state-sync-interval",
		flagCfg.ComputerStateSyncInterval, "interval between computer-state request rounds")
	flags.DurationVar(&flagCfg.ComputerStateSyncDelay, "qubic-computer-state-sync-delay",
		flagCfg.ComputerStateSyncDelay, "grace before missing agreement counts as desynchronization")
	flags.DurationVar(&flagCfg.StatusRequestSpacing, "qubic-status-request-spacing",
		flagCfg.StatusRequestSpacing, "spacing between per-computor transfer-status requests")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// loadConfig layers defaults, the config file and changed flags, in
// ascending priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	vip := viper.New()
	vip.SetConfigFile(smutil.GetCanonicalPath(cfgFile))
	if err := vip.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicitly named one is not.
		if cfgFile != defaultConfigFile {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	}
	if err := vip.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		switch f.Name {
		case "qubic-seed":
			cfg.Seed = flagCfg.Seed
		case "qubic-index":
			cfg.Index = flagCfg.Index
		case "qubic-peers":
			cfg.Peers = flagCfg.Peers
		case "qubic-admin-public-key":
			cfg.AdminPublicKey = flagCfg.AdminPublicKey
		case "qubic-datadir":
			cfg.DataDir = flagCfg.DataDir
		case "qubic-connection-timeout":
			cfg.ConnectionTimeout = flagCfg.ConnectionTimeout
		case "qubic-reconnect-timeout":
			cfg.ReconnectTimeout = flagCfg.ReconnectTimeout
		case "qubic-computer-state-sync-interval":
			cfg.ComputerStateSyncInterval = flagCfg.ComputerStateSyncInterval
		case "qubic-computer-state-sync-delay":
			cfg.ComputerStateSyncDelay = flagCfg.ComputerStateSyncDelay
		case "qubic-status-request-spacing":
			cfg.StatusRequestSpacing = flagCfg.StatusRequestSpacing
		}
	})

	cfg.DataDir = smutil.GetCanonicalPath(cfg.DataDir)
	return cfg, nil
}

func buildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid `log-level`; %v", err)
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			MessageKey:     "M",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

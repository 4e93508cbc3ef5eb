// Package config holds the client configuration: the identity seed, the
// initial peer set, the admin public key and the timing knobs of the
// quorum engine.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spacemeshos/smutil"

	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
)

const (
	DefaultDataDirName = "data"

	DefaultConnectionTimeout         = 3 * time.Second
	DefaultReconnectTimeout          = 100 * time.Millisecond
	DefaultComputerStateSyncInterval = 500 * time.Millisecond
	DefaultComputerStateSyncDelay    = 500 * time.Millisecond
	DefaultStatusRequestSpacing      = 100 * time.Millisecond
)

var DefaultDataDir = filepath.Join(smutil.GetUserHomeDirectory(), "qubic", DefaultDataDirName)

type Config struct {
	// Seed is the identity seed: exactly 55 lowercase Latin letters.
	Seed string `mapstructure:"qubic-seed"`

	// Index selects the identity sub-derivation of the seed.
	Index uint64 `mapstructure:"qubic-index"`

	// Peers are the initial peer addresses, one per connection slot.
	Peers []string `mapstructure:"qubic-peers"`

	// AdminPublicKey is the shifted-hex encoded 32-byte key computer-state
	// snapshots are verified against.
	AdminPublicKey string `mapstructure:"qubic-admin-public-key"`

	// DataDir is where the per-identity ledger database lives.
	DataDir string `mapstructure:"qubic-datadir"`

	// Timing knobs.
	ConnectionTimeout         time.Duration `mapstructure:"qubic-connection-timeout"`
	ReconnectTimeout          time.Duration `mapstructure:"qubic-reconnect-timeout"`
	ComputerStateSyncInterval time.Duration `mapstructure:"qubic-computer-state-sync-interval"`
	ComputerStateSyncDelay    time.Duration `mapstructure:"qubic-computer-state-sync-delay"`
	StatusRequestSpacing      time.Duration `mapstructure:"qubic-status-request-spacing"`
}

func (cfg *Config) Validate() error {
	if err := identity.ValidateSeed(cfg.Seed); err != nil {
		return err
	}

	if len(cfg.Peers) != protocol.NumberOfConnections {
		return fmt.Errorf("invalid `Peers`; expected: %d addresses, given: %d", protocol.NumberOfConnections, len(cfg.Peers))
	}
	for i, peer := range cfg.Peers {
		if peer == "" {
			return fmt.Errorf("invalid `Peers`; expected: non-empty address, given: empty at position %d", i)
		}
	}

	if _, err := cfg.AdminKey(); err != nil {
		return err
	}

	if cfg.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid `ConnectionTimeout`; expected: > 0, given: %v", cfg.ConnectionTimeout)
	}
	if cfg.ReconnectTimeout <= 0 {
		return fmt.Errorf("invalid `ReconnectTimeout`; expected: > 0, given: %v", cfg.ReconnectTimeout)
	}
	if cfg.ComputerStateSyncInterval <= 0 {
		return fmt.Errorf("invalid `ComputerStateSyncInterval`; expected: > 0, given: %v", cfg.ComputerStateSyncInterval)
	}
	if cfg.ComputerStateSyncDelay < 0 {
		return fmt.Errorf("invalid `ComputerStateSyncDelay`; expected: >= 0, given: %v", cfg.ComputerStateSyncDelay)
	}
	if cfg.StatusRequestSpacing <= 0 {
		return fmt.Errorf("invalid `StatusRequestSpacing`; expected: > 0, given: %v", cfg.StatusRequestSpacing)
	}

	return nil
}

// AdminKey decodes AdminPublicKey. The all-zero key is rejected: a client
// configured with it would accept snapshots nobody signed.
func (cfg *Config) AdminKey() ([]byte, error) {
	key, err := identity.ShiftedHexToBytes(strings.ToLower(cfg.AdminPublicKey))
	if err != nil {
		return nil, fmt.Errorf("invalid `AdminPublicKey`; %w", err)
	}
	if len(key) != schnorrq.PublicKeySize {
		return nil, fmt.Errorf("invalid `AdminPublicKey`; expected: %d bytes, given: %d", schnorrq.PublicKeySize, len(key))
	}
	zero := true
	for _, b := range key {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, fmt.Errorf("invalid `AdminPublicKey`; expected: non-zero key")
	}
	return key, nil
}

// DatabaseDir returns the per-identity database directory under DataDir.
func (cfg *Config) DatabaseDir(id string) string {
	return filepath.Join(cfg.DataDir, strings.ToLower(id))
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:                   DefaultDataDir,
		ConnectionTimeout:         DefaultConnectionTimeout,
		ReconnectTimeout:          DefaultReconnectTimeout,
		ComputerStateSyncInterval: DefaultComputerStateSyncInterval,
		ComputerStateSyncDelay:    DefaultComputerStateSyncDelay,
		StatusRequestSpacing:      DefaultStatusRequestSpacing,
	}
}

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/computor-tools/qubic-go/config"
	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/schnorrq"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "derive the identity of the configured seed and index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		id, err := deriveIdentity(cfg)
		if err != nil {
			return err
		}
		checksum, err := identity.SeedChecksum(cfg.Seed)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"index", "identity", "seed checksum"})
		table.Append([]string{strconv.FormatUint(cfg.Index, 10), id, checksum})
		table.Render()
		return nil
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <identity>",
	Short: "verify the checksum of an identity string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := identity.PublicKey(args[0]); err != nil {
			return err
		}
		fmt.Println("identity checksum is valid")
		return nil
	},
}

// deriveIdentity turns the configured seed and index into an identity
// string.
func deriveIdentity(cfg *config.Config) (string, error) {
	privateKey, err := identity.PrivateKey(cfg.Seed, cfg.Index)
	if err != nil {
		return "", err
	}
	publicKey, err := schnorrq.Scheme{}.GeneratePublicKey(privateKey)
	if err != nil {
		return "", err
	}
	return identity.FromPublicKey(publicKey)
}

func init() {
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(checksumCmd)
}

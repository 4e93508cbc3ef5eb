package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "print the configured peer addresses by connection slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"slot", "address"})
		for slot, address := range cfg.Peers {
			table.Append([]string{strconv.Itoa(slot), address})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
}

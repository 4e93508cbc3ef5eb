package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	qubic "github.com/computor-tools/qubic-go"
	"github.com/computor-tools/qubic-go/quorum"
)

var watchEnvironments []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "connect to the computer and stream client events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, logger, err := newClient(cmd)
		if err != nil {
			return err
		}

		events := client.Subscribe(1024)
		if err := client.Launch(cmd.Context()); err != nil {
			return err
		}
		reportLedgerSize(cfg, client.Identity(), logger)
		logger.Info("watching", zap.String("identity", client.Identity()))

		// Environment updates surface on the event stream; the listener
		// channel only triggers the wire subscription.
		for _, environment := range watchEnvironments {
			updates := make(chan quorum.EnvironmentUpdate, 16)
			go func() {
				for range updates {
				}
			}()
			if err := client.AddEnvironmentListener(environment, updates); err != nil {
				return err
			}
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return nil
				}
				printEvent(logger, event)
			case <-cmd.Context().Done():
				return client.Terminate(qubic.TerminateOptions{CloseConnection: true})
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchEnvironments, "environment", nil, "environment names to subscribe to")
	rootCmd.AddCommand(watchCmd)
}

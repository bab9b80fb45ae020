package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/kitsync/internal/databroker"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Wait until the local databroker answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		attempts, _ := cmd.Flags().GetInt("attempts")
		if attempts <= 0 {
			attempts = cfg.ReadyAttempts
		}

		client, err := databroker.NewGRPCClient(cfg.DatabrokerAddr)
		if err != nil {
			return fmt.Errorf("failed to create databroker client: %w", err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(attempts)*(cfg.ReadyInterval+5*time.Second))
		defer cancel()

		if err := databroker.WaitUntilReady(ctx, client, attempts, cfg.ReadyInterval); err != nil {
			return err
		}
		info, err := client.ServerInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s at %s is ready\n", info.Name, info.Version, cfg.DatabrokerAddr)
		return nil
	},
}

func init() {
	probeCmd.Flags().Int("attempts", 0, "maximum attempts (default KITSYNC_READY_ATTEMPTS)")
	rootCmd.AddCommand(probeCmd)
}

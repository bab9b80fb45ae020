package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/pkg/types"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Inspect the mock signal list",
}

var signalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the signals the mock provider serves",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store := mocksignal.NewStore(cfg.MockSignalsPath, cfg.MockSignalsDefaultPath)
		var entries []types.MockSignal
		if defaults, _ := cmd.Flags().GetBool("defaults"); defaults {
			entries, err = store.Defaults()
		} else {
			entries, err = store.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to read mock signals: %w", err)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, _ := json.MarshalIndent(entries, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(entries) == 0 {
			fmt.Println("No mock signals")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SIGNAL\tVALUE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Signal, e.Value)
		}
		return w.Flush()
	},
}

func init() {
	signalsListCmd.Flags().Bool("json", false, "output as JSON")
	signalsListCmd.Flags().Bool("defaults", false, "show the default signal list instead")
	signalsCmd.AddCommand(signalsListCmd)
	rootCmd.AddCommand(signalsCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/kitsync/internal/history"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent application runs from the run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.HistoryDB == "" {
			return fmt.Errorf("run history is disabled (KITSYNC_HISTORY_DB is empty)")
		}

		db, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := db.Recent(limit)
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAPP\tSESSION\tSTARTED\tEXIT\tSTOPPED")
		for _, r := range runs {
			exit := "-"
			if r.ExitCode != nil {
				exit = strconv.Itoa(*r.ExitCode)
			}
			stopped := r.StopReason
			if stopped == "" {
				stopped = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.AppName, r.Session, r.StartedAt.Local().Format(time.DateTime), exit, stopped)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(runsCmd)
}

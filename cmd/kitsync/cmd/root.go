package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opensandbox/kitsync/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	serverURL string
	kitName   string
	httpAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "kitsync",
	Short: "kitsync - edge runtime supervisor for digital.auto kits",
	Long: `kitsync connects an edge kit to the kit server and carries out its commands.

It runs user applications, streams their output, polls subscribed vehicle
signals from the local KUKSA databroker, keeps the mock signal provider in step
with the signals applications use, and regenerates the vehicle model on demand.

Running kitsync without a subcommand starts the supervisor.`,
	SilenceUsage: true,
	RunE:         runSupervisor,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "", "kit server URL (overrides SYNCER_SERVER_URL)")
	rootCmd.Flags().StringVar(&kitName, "name", "", "runtime name (overrides RUNTIME_NAME)")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "", "admin API listen address (overrides KITSYNC_HTTP_ADDR)")
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if kitName != "" {
		cfg.RuntimeName = kitName
		cfg.KitID = cfg.RuntimePrefix + kitName
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	return cfg, nil
}

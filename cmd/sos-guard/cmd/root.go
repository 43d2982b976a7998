package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/sos-guard/internal/service/server"
	"github.com/oshokin/sos-guard/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where detector flags are persisted.
	stateFile string
	// allowMultiple disables the single-instance check.
	allowMultiple bool

	// rootCmd represents the base command for running the daemon.
	rootCmd = &cobra.Command{
		Use:   "sos-guard [listen-address]",
		Short: "Run the personal safety daemon.",
		Long: `Starts the SOS daemon: trigger detectors, the alarm session, evidence capture,
emergency alerts and the safe walk timer, controlled over a local gRPC API.

The daemon listens on the address from the configuration file (loopback by default).
Listen address can be provided as argument to override config (e.g., :9090).
Detector flags are persisted to a JSON file and restored on start.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StateFile:     stateFile,
				AllowMultiple: allowMultiple,
			})
		},
	}
)

// Execute runs the sos-guard CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(contactsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default sos-guard.yaml, built-in defaults if missing)")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "override the detector flags file")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "skip the single-instance check")
}

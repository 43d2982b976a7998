package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/sos-guard/internal/service/client"
	"github.com/oshokin/sos-guard/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the daemon address from the configuration.
	serverAddress string

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "sos-ctl",
		Short: "Control the sos-guard daemon.",
		Long: `Sends commands to a running sos-guard daemon over its local gRPC API.

Use it to raise or stop the alarm, arm the countdown, toggle detectors,
run a safe walk, record audio, browse captured evidence and watch live events.`,
		SilenceUsage: true,
	}
)

// Execute runs the sos-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run connects to the daemon and executes fn with a signal-aware context.
func run(cmd *cobra.Command, fn func(ctx context.Context, r *client.Runner) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r, err := client.Open(ctx, &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
	}, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	defer func() {
		_ = r.Close()
	}()

	return fn(ctx, r)
}

// simple builds a command without arguments that calls one runner method.
func simple(use, short string, fn func(r *client.Runner, ctx context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, r *client.Runner) error {
				return fn(r, ctx)
			})
		},
	}
}

func detectorCommand() *cobra.Command {
	detector := &cobra.Command{
		Use:   "detector",
		Short: "Enable or disable the scream and gesture detectors.",
	}

	for _, enabled := range []bool{true, false} {
		use, short := "enable <name>", "Start a detector and remember it across restarts."
		if !enabled {
			use, short = "disable <name>", "Stop a detector."
		}

		detector.AddCommand(&cobra.Command{
			Use:       use,
			Short:     short,
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"scream", "gesture"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, r *client.Runner) error {
					return r.SetDetector(ctx, args[0], enabled)
				})
			},
		})
	}

	return detector
}

func walkCommand() *cobra.Command {
	var duration time.Duration

	walk := &cobra.Command{
		Use:   "walk",
		Short: "Run a safe walk: the alarm fires unless you check in in time.",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start a safe walk.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, r *client.Runner) error {
				return r.StartWalk(ctx, duration)
			})
		},
	}

	start.Flags().DurationVarP(&duration, "duration", "d", 15*time.Minute, "check-in window (5m to 60m)")

	walk.AddCommand(
		start,
		simple("checkin", "Check in and restart the window.", (*client.Runner).CheckIn),
		simple("stop", "End the walk safely.", (*client.Runner).StopWalk),
	)

	return walk
}

func evidenceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evidence [session-id]",
		Short: "List captured photos of a session, or all sessions.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) > 0 {
				sessionID = args[0]
			}

			return run(cmd, func(ctx context.Context, r *client.Runner) error {
				return r.Evidence(ctx, sessionID)
			})
		},
	}
}

func recordCommand() *cobra.Command {
	record := &cobra.Command{
		Use:   "record",
		Short: "Record your surroundings on demand.",
	}

	record.AddCommand(
		simple("start", "Start a voice recording.", (*client.Runner).StartRecording),
		simple("stop", "Stop the voice recording.", (*client.Runner).StopRecording),
		simple("list", "List saved recordings, newest first.", (*client.Runner).Recordings),
	)

	return record
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"path to configuration file (default sos-guard.yaml, built-in defaults if missing)")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "a", "", "daemon address, overrides the configuration")

	rootCmd.AddCommand(
		simple("trigger", "Raise the alarm now.", (*client.Runner).Trigger),
		simple("stop", "Stop the running alarm.", (*client.Runner).Stop),
		simple("status", "Show alarm, detector and walk state.", (*client.Runner).Status),
		simple("arm", "Start the countdown that ends in an alarm.", (*client.Runner).Arm),
		simple("disarm", "Cancel the countdown.", (*client.Runner).Disarm),
		simple("key", "Send one volume-key press.", (*client.Runner).PressKey),
		simple("watch", "Stream live events.", (*client.Runner).Watch),
		detectorCommand(),
		walkCommand(),
		evidenceCommand(),
		recordCommand(),
	)
}

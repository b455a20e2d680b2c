package main

import (
	"context"
	"os"

	"github.com/opcoder0/mntmonitor/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd(run)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, cfg *config.Config) error

func newRootCmd(runner runFunc) *cobra.Command {
	cfg := config.LoadFromEnv()

	cmd := &cobra.Command{
		Use:   "mntwatch",
		Short: "Watch a mount namespace for mount attach/detach events",
		Long: `mntwatch reports changes of the mount table. On Linux 6.15 and later
it uses fanotify and reports the ID of every attached or detached mount,
otherwise it falls back to polling /proc/self/mountinfo.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Namespace, "ns", cfg.Namespace, "Mount namespace file to watch, e.g. /proc/<pid>/ns/mnt")
	flags.BoolVar(&cfg.Classic, "classic", cfg.Classic, "Use the /proc/self/mountinfo monitor instead of fanotify")
	flags.BoolVar(&cfg.Veiled, "veiled", cfg.Veiled, "Ignore kernel events while the veil marker exists")
	flags.StringVar(&cfg.VeilMarker, "veil-marker", cfg.VeilMarker, "Veil marker file")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Maximum time of a single wait for events")
	flags.BoolVar(&cfg.Resolve, "resolve", cfg.Resolve, "Resolve attached mounts to their mountinfo entry")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogJSON, "json", cfg.LogJSON, "Write logs as JSON")
	return cmd
}

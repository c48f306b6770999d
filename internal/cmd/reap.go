package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/coordination"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Terminate dead sessions and release what they hold",
	Long: `Terminate every active session whose heartbeat is older than
session.staleness_threshold or whose owner process has exited, releasing
its locks and task claims.

By default reap keeps running, sweeping on reaper.schedule and serving
Prometheus metrics on metrics.addr when set. With --once it sweeps a single
time and exits.`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

var reapOnce bool

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().BoolVar(&reapOnce, "once", false, "sweep once and exit")
}

func runReap(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		out := cmd.OutOrStdout()
		if reapOnce {
			reaped, err := hub.Reap(ctx)
			if jsonOutput() {
				if reaped == nil {
					reaped = []string{}
				}
				if perr := printJSON(cmd, map[string]any{"reaped": reaped}); perr != nil {
					return perr
				}
			} else {
				for _, id := range reaped {
					fmt.Fprintf(out, "Reaped %s\n", id)
				}
				fmt.Fprintf(out, "%d session(s) reaped\n", len(reaped))
			}
			return err
		}

		if err := hub.Start(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Reaping on %q\n", hub.Settings().Reaper.Schedule)
		if addr := hub.MetricsAddr(); addr != "" {
			fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", addr)
		}
		<-ctx.Done()
		return hub.Stop()
	})
}

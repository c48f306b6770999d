package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [prefix]",
	Short: "Stream store mutations",
	Long: `Print one line per created, updated or deleted record under the prefix
(default: the whole store) until interrupted. With --format json each line
is a JSON object. Without --from-now, records that already exist are
reported as created first.

Delivery is at-least-once and an event only says that a key changed;
read the record to see its current value.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchFromNow bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchFromNow, "from-now", false, "skip records that exist when the watch starts")
}

func runWatch(cmd *cobra.Command, args []string) error {
	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		var opts []watch.WatchOption
		if watchFromNow {
			base, err := hub.Notifier().Snapshot(ctx, prefix)
			if err != nil {
				return err
			}
			opts = append(opts, watch.WithBaseline(base))
		}
		events, err := hub.Watch(ctx, prefix, opts...)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for ev := range events {
			if outputFormat == formatText {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-7s %s v%d\n",
					ev.Timestamp.Format("15:04:05.000"), ev.Kind, ev.Key, ev.Version)
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

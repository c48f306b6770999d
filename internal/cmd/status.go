package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sessions, locks, claims and the backlog",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard of sessions, locks and claims",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(topCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		snap, err := tui.Collect(ctx, hub)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, snap)
		}

		width := 0
		if termWidth, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = termWidth
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderStatus(snap, width))
		return nil
	})
}

func runTop(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("top needs a terminal; use 'roster status' or 'roster watch' instead")
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		events, err := hub.Watch(ctx, "")
		if err != nil {
			return err
		}
		return tui.Run(ctx, hub, events, hub.Settings().Watch.PollInterval*2)
	})
}

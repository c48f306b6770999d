package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/record"
)

// exitDenied is the exit status when a lock or claim is held by another
// live session.
const exitDenied = 2

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire and release exclusive locks on named resources",
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <name>",
	Short: "Acquire a lock for a session",
	Long: `Acquire the named lock for the session. Exits 0 when granted and 2 when
another live session holds it. With --wait the command blocks until the
lock is granted or the timeout passes.`,
	Args: cobra.ExactArgs(1),
	RunE: runLockAcquire,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <name>",
	Short: "Release a lock held by a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockRelease,
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List held locks",
	Args:  cobra.NoArgs,
	RunE:  runLockList,
}

var (
	lockWait time.Duration
	listAll  bool
)

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockListCmd)

	for _, c := range []*cobra.Command{lockAcquireCmd, lockReleaseCmd} {
		c.Flags().StringVarP(&sessionFlag, "session", "s", "", "session id (default: $"+SessionEnv+")")
	}
	lockAcquireCmd.Flags().DurationVarP(&lockWait, "wait", "w", 0, "keep trying for up to this long")
	lockListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include released locks")
}

func runLockAcquire(cmd *cobra.Command, args []string) error {
	name := args[0]
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		out, err := hub.Locks().Acquire(ctx, name, id)
		if err != nil {
			return err
		}
		if !out.Granted && lockWait > 0 {
			out, err = waitForGrant(ctx, hub, record.LocksPrefix+name, lockWait, out, func(ctx context.Context) (claim.Outcome, error) {
				return hub.Locks().Acquire(ctx, name, id)
			})
			if err != nil {
				return err
			}
		}
		return reportOutcome(cmd, "lock", name, out)
	})
}

// waitForGrant retries acquire whenever key changes and at least once per
// staleness threshold, since an abandoned holder becomes reclaimable
// without any write.
func waitForGrant(ctx context.Context, hub *coordination.Hub, key string, timeout time.Duration, last claim.Outcome, acquire func(context.Context) (claim.Outcome, error)) (claim.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := hub.Watch(ctx, key)
	if err != nil {
		return claim.Outcome{}, err
	}
	ticker := time.NewTicker(max(hub.Settings().Session.StalenessThreshold/3, 100*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// A timeout is reported as the last denial, not an error.
			return last, nil
		case _, ok := <-events:
			if !ok {
				return last, nil
			}
		case <-ticker.C:
		}
		out, err := acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, nil
			}
			return out, err
		}
		if out.Granted {
			return out, nil
		}
		last = out
	}
}

func reportOutcome(cmd *cobra.Command, kind, name string, out claim.Outcome) error {
	if jsonOutput() {
		if err := printJSON(cmd, map[string]any{
			kind:              name,
			"granted":         out.Granted,
			"holder":          out.Holder,
			"previous_holder": out.PreviousHolder,
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		switch {
		case out.Reclaimed():
			fmt.Fprintf(w, "Granted %s %s (reclaimed from %s)\n", kind, name, out.PreviousHolder)
		case out.Granted:
			fmt.Fprintf(w, "Granted %s %s\n", kind, name)
		default:
			fmt.Fprintf(w, "Denied %s %s: held by %s\n", kind, name, out.Holder)
		}
	}
	if !out.Granted {
		return &ExitError{Code: exitDenied}
	}
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if err := hub.Locks().Release(ctx, args[0], id); err != nil {
			return err
		}
		if !jsonOutput() {
			fmt.Fprintf(cmd.OutOrStdout(), "Released lock %s\n", args[0])
		}
		return nil
	})
}

func runLockList(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		entries, err := hub.Locks().List(ctx)
		if err != nil {
			return err
		}
		return printEntries(cmd, "LOCK", filterHeld(entries, listAll))
	})
}

// entryView is the JSON form of a lock or claim.
type entryView struct {
	Name       string     `json:"name"`
	Holder     string     `json:"holder_session_id,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	Live       bool       `json:"live"`
}

func filterHeld(entries []claim.Entry, all bool) []claim.Entry {
	if all {
		return entries
	}
	var held []claim.Entry
	for _, e := range entries {
		if e.Held() {
			held = append(held, e)
		}
	}
	return held
}

func printEntries(cmd *cobra.Command, title string, entries []claim.Entry) error {
	if jsonOutput() {
		views := make([]entryView, 0, len(entries))
		for _, e := range entries {
			views = append(views, entryView{
				Name:       e.Name,
				Holder:     e.Holder,
				AcquiredAt: e.AcquiredAt,
				ReleasedAt: e.ReleasedAt,
				Live:       e.Held() && e.Alive,
			})
		}
		return printJSON(cmd, views)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Nothing held.")
		return nil
	}
	fmt.Fprintf(out, "%-28s  %-36s  %s\n", title, "HOLDER", "STATE")
	for _, e := range entries {
		state := "live"
		switch {
		case !e.Held():
			state = "released"
		case !e.Alive:
			state = "reclaimable"
		}
		holder := e.Holder
		if holder == "" {
			holder = "-"
		}
		fmt.Fprintf(out, "%-28s  %-36s  %s\n", e.Name, holder, state)
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/liveness"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Register, renew and end sessions",
	Long: `A session is one coordinating process. Locks and task claims belong to
sessions, and stay held only while the session keeps heartbeating.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Register a session owned by the calling shell",
	Long: `Register a new active session and print its id.

The session is owned by --pid (default: the shell that ran roster), so it
stays alive only while that process runs and 'roster session heartbeat'
is called more often than session.staleness_threshold. Use 'roster
session run' to have roster heartbeat for you.`,
	Args: cobra.NoArgs,
	RunE: runSessionStart,
}

var sessionRunCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command inside a heartbeating session",
	Long: `Start a session, run the command with ROSTER_SESSION_ID set, and keep
the session heartbeating until the command exits. The session is then
terminated, releasing every lock and task claim it still holds. The
command's exit status is passed through.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSessionRun,
}

var sessionHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Renew a session's heartbeat",
	Args:  cobra.NoArgs,
	RunE:  runSessionHeartbeat,
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate a session and release everything it holds",
	Args:  cobra.NoArgs,
	RunE:  runSessionStop,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with their liveness",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionAliveCmd = &cobra.Command{
	Use:   "alive [session-id]",
	Short: "Exit 0 if the session is alive, 1 otherwise",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionAlive,
}

var (
	sessionFlag string
	startPID    int
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionRunCmd)
	sessionCmd.AddCommand(sessionHeartbeatCmd)
	sessionCmd.AddCommand(sessionStopCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionAliveCmd)

	sessionStartCmd.Flags().IntVar(&startPID, "pid", 0, "owner process id (default: parent process)")
	for _, c := range []*cobra.Command{sessionHeartbeatCmd, sessionStopCmd} {
		c.Flags().StringVarP(&sessionFlag, "session", "s", "", "session id (default: $"+SessionEnv+")")
	}
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	pid := startPID
	if pid <= 0 {
		pid = os.Getppid()
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		id, err := hub.Sessions().Start(ctx)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, map[string]any{"session_id": id, "owner_pid": pid})
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}, coordination.WithProcess(pid, liveness.Hostname()))
}

func runSessionRun(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		id, err := hub.StartSession(ctx)
		if err != nil {
			return err
		}

		child := exec.CommandContext(ctx, args[0], args[1:]...)
		child.Env = append(os.Environ(), SessionEnv+"="+id)
		child.Stdin = cmd.InOrStdin()
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()
		// Give the child a chance to clean up on Ctrl-C before it is killed.
		child.Cancel = func() error { return child.Process.Signal(os.Interrupt) }
		child.WaitDelay = 10 * time.Second

		runErr := child.Run()
		endErr := hub.EndSession(context.WithoutCancel(ctx), id)

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Err: endErr}
		}
		if runErr != nil {
			return errors.Join(fmt.Errorf("failed to run %s: %w", args[0], runErr), endErr)
		}
		return endErr
	})
}

func runSessionHeartbeat(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		return hub.Sessions().Heartbeat(ctx, id)
	})
}

func runSessionStop(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if err := hub.Sessions().Terminate(ctx, id); err != nil {
			return err
		}
		if !jsonOutput() {
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s terminated\n", id)
		}
		return nil
	})
}

// sessionView is the JSON form of a listed session.
type sessionView struct {
	ID              string     `json:"session_id"`
	Status          string     `json:"status"`
	Alive           bool       `json:"alive"`
	OwnerPID        int        `json:"owner_pid"`
	Hostname        string     `json:"hostname,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	TerminatedAt    *time.Time `json:"terminated_at,omitempty"`
}

func runSessionList(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sessions, err := hub.Sessions().List(ctx)
		if err != nil {
			return err
		}
		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, sessionView{
				ID:              s.ID,
				Status:          string(s.Status),
				Alive:           hub.Sessions().Alive(s),
				OwnerPID:        s.OwnerPID,
				Hostname:        s.Hostname,
				CreatedAt:       s.CreatedAt,
				LastHeartbeatAt: s.LastHeartbeatAt,
				TerminatedAt:    s.TerminatedAt,
			})
		}
		if jsonOutput() {
			return printJSON(cmd, views)
		}

		out := cmd.OutOrStdout()
		if len(views) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		now := time.Now()
		fmt.Fprintf(out, "%-36s  %-10s  %-5s  %-8s  %s\n", "SESSION", "STATUS", "ALIVE", "PID", "HEARTBEAT")
		for _, v := range views {
			fmt.Fprintf(out, "%-36s  %-10s  %-5t  %-8d  %s ago\n",
				v.ID, v.Status, v.Alive, v.OwnerPID, now.Sub(v.LastHeartbeatAt).Truncate(time.Second))
		}
		return nil
	})
}

func runSessionAlive(cmd *cobra.Command, args []string) error {
	var flag string
	if len(args) == 1 {
		flag = args[0]
	}
	id, err := resolveSession(flag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		alive, err := hub.Sessions().IsAlive(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			if err := printJSON(cmd, map[string]any{"session_id": id, "alive": alive}); err != nil {
				return err
			}
		} else if alive {
			fmt.Fprintln(cmd.OutOrStdout(), "alive")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "not alive")
		}
		if !alive {
			return &ExitError{Code: 1}
		}
		return nil
	})
}

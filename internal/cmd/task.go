package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/claim"
	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/record"
	"github.com/Iron-Ham/roster/internal/taskqueue"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the shared backlog and task claims",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the backlog",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim [task-id]",
	Short: "Claim a task, or the next ready one",
	Long: `Claim the given task for the session. Without a task id, claim the
highest-priority backlog task whose dependencies are complete and that no
live session holds. Exits 2 when the task is held elsewhere or nothing is
available.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTaskClaim,
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Give up a task claim without completing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRelease,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a claimed task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backlog tasks with their claims",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskClaimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "List task claims",
	Args:  cobra.NoArgs,
	RunE:  runTaskClaims,
}

var (
	taskID          string
	taskDescription string
	taskDependsOn   []string
	taskPriority    int
	taskUnclaimed   bool
	claimWait       time.Duration
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskReleaseCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskClaimsCmd)

	taskAddCmd.Flags().StringVar(&taskID, "id", "", "task id (default: generated)")
	taskAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "longer description")
	taskAddCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "ids of tasks that must complete first")
	taskAddCmd.Flags().IntVarP(&taskPriority, "priority", "p", 0, "lower values are claimed first")

	for _, c := range []*cobra.Command{taskClaimCmd, taskReleaseCmd, taskDoneCmd} {
		c.Flags().StringVarP(&sessionFlag, "session", "s", "", "session id (default: $"+SessionEnv+")")
	}
	taskClaimCmd.Flags().DurationVarP(&claimWait, "wait", "w", 0, "with a task id, keep trying for up to this long")
	taskListCmd.Flags().BoolVarP(&taskUnclaimed, "unclaimed", "u", false, "only pending tasks no live session has claimed")
	taskClaimsCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include released claims")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		id, err := hub.Tasks().Backlog().Add(ctx, taskqueue.AddRequest{
			ID:          taskID,
			Title:       strings.Join(args, " "),
			Description: taskDescription,
			DependsOn:   taskDependsOn,
			Priority:    taskPriority,
		})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, map[string]string{"task_id": id})
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	})
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if len(args) == 1 {
			out, err := hub.Tasks().Claim(ctx, args[0], id)
			if err != nil {
				return err
			}
			if !out.Granted && claimWait > 0 {
				out, err = waitForGrant(ctx, hub, record.ClaimsPrefix+args[0], claimWait, out, func(ctx context.Context) (claim.Outcome, error) {
					return hub.Tasks().Claim(ctx, args[0], id)
				})
				if err != nil {
					return err
				}
			}
			return reportOutcome(cmd, "task", args[0], out)
		}

		task, err := hub.Tasks().ClaimNext(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			if jsonOutput() {
				_ = printJSON(cmd, map[string]any{"granted": false})
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks available")
			}
			return &ExitError{Code: exitDenied}
		}
		if jsonOutput() {
			return printJSON(cmd, task)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Claimed %s: %s\n", task.ID, task.Title)
		return nil
	})
}

func runTaskRelease(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if err := hub.Tasks().Release(ctx, args[0], id); err != nil {
			return err
		}
		if !jsonOutput() {
			fmt.Fprintf(cmd.OutOrStdout(), "Released task %s\n", args[0])
		}
		return nil
	})
}

func runTaskDone(cmd *cobra.Command, args []string) error {
	id, err := resolveSession(sessionFlag)
	if err != nil {
		return err
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if err := hub.Tasks().Complete(ctx, args[0], id); err != nil {
			return err
		}
		if !jsonOutput() {
			fmt.Fprintf(cmd.OutOrStdout(), "Completed task %s\n", args[0])
		}
		return nil
	})
}

// taskView is a backlog task with its claim state.
type taskView struct {
	*taskqueue.Task
	ClaimedBy string `json:"claimed_by,omitempty"`
	Live      bool   `json:"claim_live,omitempty"`
}

func runTaskList(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		var (
			tasks []*taskqueue.Task
			err   error
		)
		if taskUnclaimed {
			tasks, err = hub.Tasks().Pending(ctx)
		} else {
			tasks, err = hub.Tasks().Backlog().List(ctx)
		}
		if err != nil {
			return err
		}

		claims, err := hub.Tasks().Claims(ctx)
		if err != nil {
			return err
		}
		byTask := make(map[string]claim.Entry, len(claims))
		for _, c := range claims {
			if c.Held() {
				byTask[c.Name] = c
			}
		}

		views := make([]taskView, 0, len(tasks))
		for _, t := range tasks {
			v := taskView{Task: t}
			if c, ok := byTask[t.ID]; ok {
				v.ClaimedBy = c.Holder
				v.Live = c.Alive
			}
			views = append(views, v)
		}
		if jsonOutput() {
			return printJSON(cmd, views)
		}

		out := cmd.OutOrStdout()
		if len(views) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}
		fmt.Fprintf(out, "%-12s  %-10s  %-4s  %-10s  %s\n", "TASK", "STATUS", "PRI", "CLAIMED", "TITLE")
		for _, v := range views {
			claimed := "-"
			if v.ClaimedBy != "" {
				claimed = v.ClaimedBy
				if len(claimed) > 8 {
					claimed = claimed[:8]
				}
				if !v.Live {
					claimed += "?"
				}
			}
			fmt.Fprintf(out, "%-12s  %-10s  %-4d  %-10s  %s\n", v.ID, v.Status, v.Priority, claimed, v.Title)
		}

		st, err := hub.Tasks().Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d total, %d pending, %d claimed, %d blocked, %d completed\n",
			st.Total, st.Pending, st.Claimed, st.Blocked, st.Completed)
		return nil
	})
}

func runTaskClaims(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		entries, err := hub.Tasks().Claims(ctx)
		if err != nil {
			return err
		}
		return printEntries(cmd, "TASK", filterHeld(entries, listAll))
	})
}

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, run and manage agent tasks",
}

var (
	taskDescription string
	taskGroup       string
	taskPriority    string
	taskParent      int64
	taskWorkspace   string
	taskTimeout     int
	taskCriteria    string
	taskRun         bool

	listStatus string
	listGroup  string
	listParent int64
	listLimit  int
)

func init() {
	createCmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a pending task",
		Long: `Create a pending task. The description, when given, is the prompt sent
to the agent; otherwise the title is.

Examples:
  agentflow task create "Fix failing tests" --priority high --group ci
  agentflow task create "Summarize" --description "Summarize README.md" --run`,
		Args: cobra.ExactArgs(1),
		RunE: runTaskCreate,
	}
	createCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "task prompt")
	createCmd.Flags().StringVarP(&taskGroup, "group", "g", "", "group name")
	createCmd.Flags().StringVarP(&taskPriority, "priority", "p", "", "low, medium or high")
	createCmd.Flags().Int64Var(&taskParent, "parent", 0, "parent task id")
	createCmd.Flags().StringVarP(&taskWorkspace, "workspace", "w", "", "workspace directory")
	createCmd.Flags().IntVar(&taskTimeout, "timeout", 0, "timeout in seconds")
	createCmd.Flags().StringVar(&taskCriteria, "criteria", "", "completion criteria")
	createCmd.Flags().BoolVar(&taskRun, "run", false, "execute the task after creating it")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in execution order",
		Args:  cobra.NoArgs,
		RunE:  runTaskList,
	}
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "filter by status")
	listCmd.Flags().StringVarP(&listGroup, "group", "g", "", "filter by group")
	listCmd.Flags().Int64Var(&listParent, "parent", 0, "filter by parent task id")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "maximum tasks to show")

	taskCmd.AddCommand(
		createCmd,
		listCmd,
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a task",
			Args:  cobra.ExactArgs(1),
			RunE:  runTaskGet,
		},
		&cobra.Command{
			Use:   "execute <id>",
			Short: "Run a task and wait for its output",
			Args:  cobra.ExactArgs(1),
			RunE:  runTaskExecute,
		},
		&cobra.Command{
			Use:   "cancel <id>",
			Short: "Stop a running task",
			Args:  cobra.ExactArgs(1),
			RunE:  runTaskCancel,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a task that is not running",
			Args:  cobra.ExactArgs(1),
			RunE:  runTaskDelete,
		},
		&cobra.Command{
			Use:   "running",
			Short: "List running task ids",
			Args:  cobra.NoArgs,
			RunE:  runTaskRunning,
		},
	)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	req := &orchestrator.CreateRequest{
		Title:              args[0],
		Description:        taskDescription,
		GroupName:          taskGroup,
		WorkspaceDir:       taskWorkspace,
		TimeoutSeconds:     taskTimeout,
		CompletionCriteria: taskCriteria,
		CreatedBy:          "cli",
	}
	if taskPriority != "" {
		p, err := orchestrator.ParsePriority(taskPriority)
		if err != nil {
			return err
		}
		req.Priority = &p
	}
	if taskParent > 0 {
		req.ParentID = &taskParent
	}

	c := newClient()
	task, err := c.CreateTask(cmd.Context(), req)
	if err != nil {
		return err
	}
	if !taskRun {
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), task)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created task %d (%s)\n", task.ID, task.UUID)
		return nil
	}

	out, err := c.ExecuteTask(cmd.Context(), task.ID)
	return printOutput(cmd, out, err)
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	filter := orchestrator.ListFilter{
		Status:    orchestrator.TaskStatus(listStatus),
		GroupName: listGroup,
		Limit:     listLimit,
	}
	if listParent > 0 {
		filter.ParentID = &listParent
	}
	tasks, err := newClient().ListTasks(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
		return nil
	}
	writeTaskTable(cmd.OutOrStdout(), tasks)
	return nil
}

func writeTaskTable(w io.Writer, tasks []*orchestrator.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tGROUP\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.GroupName, t.Title)
	}
	_ = tw.Flush()
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	task, err := newClient().GetTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	printTask(cmd.OutOrStdout(), task)
	return nil
}

func printTask(w io.Writer, t *orchestrator.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", t.ID)
	fmt.Fprintf(tw, "UUID:\t%s\n", t.UUID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	fmt.Fprintf(tw, "Priority:\t%s\n", t.Priority)
	fmt.Fprintf(tw, "Group:\t%s\n", t.GroupName)
	if t.ParentID != nil {
		fmt.Fprintf(tw, "Parent:\t%d\n", *t.ParentID)
	}
	if t.WorkspaceDir != "" {
		fmt.Fprintf(tw, "Workspace:\t%s\n", t.WorkspaceDir)
	}
	fmt.Fprintf(tw, "Created:\t%s\n", t.CreatedAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if t.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", t.Error)
	}
	_ = tw.Flush()
	if t.Result != "" {
		fmt.Fprintf(w, "\n%s\n", t.Result)
	}
}

func runTaskExecute(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	out, err := newClient().ExecuteTask(cmd.Context(), id)
	return printOutput(cmd, out, err)
}

// printOutput shows an execution result. The agent's stdout goes to stdout
// and everything else to stderr, so output can be piped.
func printOutput(cmd *cobra.Command, out *orchestrator.Output, execErr error) error {
	if out == nil {
		return execErr
	}
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return execErr
	}

	fmt.Fprint(cmd.OutOrStdout(), out.Stdout)
	stderr := cmd.ErrOrStderr()
	if out.Stderr != "" {
		fmt.Fprint(stderr, out.Stderr)
	}
	fmt.Fprintf(stderr, "[agentflow] task %d %s (exit %d, %s)\n",
		out.TaskID, out.Status, out.ExitCode, out.Duration.Round(time.Millisecond))
	if execErr != nil {
		return execErr
	}
	if out.Status != orchestrator.StatusCompleted {
		return errors.New(out.Error)
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	task, err := newClient().CancelTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %d (%s)\n", task.ID, task.Status)
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := newClient().DeleteTask(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", id)
	return nil
}

func runTaskRunning(cmd *cobra.Command, _ []string) error {
	r, err := newClient().RunningTasks(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), r)
	}
	if r.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No running tasks")
		return nil
	}
	for _, id := range r.TaskIDs {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

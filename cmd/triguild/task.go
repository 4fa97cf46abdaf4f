package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/task"
)

var (
	taskCmd = app.Command("task", "Task ledger commands")

	taskCreateCmd   = taskCmd.Command("create", "Create a task")
	taskCreateType  = taskCreateCmd.Flag("type", "Task type").Short('t').Default(string(task.TypeReview)).String()
	taskCreateAgent = taskCreateCmd.Flag("agent", "Assigned agent").Short('a').Default("claude").String()
	taskCreateDesc  = taskCreateCmd.Arg("description", "Task description").Required().String()

	taskListCmd    = taskCmd.Command("list", "List tasks").Alias("ls")
	taskListStatus = taskListCmd.Flag("status", "Filter by status").String()
	taskListAgent  = taskListCmd.Flag("agent", "Filter by agent").String()
	taskListType   = taskListCmd.Flag("type", "Filter by type").String()
	taskListLimit  = taskListCmd.Flag("limit", "Maximum tasks to show").Default("20").Int()
	taskListOffset = taskListCmd.Flag("offset", "Tasks to skip").Int()

	taskShowCmd = taskCmd.Command("show", "Show a task")
	taskShowID  = taskShowCmd.Arg("id", "Task ID").Required().String()

	taskUpdateCmd    = taskCmd.Command("update", "Change a task's status")
	taskUpdateID     = taskUpdateCmd.Arg("id", "Task ID").Required().String()
	taskUpdateStatus = taskUpdateCmd.Arg("status", "New status").Required().Enum(statusNames()...)
	taskUpdateError  = taskUpdateCmd.Flag("error", "Error message for failed tasks").String()

	taskCancelCmd = taskCmd.Command("cancel", "Cancel a task")
	taskCancelID  = taskCancelCmd.Arg("id", "Task ID").Required().String()

	taskResultCmd    = taskCmd.Command("result", "Record a task result")
	taskResultID     = taskResultCmd.Arg("id", "Task ID").Required().String()
	taskResultOutput = taskResultCmd.Arg("output", "Result text").Required().String()
	taskResultCost   = taskResultCmd.Flag("cost", "Actual cost in USD").Float64()
	taskResultTokens = taskResultCmd.Flag("tokens", "Tokens used").Int()

	taskMetricsCmd = taskCmd.Command("metrics", "Show task metrics")

	taskPruneCmd    = taskCmd.Command("prune", "Remove finished tasks created before a day")
	taskPruneBefore = taskPruneCmd.Arg("before", "Day (YYYY-MM-DD)").Required().String()
)

func statusNames() []string {
	var names []string
	for _, s := range task.Statuses() {
		names = append(names, string(s))
	}
	return names
}

func init() {
	remoteHandlers[taskCreateCmd.FullCommand()] = runTaskCreate
	remoteHandlers[taskListCmd.FullCommand()] = runTaskList
	remoteHandlers[taskShowCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printTask(c.GetTask(ctx, *taskShowID))
	}
	remoteHandlers[taskUpdateCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printTask(c.UpdateTaskStatus(ctx, *taskUpdateID, task.Status(*taskUpdateStatus), *taskUpdateError))
	}
	remoteHandlers[taskCancelCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printTask(c.CancelTask(ctx, *taskCancelID))
	}
	remoteHandlers[taskResultCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printTask(c.RecordTaskResult(ctx, *taskResultID, *taskResultOutput, *taskResultCost, *taskResultTokens))
	}
	remoteHandlers[taskMetricsCmd.FullCommand()] = runTaskMetrics
	remoteHandlers[taskPruneCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		ids, err := c.PruneTasks(ctx, *taskPruneBefore)
		if err != nil {
			return err
		}
		if ok, err := printJSON(ids); ok {
			return err
		}
		fmt.Printf("Pruned %d task(s)\n", len(ids))
		return nil
	}
}

func runTaskCreate(ctx context.Context, c *client.Client) error {
	typ, err := task.ParseType(*taskCreateType)
	if err != nil {
		return err
	}
	return printTask(c.CreateTask(ctx, &task.CreateRequest{
		Type:        typ,
		Description: *taskCreateDesc,
		Agent:       *taskCreateAgent,
	}))
}

func runTaskList(ctx context.Context, c *client.Client) error {
	f := task.Filter{Agent: *taskListAgent}
	if *taskListStatus != "" {
		s, err := task.ParseStatus(*taskListStatus)
		if err != nil {
			return err
		}
		f.Status = s
	}
	if *taskListType != "" {
		t, err := task.ParseType(*taskListType)
		if err != nil {
			return err
		}
		f.Type = t
	}
	tasks, total, err := c.ListTasks(ctx, f, *taskListLimit, *taskListOffset)
	if err != nil {
		return err
	}
	if ok, err := printJSON(tasks); ok {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAGENT\tSTATUS\tEST\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Agent, t.Status, usd(t.EstimatedCost), oneLine(t.Description, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(tasks) {
		fmt.Printf("Showing %d of %d\n", len(tasks), total)
	}
	return nil
}

func runTaskMetrics(ctx context.Context, c *client.Client) error {
	m, err := c.TaskMetrics(ctx)
	if err != nil {
		return err
	}
	if ok, err := printJSON(m); ok {
		return err
	}
	fmt.Printf("Total tasks:    %d\n", m.Total)
	for _, s := range task.Statuses() {
		if n := m.ByStatus[s]; n > 0 {
			fmt.Printf("  %-16s %d\n", s, n)
		}
	}
	for a, n := range m.ByAgent {
		fmt.Printf("  agent %-10s %d\n", a, n)
	}
	fmt.Printf("Estimated cost: %s\n", cost.FormatUSD(m.EstimatedCost))
	fmt.Printf("Actual cost:    %s\n", cost.FormatUSD(m.ActualCost))
	fmt.Printf("Tokens:         %d\n", m.Tokens)
	return nil
}

func printTask(t *task.Task, err error) error {
	if err != nil {
		return err
	}
	if ok, err := printJSON(t); ok {
		return err
	}
	fmt.Printf("%s [%s] %s\n", t.ID, t.Status, t.Description)
	fmt.Printf("  type: %s  agent: %s  estimated: %s  actual: %s\n", t.Type, t.Agent, usd(t.EstimatedCost), usd(t.ActualCost))
	if t.Command != "" {
		fmt.Printf("  command: %s\n", t.Command)
	}
	if d := t.Duration(); d > 0 {
		fmt.Printf("  duration: %s\n", d)
	}
	if t.Error != "" {
		fmt.Printf("  error: %s\n", t.Error)
	}
	if t.Output != "" {
		fmt.Printf("\n%s\n", t.Output)
	}
	return nil
}

func usd(v *float64) string {
	if v == nil {
		return "-"
	}
	return cost.FormatUSD(*v)
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r = r[:i]
			break
		}
	}
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}

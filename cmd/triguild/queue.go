package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/queue"
)

var (
	queueCmd = app.Command("queue", "Priority queue commands").Alias("q")

	queueAddCmd      = queueCmd.Command("add", "Queue a task")
	queueAddDesc     = queueAddCmd.Arg("description", "Task description").Required().String()
	queueAddPriority = queueAddCmd.Flag("priority", "P0..P3, CRITICAL..LOW").Short('p').Default("P2").String()
	queueAddCategory = queueAddCmd.Flag("category", "Task category").Short('c').Default(string(queue.CategoryOther)).String()
	queueAddAgent    = queueAddCmd.Flag("agent", "Run on this agent").Short('a').String()
	queueAddTags     = queueAddCmd.Flag("tag", "Tag (repeatable)").Strings()
	queueAddRetries  = queueAddCmd.Flag("max-retries", "Retry limit").Int()

	queueListCmd      = queueCmd.Command("list", "List queued tasks").Alias("ls").Default()
	queueListStatus   = queueListCmd.Flag("status", "Filter by status").String()
	queueListCategory = queueListCmd.Flag("category", "Filter by category").String()
	queueListPriority = queueListCmd.Flag("priority", "Filter by priority").String()
	queueListLimit    = queueListCmd.Flag("limit", "Maximum tasks to show").Default("50").Int()

	queueShowCmd = queueCmd.Command("show", "Show a queued task")
	queueShowID  = queueShowCmd.Arg("id", "Queue task ID").Required().String()

	queueDeleteCmd = queueCmd.Command("delete", "Delete a queued task").Alias("rm")
	queueDeleteID  = queueDeleteCmd.Arg("id", "Queue task ID").Required().String()

	queueCompleteCmd    = queueCmd.Command("complete", "Mark a queued task completed")
	queueCompleteID     = queueCompleteCmd.Arg("id", "Queue task ID").Required().String()
	queueCompleteResult = queueCompleteCmd.Arg("result", "Result text").String()

	queueFailCmd   = queueCmd.Command("fail", "Mark a queued task failed")
	queueFailID    = queueFailCmd.Arg("id", "Queue task ID").Required().String()
	queueFailError = queueFailCmd.Arg("error", "Error message").Required().String()

	queueRetryCmd = queueCmd.Command("retry", "Requeue a failed task")
	queueRetryID  = queueRetryCmd.Arg("id", "Queue task ID").Required().String()

	queuePriorityCmd   = queueCmd.Command("priority", "Change a task's priority")
	queuePriorityID    = queuePriorityCmd.Arg("id", "Queue task ID").Required().String()
	queuePriorityValue = queuePriorityCmd.Arg("priority", "New priority").Required().String()

	queueHistoryCmd = queueCmd.Command("history", "Show a task's history")
	queueHistoryID  = queueHistoryCmd.Arg("id", "Queue task ID").Required().String()

	queueStatsCmd = queueCmd.Command("stats", "Show queue statistics")
	queueBoostCmd = queueCmd.Command("boost", "Apply age-based priority boosts now")
	queueBatchCmd = queueCmd.Command("batch", "Group the next pending tasks into one prompt")

	queueImportResultsCmd  = queueCmd.Command("import-results", "Complete tasks from a batch answer")
	queueImportResultsFile = queueImportResultsCmd.Arg("file", "Answer file; stdin when omitted").String()

	queueImportTasksCmd      = queueCmd.Command("import-tasks", "Queue tasks from an exported task list")
	queueImportTasksFile     = queueImportTasksCmd.Arg("file", "Task list file; stdin when omitted").String()
	queueImportTasksCategory = queueImportTasksCmd.Flag("category", "Category for imported tasks").String()
)

func init() {
	remoteHandlers[queueAddCmd.FullCommand()] = runQueueAdd
	remoteHandlers[queueListCmd.FullCommand()] = runQueueList
	remoteHandlers[queueShowCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printQueueTask(c.GetQueueTask(ctx, *queueShowID))
	}
	remoteHandlers[queueDeleteCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		if err := c.DeleteQueueTask(ctx, *queueDeleteID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", *queueDeleteID)
		return nil
	}
	remoteHandlers[queueCompleteCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printQueueTask(c.CompleteQueueTask(ctx, *queueCompleteID, *queueCompleteResult))
	}
	remoteHandlers[queueFailCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printQueueTask(c.FailQueueTask(ctx, *queueFailID, *queueFailError))
	}
	remoteHandlers[queueRetryCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return printQueueTask(c.RetryQueueTask(ctx, *queueRetryID))
	}
	remoteHandlers[queuePriorityCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		p, err := queue.ParsePriority(*queuePriorityValue)
		if err != nil {
			return err
		}
		return printQueueTask(c.SetPriority(ctx, *queuePriorityID, p))
	}
	remoteHandlers[queueHistoryCmd.FullCommand()] = runQueueHistory
	remoteHandlers[queueStatsCmd.FullCommand()] = runQueueStats
	remoteHandlers[queueBoostCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		n, err := c.BoostQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Boosted %d task(s)\n", n)
		return nil
	}
	remoteHandlers[queueBatchCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		res, err := c.NextBatch(ctx)
		if err != nil {
			return err
		}
		if ok, err := printJSON(res); ok {
			return err
		}
		fmt.Fprintf(os.Stderr, "Batch %s: %d %s task(s) at %s\n", res.Batch.ID, len(res.Batch.Tasks), res.Batch.Category, res.Batch.Priority)
		fmt.Println(res.Prompt)
		return nil
	}
	remoteHandlers[queueImportResultsCmd.FullCommand()] = runQueueImportResults
	remoteHandlers[queueImportTasksCmd.FullCommand()] = runQueueImportTasks
}

func runQueueAdd(ctx context.Context, c *client.Client) error {
	p, err := queue.ParsePriority(*queueAddPriority)
	if err != nil {
		return err
	}
	cat, err := queue.ParseCategory(*queueAddCategory)
	if err != nil {
		return err
	}
	return printQueueTask(c.AddQueueTask(ctx, &api.AddQueueTaskRequest{
		Description: *queueAddDesc,
		Priority:    p,
		Category:    cat,
		Agent:       *queueAddAgent,
		Tags:        *queueAddTags,
		MaxRetries:  *queueAddRetries,
	}))
}

func runQueueList(ctx context.Context, c *client.Client) error {
	req := &api.ListQueueRequest{Limit: *queueListLimit}
	if *queueListStatus != "" {
		s, err := queue.ParseStatus(*queueListStatus)
		if err != nil {
			return err
		}
		req.Status = s
	}
	if *queueListCategory != "" {
		cat, err := queue.ParseCategory(*queueListCategory)
		if err != nil {
			return err
		}
		req.Category = cat
	}
	if *queueListPriority != "" {
		p, err := queue.ParsePriority(*queueListPriority)
		if err != nil {
			return err
		}
		req.Priority = &p
	}
	tasks, err := c.ListQueue(ctx, req)
	if err != nil {
		return err
	}
	if ok, err := printJSON(tasks); ok {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tCATEGORY\tSTATUS\tAGE\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Priority, t.Category, t.Status,
			t.Age(now).Truncate(time.Minute), oneLine(t.Description, 60))
	}
	return w.Flush()
}

func runQueueHistory(ctx context.Context, c *client.Client) error {
	history, err := c.QueueHistory(ctx, *queueHistoryID)
	if err != nil {
		return err
	}
	if ok, err := printJSON(history); ok {
		return err
	}
	for _, h := range history {
		fmt.Printf("%s  %-10s %s -> %s\n", h.Timestamp.Format(time.DateTime), h.Action, h.OldValue, h.NewValue)
	}
	return nil
}

func runQueueStats(ctx context.Context, c *client.Client) error {
	st, err := c.QueueStats(ctx)
	if err != nil {
		return err
	}
	if ok, err := printJSON(st); ok {
		return err
	}
	fmt.Printf("Queue size:      %d\n", st.QueueSize)
	for s, n := range st.ByStatus {
		fmt.Printf("  %-14s %d\n", s, n)
	}
	fmt.Println("Pending by priority:")
	for p := queue.P0Critical; p <= queue.P3Low; p++ {
		fmt.Printf("  %-14s %d\n", p, st.PendingByPriority[p])
	}
	fmt.Printf("Boosted:         %d\n", st.Boosted)
	fmt.Printf("Average wait:    %s\n", st.AvgWait.Truncate(time.Second))
	fmt.Printf("Oldest pending:  %s\n", st.OldestPendingAge.Truncate(time.Second))
	return nil
}

func runQueueImportResults(ctx context.Context, c *client.Client) error {
	text, err := readAll(*queueImportResultsFile)
	if err != nil {
		return err
	}
	rep, err := c.ImportResults(ctx, text)
	if err != nil {
		return err
	}
	if ok, err := printJSON(rep); ok {
		return err
	}
	fmt.Printf("Completed %d task(s)\n", len(rep.Completed))
	if len(rep.Unknown) > 0 {
		fmt.Printf("Unknown IDs: %s\n", strings.Join(rep.Unknown, ", "))
	}
	if len(rep.Skipped) > 0 {
		fmt.Printf("Skipped: %s\n", strings.Join(rep.Skipped, ", "))
	}
	return nil
}

func runQueueImportTasks(ctx context.Context, c *client.Client) error {
	text, err := readAll(*queueImportTasksFile)
	if err != nil {
		return err
	}
	var cat queue.Category
	if *queueImportTasksCategory != "" {
		if cat, err = queue.ParseCategory(*queueImportTasksCategory); err != nil {
			return err
		}
	}
	tasks, err := c.ImportTasks(ctx, text, cat)
	if err != nil {
		return err
	}
	if ok, err := printJSON(tasks); ok {
		return err
	}
	fmt.Printf("Queued %d task(s)\n", len(tasks))
	return nil
}

func printQueueTask(t *queue.Task, err error) error {
	if err != nil {
		return err
	}
	if ok, err := printJSON(t); ok {
		return err
	}
	fmt.Printf("%s [%s] %s %s\n", t.ID, t.Status, t.Priority, t.Description)
	fmt.Printf("  category: %s  retries: %d/%d  boosts: %d\n", t.Category, t.RetryCount, t.MaxRetries, t.BoostCount)
	if t.Agent != "" {
		fmt.Printf("  agent: %s\n", t.Agent)
	}
	if t.LedgerID != "" {
		fmt.Printf("  ledger task: %s\n", t.LedgerID)
	}
	if t.Error != "" {
		fmt.Printf("  error: %s\n", t.Error)
	}
	if t.Result != "" {
		fmt.Printf("\n%s\n", t.Result)
	}
	return nil
}

func readAll(file string) (string, error) {
	if file == "" || file == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	return string(data), nil
}

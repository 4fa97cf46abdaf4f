package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/statusbar"
	"github.com/kazz187/triguild/pkg/color"
)

var (
	agentCmd     = app.Command("agent", "Agent availability commands")
	agentListCmd = agentCmd.Command("list", "List agents and their status").Default()

	agentAcquireCmd  = agentCmd.Command("acquire", "Mark an agent busy")
	agentAcquireKind = agentAcquireCmd.Arg("agent", "Agent").Required().Enum(kindNames()...)
	agentAcquireTask = agentAcquireCmd.Arg("task", "Task ID").Required().String()

	agentReleaseCmd  = agentCmd.Command("release", "Mark an agent idle")
	agentReleaseKind = agentReleaseCmd.Arg("agent", "Agent").Required().Enum(kindNames()...)
	agentReleaseTask = agentReleaseCmd.Arg("task", "Task ID").String()

	costCmd     = app.Command("cost", "Daily cost commands")
	costShowCmd = costCmd.Command("show", "Show today's spend").Default()

	costAddCmd    = costCmd.Command("add", "Record spend")
	costAddAmount = costAddCmd.Arg("amount", "Amount in USD").Required().Float64()
	costAddTask   = costAddCmd.Flag("task", "Task the spend belongs to").String()

	statusCmd      = app.Command("status", "Print the one-line status")
	statusNoColor  = statusCmd.Flag("no-color", "Disable colour").Bool()
	statusInterval = statusCmd.Flag("watch", "Refresh at this interval").Duration()
)

func kindNames() []string {
	var names []string
	for _, k := range agent.Kinds {
		names = append(names, string(k))
	}
	return names
}

func init() {
	remoteHandlers[agentListCmd.FullCommand()] = runAgentList
	remoteHandlers[agentAcquireCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return c.AcquireAgent(ctx, agent.Kind(*agentAcquireKind), *agentAcquireTask)
	}
	remoteHandlers[agentReleaseCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return c.ReleaseAgent(ctx, agent.Kind(*agentReleaseKind), *agentReleaseTask)
	}
	remoteHandlers[costShowCmd.FullCommand()] = runCostShow
	remoteHandlers[costAddCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		total, err := c.AddCost(ctx, *costAddTask, *costAddAmount)
		if err != nil {
			return err
		}
		fmt.Printf("Today's total: %s\n", cost.FormatUSD(total))
		return nil
	}
	remoteHandlers[statusCmd.FullCommand()] = runStatus
}

func runAgentList(ctx context.Context, c *client.Client) error {
	res, err := c.ListAgents(ctx)
	if err != nil {
		return err
	}
	if ok, err := printJSON(res); ok {
		return err
	}
	enabled := color.Enabled()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tTASK\tSINCE")
	for _, a := range res.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			color.Paint(color.Agent(string(a.Kind)), enabled, string(a.Kind)),
			a.Status, a.TaskID, a.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func runCostShow(ctx context.Context, c *client.Client) error {
	s, err := c.CostSummary(ctx)
	if err != nil {
		return err
	}
	if ok, err := printJSON(s); ok {
		return err
	}
	fmt.Printf("Date:   %s\n", s.Date)
	fmt.Printf("Total:  %s\n", cost.FormatUSD(s.Total))
	if s.Budget > 0 {
		fmt.Printf("Budget: %s\n", cost.FormatUSD(s.Budget))
	}
	if s.OverBudget {
		fmt.Println("Daily budget exceeded")
	}
	return nil
}

func runStatus(ctx context.Context, c *client.Client) error {
	colored := !*statusNoColor && color.Enabled()
	for {
		snap, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if ok, err := printJSON(snap); ok {
			return err
		}
		line := statusbar.Render(*snap, colored)
		if *statusInterval <= 0 {
			fmt.Println(line)
			return nil
		}
		fmt.Printf("\r\033[K%s", line)
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-time.After(*statusInterval):
		}
	}
}

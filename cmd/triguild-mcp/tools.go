package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/client"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/consensus"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/statusbar"
	"github.com/kazz187/triguild/internal/task"
)

const instructions = `Tools for the triguild daemon, which routes work to the claude, codex and gemini agents.
Workflow: 1) triguild_status to see which agents are busy and today's spend, 2) triguild_run_command
to run a named command, 3) triguild_list_tasks / triguild_get_task to follow the ledger,
4) triguild_verify to let the two other agents vote on a change.`

type toolServer struct {
	c *client.Client
}

// NewServer builds the MCP server with every triguild tool registered.
func NewServer(c *client.Client) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "triguild-mcp", Title: "triguild MCP Server", Version: version},
		&mcp.ServerOptions{Instructions: instructions},
	)
	s := &toolServer{c: c}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_status",
		Description: "Show agent availability, active tasks and today's cost against the budget.",
	}, s.handleStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_list_tasks",
		Description: "List ledger tasks, optionally filtered by status, agent or type.",
	}, s.handleListTasks)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_get_task",
		Description: "Get one ledger task by its TASK-nnn id.",
	}, s.handleGetTask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_create_task",
		Description: "Create a pending ledger task with a cost estimate.",
	}, s.handleCreateTask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_update_task_status",
		Description: "Move a ledger task to a new status. Invalid transitions are rejected.",
	}, s.handleUpdateTaskStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_list_commands",
		Description: "List the named commands that can be run.",
	}, s.handleListCommands)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_run_command",
		Description: "Run a named command on the given text and return the agent output.",
	}, s.handleRunCommand)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_queue_add",
		Description: "Add a task to the priority queue.",
	}, s.handleQueueAdd)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_queue_list",
		Description: "List queued tasks, highest priority first.",
	}, s.handleQueueList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_queue_complete",
		Description: "Mark a queued task completed with its result.",
	}, s.handleQueueComplete)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_verify",
		Description: "Ask the two agents that did not implement a change to vote on it. Two matching votes decide.",
	}, s.handleVerify)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_consensus_report",
		Description: "Render the report of a consensus session as text, markdown or json.",
	}, s.handleConsensusReport)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "triguild_cost_summary",
		Description: "Show today's spend against the daily budget.",
	}, s.handleCostSummary)

	return server
}

type EmptyArgs struct{}

type StatusResult struct {
	Line     string              `json:"line"`
	Snapshot *statusbar.Snapshot `json:"snapshot"`
}

func (s *toolServer) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, any, error) {
	snap, err := s.c.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, StatusResult{Line: statusbar.Render(*snap, false), Snapshot: snap}, nil
}

type ListTasksArgs struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status: pending, in_progress, ready_for_verify, verified, completed, failed or cancelled"`
	Agent  string `json:"agent,omitempty" jsonschema:"Filter by agent: claude, codex, gemini or multi"`
	Type   string `json:"type,omitempty" jsonschema:"Filter by task type, e.g. review or security"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of tasks (default 50)"`
	Offset int    `json:"offset,omitempty" jsonschema:"Number of tasks to skip"`
}

type ListTasksResult struct {
	Tasks []*task.Task `json:"tasks"`
	Total int          `json:"total"`
}

func (s *toolServer) handleListTasks(ctx context.Context, _ *mcp.CallToolRequest, args ListTasksArgs) (*mcp.CallToolResult, any, error) {
	var f task.Filter
	if args.Status != "" {
		st, err := task.ParseStatus(args.Status)
		if err != nil {
			return nil, nil, err
		}
		f.Status = st
	}
	if args.Type != "" {
		tp, err := task.ParseType(args.Type)
		if err != nil {
			return nil, nil, err
		}
		f.Type = tp
	}
	f.Agent = args.Agent
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	tasks, total, err := s.c.ListTasks(ctx, f, limit, args.Offset)
	if err != nil {
		return nil, nil, err
	}
	return nil, ListTasksResult{Tasks: tasks, Total: total}, nil
}

type GetTaskArgs struct {
	ID string `json:"id" jsonschema:"Task id, e.g. TASK-001"`
}

func (s *toolServer) handleGetTask(ctx context.Context, _ *mcp.CallToolRequest, args GetTaskArgs) (*mcp.CallToolResult, any, error) {
	t, err := s.c.GetTask(ctx, args.ID)
	if err != nil {
		return nil, nil, err
	}
	return nil, t, nil
}

type CreateTaskArgs struct {
	Type        string `json:"type" jsonschema:"Task type: review, security, testing, refactor, documentation, architecture, debug or multi"`
	Description string `json:"description" jsonschema:"What the task is about"`
	Agent       string `json:"agent" jsonschema:"Agent to route to: claude, codex, gemini or multi"`
	Input       string `json:"input,omitempty" jsonschema:"Text sent to the agent, used for the cost estimate"`
}

func (s *toolServer) handleCreateTask(ctx context.Context, _ *mcp.CallToolRequest, args CreateTaskArgs) (*mcp.CallToolResult, any, error) {
	tp, err := task.ParseType(args.Type)
	if err != nil {
		return nil, nil, err
	}
	kind, err := agent.ParseKind(args.Agent)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.c.CreateTask(ctx, &task.CreateRequest{
		Type:        tp,
		Description: args.Description,
		Agent:       string(kind),
		Input:       args.Input,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, t, nil
}

type UpdateTaskStatusArgs struct {
	ID     string `json:"id" jsonschema:"Task id, e.g. TASK-001"`
	Status string `json:"status" jsonschema:"New status"`
	Error  string `json:"error,omitempty" jsonschema:"Error message when the status is failed"`
}

func (s *toolServer) handleUpdateTaskStatus(ctx context.Context, _ *mcp.CallToolRequest, args UpdateTaskStatusArgs) (*mcp.CallToolResult, any, error) {
	st, err := task.ParseStatus(args.Status)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.c.UpdateTaskStatus(ctx, args.ID, st, args.Error)
	if err != nil {
		return nil, nil, err
	}
	return nil, t, nil
}

type CommandSummary struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type ListCommandsResult struct {
	Commands []CommandSummary `json:"commands"`
}

func (s *toolServer) handleListCommands(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, any, error) {
	cmds, err := s.c.ListCommands(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := ListCommandsResult{Commands: make([]CommandSummary, 0, len(cmds))}
	for _, c := range cmds {
		out.Commands = append(out.Commands, CommandSummary{Name: c.Name, Title: c.Title, Type: string(c.Type), Agent: string(c.Agent)})
	}
	return nil, out, nil
}

type RunCommandArgs struct {
	Name      string `json:"name" jsonschema:"Command name, see triguild_list_commands"`
	Text      string `json:"text" jsonschema:"Input text for the command"`
	File      string `json:"file,omitempty" jsonschema:"Path of the file the text came from"`
	Selection string `json:"selection,omitempty" jsonschema:"Selected part of the text; used instead of text when set"`
}

type RunCommandResult struct {
	TaskID string  `json:"task_id"`
	Text   string  `json:"text"`
	Cost   float64 `json:"cost"`
	Tokens int     `json:"tokens"`
}

func (s *toolServer) handleRunCommand(ctx context.Context, _ *mcp.CallToolRequest, args RunCommandArgs) (*mcp.CallToolResult, any, error) {
	out, err := s.c.RunCommand(ctx, args.Name, command.Input{Text: args.Text, File: args.File, Selection: args.Selection})
	if err != nil {
		return nil, nil, err
	}
	res := RunCommandResult{Text: out.Text, Cost: out.Cost, Tokens: out.Tokens}
	if out.Task != nil {
		res.TaskID = out.Task.ID
	}
	return nil, res, nil
}

type QueueAddArgs struct {
	Description string   `json:"description" jsonschema:"What needs to be done"`
	Priority    string   `json:"priority,omitempty" jsonschema:"P0 (critical) to P3 (low), default P2"`
	Category    string   `json:"category,omitempty" jsonschema:"Category such as security, backend or bugfix"`
	Agent       string   `json:"agent,omitempty" jsonschema:"Preferred agent"`
	Tags        []string `json:"tags,omitempty" jsonschema:"Free-form tags"`
}

func (s *toolServer) handleQueueAdd(ctx context.Context, _ *mcp.CallToolRequest, args QueueAddArgs) (*mcp.CallToolResult, any, error) {
	p := queue.P2Medium
	if args.Priority != "" {
		var err error
		if p, err = queue.ParsePriority(args.Priority); err != nil {
			return nil, nil, err
		}
	}
	cat, err := queue.ParseCategory(args.Category)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.c.AddQueueTask(ctx, &api.AddQueueTaskRequest{
		Description: args.Description,
		Priority:    p,
		Category:    cat,
		Agent:       args.Agent,
		Tags:        args.Tags,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, t, nil
}

type QueueListArgs struct {
	Status   string `json:"status,omitempty" jsonschema:"pending, running, completed, failed or blocked"`
	Category string `json:"category,omitempty" jsonschema:"Filter by category"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of tasks"`
}

type QueueListResult struct {
	Tasks []*queue.Task `json:"tasks"`
}

func (s *toolServer) handleQueueList(ctx context.Context, _ *mcp.CallToolRequest, args QueueListArgs) (*mcp.CallToolResult, any, error) {
	req := &api.ListQueueRequest{Limit: args.Limit}
	if args.Status != "" {
		st, err := queue.ParseStatus(args.Status)
		if err != nil {
			return nil, nil, err
		}
		req.Status = st
	}
	if args.Category != "" {
		cat, err := queue.ParseCategory(args.Category)
		if err != nil {
			return nil, nil, err
		}
		req.Category = cat
	}
	tasks, err := s.c.ListQueue(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return nil, QueueListResult{Tasks: tasks}, nil
}

type QueueCompleteArgs struct {
	ID     string `json:"id" jsonschema:"Queue task id"`
	Result string `json:"result,omitempty" jsonschema:"Outcome of the work"`
}

func (s *toolServer) handleQueueComplete(ctx context.Context, _ *mcp.CallToolRequest, args QueueCompleteArgs) (*mcp.CallToolResult, any, error) {
	t, err := s.c.CompleteQueueTask(ctx, args.ID, args.Result)
	if err != nil {
		return nil, nil, err
	}
	return nil, t, nil
}

type VerifyArgs struct {
	TaskID           string `json:"task_id" jsonschema:"Ledger task the change belongs to"`
	Implementer      string `json:"implementer" jsonschema:"Agent that made the change: claude, codex or gemini"`
	Description      string `json:"description,omitempty" jsonschema:"Short description of the change"`
	Scope            string `json:"scope,omitempty" jsonschema:"Files or area to review"`
	ExpectedBehavior string `json:"expected_behavior,omitempty" jsonschema:"What the change should do"`
	ReproSteps       string `json:"repro_steps,omitempty" jsonschema:"How to reproduce or check it"`
}

func (s *toolServer) handleVerify(ctx context.Context, _ *mcp.CallToolRequest, args VerifyArgs) (*mcp.CallToolResult, any, error) {
	kind, err := agent.ParseKind(args.Implementer)
	if err != nil {
		return nil, nil, err
	}
	req := &api.VerifyRequest{
		TaskID:      args.TaskID,
		Description: args.Description,
		Implementer: kind,
		Scope:       args.Scope,
	}
	if args.ExpectedBehavior != "" || args.ReproSteps != "" {
		req.Request = &consensus.Request{
			Scope:            args.Scope,
			ChangeSummary:    args.Description,
			ExpectedBehavior: args.ExpectedBehavior,
			ReproSteps:       args.ReproSteps,
		}
	}
	out, err := s.c.Verify(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

type ConsensusReportArgs struct {
	ID     string `json:"id" jsonschema:"Consensus session id"`
	Format string `json:"format,omitempty" jsonschema:"text, markdown or json (default markdown)"`
}

func (s *toolServer) handleConsensusReport(ctx context.Context, _ *mcp.CallToolRequest, args ConsensusReportArgs) (*mcp.CallToolResult, any, error) {
	format := consensus.FormatMarkdown
	if args.Format != "" {
		var err error
		if format, err = consensus.ParseFormat(args.Format); err != nil {
			return nil, nil, err
		}
	}
	rep, err := s.c.ConsensusReport(ctx, args.ID, format)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: rep}}}, nil, nil
}

func (s *toolServer) handleCostSummary(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, any, error) {
	sum, err := s.c.CostSummary(ctx)
	if err != nil {
		return nil, nil, err
	}
	text := fmt.Sprintf("%s: $%.2f of $%.2f", sum.Date, sum.Total, sum.Budget)
	if sum.OverBudget {
		text += " (over budget)"
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, sum, nil
}
